package extract

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Track variables. They feed the geometry and are never copied into properties.
const (
	LonVariable  = "lon"
	LatVariable  = "lat"
	TimeVariable = "time"
)

// DefaultVariables lists the variables extracted when none are configured.
var DefaultVariables = []string{
	"time", "lon", "lat", "surface_type", "range_numval_ku", "range_rms_ku",
	"range_ku", "rad_wet_tropo_corr", "iono_corr_alt_ku", "sig0_ku",
	"wind_speed_alt", "off_nadir_angle_wf_ku", "sig0_numval_ku", "sig0_rms_ku",
}

// DefaultSurfaceTypes maps surface_type codes to their descriptions.
var DefaultSurfaceTypes = map[int]string{
	0: "open oceans or semi-enclosed seas",
	1: "enclosed seas or lakes",
	2: "continental ice",
	3: "land. See Jason-1 User Handbook",
}

// ErrMissingTrack is returned when a payload has no lon/lat variables.
var ErrMissingTrack = errors.New("payload has no lon/lat track")

// Variable is one named array of a dataset.
type Variable struct {
	Values     any
	Attributes map[string]any
}

// Dataset is an opened payload.
type Dataset interface {
	Attributes() map[string]any
	// Variable returns ok=false when the dataset has no variable with that name.
	Variable(name string) (Variable, bool, error)
	Close() error
}

// OpenFunc opens a payload stored at a local path.
type OpenFunc func(path string) (Dataset, error)

// Config selects what gets extracted.
type Config struct {
	Variables []string
	// Mappings renders integer codes of a variable as descriptions.
	Mappings map[string]map[int]string
}

// Result holds everything extracted from one payload.
type Result struct {
	Globals   map[string]any
	Variables map[string]any
	Lon       []float64
	Lat       []float64
}

// Extractor reads payloads through an OpenFunc.
type Extractor struct {
	open   OpenFunc
	cfg    Config
	logger *zap.Logger
}

// New builds an Extractor. Empty configuration falls back to DefaultVariables and
// the surface_type mapping.
func New(cfg Config, open OpenFunc, logger *zap.Logger) *Extractor {
	if open == nil {
		open = OpenNetCDF
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Variables) == 0 {
		cfg.Variables = DefaultVariables
	}
	if cfg.Mappings == nil {
		cfg.Mappings = map[string]map[int]string{"surface_type": DefaultSurfaceTypes}
	}
	return &Extractor{open: open, cfg: cfg, logger: logger}
}

// Extract opens path and collects the configured variables.
func (e *Extractor) Extract(path string) (res Result, err error) {
	ds, err := e.open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open payload %s: %w", path, err)
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close payload %s: %w", path, cerr)
		}
	}()

	res.Globals = normalizeAttributes(ds.Attributes())
	res.Variables = make(map[string]any, len(e.cfg.Variables))

	if res.Lon, err = e.track(ds, LonVariable); err != nil {
		return Result{}, err
	}
	if res.Lat, err = e.track(ds, LatVariable); err != nil {
		return Result{}, err
	}
	if len(res.Lon) != len(res.Lat) {
		return Result{}, fmt.Errorf("payload %s: %d longitudes for %d latitudes", path, len(res.Lon), len(res.Lat))
	}

	for _, name := range e.cfg.Variables {
		if name == LonVariable || name == LatVariable {
			continue
		}
		v, ok, verr := ds.Variable(name)
		if verr != nil {
			return Result{}, fmt.Errorf("read variable %s: %w", name, verr)
		}
		if !ok {
			e.logger.Debug("variable not present", zap.String("path", path), zap.String("variable", name))
			continue
		}
		if value, ok := e.render(name, v); ok {
			res.Variables[name] = value
		}
	}
	return res, nil
}

func (e *Extractor) track(ds Dataset, name string) ([]float64, error) {
	v, ok, err := ds.Variable(name)
	if err != nil {
		return nil, fmt.Errorf("read variable %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s missing", ErrMissingTrack, name)
	}
	values, ok := Float64s(v.Values)
	if !ok {
		return nil, fmt.Errorf("variable %s holds %T, want numbers", name, v.Values)
	}
	return Unpack(values, v.Attributes), nil
}

func (e *Extractor) render(name string, v Variable) (any, bool) {
	if s, ok := v.Values.(string); ok {
		return s, true
	}
	raw, ok := Float64s(v.Values)
	if !ok {
		e.logger.Debug("unsupported variable type", zap.String("variable", name), zap.String("type", fmt.Sprintf("%T", v.Values)))
		return nil, false
	}
	if mapping, ok := e.cfg.Mappings[name]; ok {
		return Describe(raw, mapping), true
	}
	values := Unpack(raw, v.Attributes)
	if name == TimeVariable {
		if origin, unit, ok := TimeUnits(v.Attributes); ok {
			return Timestamps(values, origin, unit), true
		}
	}
	return Nullable(values), true
}

// Float64s flattens a numeric scalar or (nested) slice into float64 values.
func Float64s(values any) ([]float64, bool) {
	switch v := values.(type) {
	case nil:
		return nil, false
	case []float64:
		return append([]float64(nil), v...), true
	case []float32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, true
	}
	rv := reflect.ValueOf(values)
	var out []float64
	if !flatten(rv, &out) {
		return nil, false
	}
	return out, true
}

func flatten(rv reflect.Value, out *[]float64) bool {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if !flatten(rv.Index(i), out) {
				return false
			}
		}
		return true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		*out = append(*out, float64(rv.Int()))
		return true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		*out = append(*out, float64(rv.Uint()))
		return true
	case reflect.Float32, reflect.Float64:
		*out = append(*out, rv.Float())
		return true
	case reflect.Interface:
		return flatten(rv.Elem(), out)
	default:
		return false
	}
}

// Unpack replaces fill values with NaN and applies scale_factor and add_offset.
func Unpack(values []float64, attrs map[string]any) []float64 {
	fill, hasFill := scalar(attrs["_FillValue"])
	scale, hasScale := scalar(attrs["scale_factor"])
	offset, hasOffset := scalar(attrs["add_offset"])
	out := make([]float64, len(values))
	for i, v := range values {
		if hasFill && v == fill {
			out[i] = math.NaN()
			continue
		}
		if hasScale {
			v *= scale
		}
		if hasOffset {
			v += offset
		}
		out[i] = v
	}
	return out
}

// Describe renders integer codes through mapping; unknown codes keep their number.
func Describe(values []float64, mapping map[int]string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		code := int(v)
		if desc, ok := mapping[code]; ok {
			out[i] = desc
			continue
		}
		out[i] = strconv.Itoa(code)
	}
	return out
}

// Nullable converts NaN and infinite values to nil so the slice encodes as JSON.
func Nullable(values []float64) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = v
	}
	return out
}

// TimeUnits parses a CF "<unit> since <origin>" units attribute.
func TimeUnits(attrs map[string]any) (time.Time, time.Duration, bool) {
	units, ok := attrs["units"].(string)
	if !ok {
		return time.Time{}, 0, false
	}
	unitPart, originPart, found := strings.Cut(units, " since ")
	if !found {
		return time.Time{}, 0, false
	}
	var unit time.Duration
	switch strings.ToLower(strings.TrimSpace(unitPart)) {
	case "seconds", "second", "secs", "s":
		unit = time.Second
	case "minutes", "minute", "mins":
		unit = time.Minute
	case "hours", "hour", "h":
		unit = time.Hour
	case "days", "day", "d":
		unit = 24 * time.Hour
	default:
		return time.Time{}, 0, false
	}
	originPart = strings.TrimSpace(originPart)
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if origin, err := time.Parse(layout, originPart); err == nil {
			return origin.UTC(), unit, true
		}
	}
	return time.Time{}, 0, false
}

// Timestamps renders offsets from origin as RFC 3339 strings; missing values are nil.
func Timestamps(values []float64, origin time.Time, unit time.Duration) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		offset := time.Duration(v * float64(unit))
		out[i] = origin.Add(offset).Format(time.RFC3339Nano)
	}
	return out
}

func normalizeAttributes(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if n, ok := normalizeAttribute(v); ok {
			out[k] = n
		}
	}
	return out
}

func normalizeAttribute(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		return strings.TrimRight(t, "\x00"), true
	}
	values, ok := Float64s(v)
	if !ok {
		return fmt.Sprint(v), true
	}
	if len(values) == 1 {
		if math.IsNaN(values[0]) || math.IsInf(values[0], 0) {
			return nil, false
		}
		return values[0], true
	}
	return Nullable(values), true
}

func scalar(v any) (float64, bool) {
	values, ok := Float64s(v)
	if !ok || len(values) == 0 {
		return 0, false
	}
	return values[0], true
}
