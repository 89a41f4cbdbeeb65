package extract

import (
	"fmt"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// OpenNetCDF opens a classic or HDF5-backed NetCDF file.
func OpenNetCDF(path string) (Dataset, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("netcdf open: %w", err)
	}
	return &netcdfDataset{group: g}, nil
}

type netcdfDataset struct {
	group api.Group
}

func (d *netcdfDataset) Attributes() map[string]any {
	return attributeMap(d.group.Attributes())
}

func (d *netcdfDataset) Variable(name string) (Variable, bool, error) {
	v, err := d.group.GetVariable(name)
	if err != nil || v == nil {
		// the reader reports unknown names as an error
		return Variable{}, false, nil
	}
	return Variable{Values: v.Values, Attributes: attributeMap(v.Attributes)}, true, nil
}

func (d *netcdfDataset) Close() error {
	d.group.Close()
	return nil
}

func attributeMap(m api.AttributeMap) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	keys := m.Keys()
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := m.Get(k); ok {
			out[k] = v
		}
	}
	return out
}
