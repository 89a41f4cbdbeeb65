// Package ftp lists remote directories and retrieves payloads over FTP.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/listing"
)

const defaultPort = "21"

// Config controls how the client connects.
type Config struct {
	Username string
	Password string
	Timeout  time.Duration
}

// Client opens one control connection per listing or payload. ServerConn is not safe
// for concurrent use, so connections are never shared between goroutines.
type Client struct {
	cfg        Config
	dialPolicy listing.RetryPolicy
	limiter    Limiter
	logger     *zap.Logger
}

// Limiter throttles requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// New constructs a Client. A nil limiter disables throttling.
func New(cfg Config, limiter Limiter, logger *zap.Logger) *Client {
	if cfg.Username == "" {
		cfg.Username = "anonymous"
	}
	if cfg.Password == "" {
		cfg.Password = "anonymous"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		dialPolicy: listing.NewExponentialRetryPolicy(),
		limiter:    limiter,
		logger:     logger,
	}
}

// Open lists the directory at rawURL. Retries are left to listing.RetryingSource.
func (c *Client) Open(ctx context.Context, rawURL string) (listing.Cursor, error) {
	addr, dir, err := SplitLocation(rawURL)
	if err != nil {
		return nil, err
	}
	conn, err := c.connect(ctx, rawURL, addr)
	if err != nil {
		return nil, err
	}
	entries, err := conn.List(dir)
	if quitErr := conn.Quit(); quitErr != nil {
		c.logger.Debug("ftp quit failed", zap.String("addr", addr), zap.Error(quitErr))
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return listing.NewRecordCursor(ToRecords(entries), nil), nil
}

// Fetch retrieves the payload at loc. The dial step is retried with jittered backoff.
func (c *Client) Fetch(ctx context.Context, loc ingest.Location) (io.ReadCloser, error) {
	addr, file, err := SplitLocation(loc.String())
	if err != nil {
		return nil, err
	}
	var conn *ftp.ServerConn
	if _, err := listing.Retry(ctx, c.dialPolicy, func(ctx context.Context) error {
		sc, dialErr := c.connect(ctx, loc.String(), addr)
		if dialErr != nil {
			return dialErr
		}
		conn = sc
		return nil
	}); err != nil {
		return nil, err
	}
	resp, err := conn.Retr(file)
	if err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("retrieve %s: %w", file, err)
	}
	return &payload{resp: resp, conn: conn}, nil
}

func (c *Client) connect(ctx context.Context, rawURL, addr string) (*ftp.ServerConn, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}
	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(c.cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := conn.Login(c.cfg.Username, c.cfg.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("login %s: %w", addr, err)
	}
	return conn, nil
}

// ToRecords converts client entries into listing records. Links are treated as files.
func ToRecords(entries []*ftp.Entry) []ingest.Record {
	records := make([]ingest.Record, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		rec := ingest.Record{Name: e.Name, Permissions: "-"}
		if e.Type == ftp.EntryTypeFolder {
			rec.IsDirectory = true
			rec.Permissions = "d"
		}
		records = append(records, rec)
	}
	return records
}

// SplitLocation splits an ftp:// URL into a dial address and a server path.
func SplitLocation(rawURL string) (addr, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse location: %w", err)
	}
	if u.Scheme != "ftp" {
		return "", "", fmt.Errorf("parse location %q: unsupported scheme %q", rawURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", "", fmt.Errorf("parse location %q: missing host", rawURL)
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return u.Hostname() + ":" + port, path, nil
}

type payload struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (p *payload) Read(b []byte) (int, error) {
	return p.resp.Read(b)
}

func (p *payload) Close() error {
	return errors.Join(p.resp.Close(), p.conn.Quit())
}
