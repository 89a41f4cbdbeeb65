// Package httpindex lists remote directories served over HTTP, either as plain-text
// `ls -l` listings or as HTML directory indices, and downloads payloads.
package httpindex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/listing"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Limiter throttles requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Client implements listing.Opener and ingest.Fetcher using a Colly collector.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       Limiter
	logger        *zap.Logger
}

type page struct {
	body        []byte
	contentType string
	anchors     []string
}

// New builds a Client. A nil limiter disables throttling.
func New(cfg Config, limiter Limiter, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(0),
	)
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Client{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger,
	}
}

// Open fetches the listing at rawURL. HTML responses are read as directory indices;
// anything else is parsed as an `ls -l` listing.
func (c *Client) Open(ctx context.Context, rawURL string) (listing.Cursor, error) {
	p, err := c.visit(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if strings.Contains(p.contentType, "html") {
		return listing.NewRecordCursor(AnchorsToRecords(p.anchors), nil), nil
	}
	return listing.NewLineCursor(io.NopCloser(bytes.NewReader(p.body)), c.logger), nil
}

// Fetch downloads the payload at loc.
func (c *Client) Fetch(ctx context.Context, loc ingest.Location) (io.ReadCloser, error) {
	p, err := c.visit(ctx, loc.String())
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(p.body)), nil
}

func (c *Client) visit(ctx context.Context, rawURL string) (page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return page{}, err
		}
	}
	var (
		result   page
		fetchErr error
	)
	collector := c.buildCollector(ctx, &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return page{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return page{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return page{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		return result, nil
	}
}

func (c *Client) buildCollector(ctx context.Context, result *page, fetchErr *error) *colly.Collector {
	collector := c.baseCollector.Clone()
	collector.Context = ctx
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		result.body = append([]byte(nil), r.Body...)
		if r.Headers != nil {
			result.contentType = strings.ToLower(r.Headers.Get("Content-Type"))
		}
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		result.anchors = append(result.anchors, e.Attr("href"))
	})
	collector.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
	return collector
}

// AnchorsToRecords turns index hrefs into records. Only relative child links are kept;
// a trailing slash marks a directory.
func AnchorsToRecords(hrefs []string) []ingest.Record {
	seen := make(map[string]struct{}, len(hrefs))
	records := make([]ingest.Record, 0, len(hrefs))
	for _, href := range hrefs {
		if href == "" || strings.ContainsAny(href[:1], "?#/") || strings.Contains(href, "://") {
			continue
		}
		if strings.HasPrefix(href, "../") || strings.HasPrefix(href, "./") || strings.ContainsAny(href, "?#") {
			continue
		}
		isDir := strings.HasSuffix(href, "/")
		name := strings.TrimSuffix(href, "/")
		if strings.Contains(name, "/") {
			continue
		}
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
		if name == "" || listing.IsSelfOrParent(name) {
			continue
		}
		if _, dup := seen[href]; dup {
			continue
		}
		seen[href] = struct{}{}
		perms := "-"
		if isDir {
			perms = "d"
		}
		records = append(records, ingest.Record{Name: name, IsDirectory: isDir, Permissions: perms})
	}
	return records
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
