package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/KaramelBytes/cleanloom/internal/dataset"
	"github.com/KaramelBytes/cleanloom/internal/parser"
)

// DefaultMaxBytes caps a download when the fetcher has no explicit limit.
const DefaultMaxBytes int64 = 50 << 20

var (
	// ErrTooLarge is returned when the body exceeds the byte cap.
	ErrTooLarge = errors.New("remote dataset exceeds size limit")
	// ErrScheme is returned for URLs other than http and https.
	ErrScheme = errors.New("only http and https URLs are supported")
	// ErrDecode wraps failures to parse a downloaded body.
	ErrDecode = errors.New("decode remote dataset")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// Fetcher downloads remote datasets and decodes them.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
	opt        parser.Options
	logger     *slog.Logger
}

// NewFetcher returns a fetcher with the given timeout and byte cap. Zero
// values fall back to 30s and DefaultMaxBytes.
func NewFetcher(timeout time.Duration, maxBytes int64, opt parser.Options, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
		opt:        opt,
		logger:     logger,
	}
}

// Fetch downloads rawURL and decodes it by URL extension, Content-Type, or
// sniffed content, in that order.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*dataset.Dataset, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrScheme
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse url: missing host in %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, application/json, application/vnd.openxmlformats-officedocument.spreadsheetml.sheet, */*;q=0.5")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: u.Redacted(), StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > f.maxBytes {
		return nil, ErrTooLarge
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, ErrTooLarge
	}
	f.logger.Debug("fetched remote dataset", "url", u.Redacted(), "bytes", len(body), "elapsed", time.Since(start))

	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = u.Host
	}
	ds, err := parser.DecodeBytes(name, resp.Header.Get("Content-Type"), body, f.opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return ds, nil
}
