// Package fetch reads scene graphs and source images from local paths or
// http(s) URLs, retrying transient remote failures with exponential
// backoff.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry defaults.
const (
	DefaultAttempts = 6
	DefaultBackoff  = 500 * time.Millisecond
	DefaultFactor   = 2.0
)

// StatusError reports an unsuccessful HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Temporary reports whether the request may succeed when repeated.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
}

// ErrGaveUp is wrapped by the error returned once every attempt failed.
var ErrGaveUp = errors.New("fetch: retries exhausted")

// Fetcher opens local and remote resources.
// A Fetcher is safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	attempts int
	backoff  time.Duration
	factor   float64
	logger   *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithAttempts sets the number of tries for a remote resource.
// Values below 1 are treated as 1.
func WithAttempts(n int) Option {
	return func(f *Fetcher) {
		f.attempts = max(1, n)
	}
}

// WithBackoff sets the delay before the first retry and the factor by
// which it grows after each further failure.
func WithBackoff(base time.Duration, factor float64) Option {
	return func(f *Fetcher) {
		f.backoff = base
		if factor >= 1 {
			f.factor = factor
		}
	}
}

// WithClient sets the HTTP client used for remote resources.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithLogger sets the logger that reports retries.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   http.DefaultClient,
		attempts: DefaultAttempts,
		backoff:  DefaultBackoff,
		factor:   DefaultFactor,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IsRemote reports whether location is an http or https URL.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	s := strings.ToLower(u.Scheme)
	return (s == "http" || s == "https") && u.Host != ""
}

// Open opens location. Remote resources are read completely, with
// retries, before Open returns; local files are opened directly and never
// retried.
func (f *Fetcher) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if !IsRemote(location) {
		file, err := os.Open(filepath.Clean(location))
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		return file, nil
	}
	data, err := f.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Fetch downloads rawURL. Network errors and temporary HTTP statuses are
// retried; other statuses fail at once. Cancelling ctx aborts both the
// request and any backoff wait.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	attempts := 0
	permanent := false
	op := func() ([]byte, error) {
		attempts++
		data, err := f.get(ctx, rawURL)
		if err == nil {
			return data, nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, backoff.Permanent(cerr)
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			permanent = true
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, delay time.Duration) {
		f.logger.Warn("fetch: retrying",
			slog.String("url", rawURL),
			slog.Int("attempt", attempts),
			slog.Duration("delay", delay),
			slog.Any("error", err))
	}

	data, err := backoff.RetryNotifyWithData(op, f.policy(ctx), notify)
	switch {
	case err == nil:
		return data, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case permanent:
		return nil, err
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, attempts, err)
}

// policy returns the retry schedule of one Fetch: f.attempts tries with
// delays growing by f.factor from f.backoff, without jitter.
func (f *Fetcher) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.backoff
	b.Multiplier = f.factor
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.attempts-1)), ctx)
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch: read %s: %w", rawURL, err)
	}
	return data, nil
}

// Resolve returns ref relative to base, where base is the location of
// the referring document (a file path or URL). Backslashes in ref are
// treated as path separators. Absolute refs are returned unchanged.
func Resolve(base, ref string) string {
	ref = strings.ReplaceAll(ref, `\`, "/")
	if IsRemote(ref) {
		return ref
	}
	if IsRemote(base) {
		b, err := url.Parse(base)
		if err != nil {
			return ref
		}
		r, err := url.Parse(ref)
		if err != nil {
			return ref
		}
		return b.ResolveReference(r).String()
	}
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref)
	}
	return filepath.Join(filepath.Dir(base), filepath.FromSlash(ref))
}
