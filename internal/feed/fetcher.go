// Package feed retrieves the published bulletin for a show.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/bulletin-reader/internal/workspace"
)

// HTTP headers.
const (
	headerUserAgent = "User-Agent"
	headerAccept    = "Accept"
	acceptFeed      = "application/rss+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5"
)

const maxErrorBodyBytes = 512

const (
	logFmtFetching     = "Fetching %s (attempt %d/%d)"
	logFmtFetched      = "Fetched %s: %d bytes written to %s"
	logFmtFetchRetry   = "Fetch of %s failed, retrying in %s: %v"
	errFmtStatus       = "%w: %s returned %s: %s"
	errFmtRequestFail  = "failed to send request to %s: %w"
	errFmtReadBodyFail = "failed to read response from %s: %w"
)

// Static errors.
var (
	ErrURLEmpty    = errors.New("feed url cannot be empty")
	ErrDestEmpty   = errors.New("destination path cannot be empty")
	ErrHTTPStatus  = errors.New("unexpected HTTP status")
	ErrEmptyFeed   = errors.New("feed returned an empty body")
	errNoAttempts  = errors.New("fetch attempts must be at least 1")
	errNotRetrying = errors.New("not retryable")
)

// Options configures a Fetcher.
type Options struct {
	Timeout    time.Duration
	Attempts   int
	RetryDelay time.Duration
	UserAgent  string
}

// Fetcher downloads feed documents over HTTP.
type Fetcher struct {
	httpClient *http.Client
	attempts   int
	retryDelay time.Duration
	userAgent  string
	log        *logger.Logger
}

// NewFetcher creates a Fetcher using a client with the configured timeout.
func NewFetcher(opts Options, log *logger.Logger) (*Fetcher, error) {
	return NewFetcherWithClient(opts, &http.Client{Timeout: opts.Timeout}, log)
}

// NewFetcherWithClient creates a Fetcher around an existing HTTP client.
func NewFetcherWithClient(opts Options, client *http.Client, log *logger.Logger) (*Fetcher, error) {
	if opts.Attempts < 1 {
		return nil, errNoAttempts
	}

	return &Fetcher{
		httpClient: client,
		attempts:   opts.Attempts,
		retryDelay: opts.RetryDelay,
		userAgent:  opts.UserAgent,
		log:        log,
	}, nil
}

// Fetch downloads url and writes the body verbatim to dest, replacing any
// previous file. The file only appears once the whole body has been read.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string) error {
	if url == "" {
		return ErrURLEmpty
	}

	if dest == "" {
		return ErrDestEmpty
	}

	var lastErr error

	for attempt := 1; attempt <= f.attempts; attempt++ {
		f.log.Info(logFmtFetching, url, attempt, f.attempts)

		body, err := f.get(ctx, url)
		if err == nil {
			return f.store(url, dest, body)
		}

		lastErr = err

		if errors.Is(err, errNotRetrying) || attempt == f.attempts {
			break
		}

		f.log.Warn(logFmtFetchRetry, url, f.retryDelay, err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("fetch %s cancelled: %w", url, errors.Join(ctx.Err(), lastErr))
		case <-time.After(f.retryDelay):
		}
	}

	return lastErr
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w: %w", err, errNotRetrying)
	}

	if f.userAgent != "" {
		req.Header.Set(headerUserAgent, f.userAgent)
	}

	req.Header.Set(headerAccept, acceptFeed)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFmtRequestFail, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		statusErr := fmt.Errorf(errFmtStatus, ErrHTTPStatus, url, resp.Status, string(snippet))
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
			statusErr = fmt.Errorf("%w (%w)", statusErr, errNotRetrying)
		}

		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadBodyFail, url, err)
	}

	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFeed, url)
	}

	return body, nil
}

func (f *Fetcher) store(url, dest string, body []byte) error {
	writeErr := workspace.WriteFile(dest, body)
	if writeErr != nil {
		return fmt.Errorf("failed to store feed: %w", writeErr)
	}

	f.log.Info(logFmtFetched, url, len(body), dest)

	return nil
}
