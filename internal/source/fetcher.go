// Package source retrieves the external web page a market resolves against
// and reduces it to the plain text handed to the oracle.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout   = 15 * time.Second
	DefaultMaxBytes  = 200_000
	DefaultUserAgent = "degenbets-settler/1.0"
)

// Kind classifies a fetch failure.
type Kind string

const (
	KindTimeout Kind = "timeout"
	KindHTTP    Kind = "http"
	KindNetwork Kind = "network"
)

// FetchError is returned by Fetch for every failure. Its message is what the
// resolution log records.
type FetchError struct {
	Kind   Kind
	Status int
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("HTTP %d fetching %s", e.Status, e.URL)
	case KindTimeout:
		return fmt.Sprintf("Timeout fetching %s", e.URL)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s fetching %s", e.Err.Error(), e.URL)
		}
		return fmt.Sprintf("network error fetching %s", e.URL)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Document is a fetched source page.
type Document struct {
	URL         string
	FinalURL    string
	ContentType string
	Raw         []byte
	Text        string
	Truncated   bool
}

// Fetcher downloads resolution sources. It follows at most one redirect and
// never reads more than maxBytes of a body.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
	userAgent  string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTimeout sets the whole-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.httpClient.Timeout = d
		}
	}
}

// WithMaxBytes caps how much of a body is read.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		f.httpClient.Transport = rt
	}
}

// NewFetcher creates a Fetcher with the default 15s timeout and 200,000 byte
// cap.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > 1 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		maxBytes:  DefaultMaxBytes,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchText downloads url and returns its plain text.
func (f *Fetcher) FetchText(ctx context.Context, url string) (string, error) {
	doc, err := f.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return doc.Text, nil
}

// Fetch downloads url and returns both the raw body and its plain text. All
// errors are *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, &FetchError{Kind: KindNetwork, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Document{}, classify(url, err)
	}
	defer resp.Body.Close()

	// A 3xx here means a second redirect that was not followed.
	if resp.StatusCode >= 300 {
		return Document{}, &FetchError{Kind: KindHTTP, Status: resp.StatusCode, URL: url}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return Document{}, classify(url, err)
	}
	truncated := int64(len(raw)) > f.maxBytes
	if truncated {
		raw = raw[:f.maxBytes]
	}

	return Document{
		URL:         url,
		FinalURL:    resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Raw:         raw,
		Text:        ToPlainText(strings.ToValidUTF8(string(raw), "")),
		Truncated:   truncated,
	}, nil
}

func classify(url string, err error) *FetchError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &FetchError{Kind: KindTimeout, URL: url, Err: err}
	}
	return &FetchError{Kind: KindNetwork, URL: url, Err: err}
}
