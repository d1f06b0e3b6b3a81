package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/ratelimit"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; DocsSupportAgent/1.0; +https://docs.stripe.com)"
	defaultTimeout   = 30 * time.Second
	defaultMaxBytes  = 10 << 20
)

type Config struct {
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64
}

// Result is a fetched page. Body is always HTML: markdown sources are
// converted on the way in.
type Result struct {
	URL         string
	Body        string
	ContentType string
	StatusCode  int
	Rendered    bool
}

// Renderer loads a page in a real browser engine and returns the final DOM.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
	Close() error
}

type Fetcher struct {
	client   *http.Client
	cfg      Config
	renderer Renderer
	limiter  *ratelimit.Limiter
	md       goldmark.Markdown
}

type Option func(*Fetcher)

func WithRenderer(r Renderer) Option {
	return func(f *Fetcher) { f.renderer = r }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	f := &Fetcher{
		cfg: cfg,
		md:  goldmark.New(),
	}
	f.client = &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ValidateURL accepts absolute http(s) URLs only.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return appErr.Invalid("url", "empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return appErr.Invalid("url", err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return appErr.Invalid("url", "scheme must be http or https")
	}
	if u.Host == "" {
		return appErr.Invalid("url", "missing host")
	}
	return nil
}

// Fetch retrieves pageURL. The static path runs first unless useRenderer is
// set; its failure falls through to the renderer when one is configured.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, useRenderer bool) (*Result, error) {
	if err := ValidateURL(pageURL); err != nil {
		return nil, err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("url", pageURL))
	if useRenderer && f.renderer != nil {
		return f.render(ctx, pageURL)
	}
	res, err := f.fetchStatic(ctx, pageURL)
	if err == nil {
		return res, nil
	}
	if f.renderer == nil {
		return nil, err
	}
	logger.Warn("static fetch failed, falling back to renderer", zap.Error(err))
	return f.render(ctx, pageURL)
}

func (f *Fetcher) fetchStatic(ctx context.Context, pageURL string) (*Result, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &appErr.FetchError{URL: pageURL, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/markdown;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, appErr.Transient("fetch", &appErr.FetchError{URL: pageURL, Err: err})
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		f.limiter.Backoff(retryAfter(resp.Header.Get("Retry-After")))
		return nil, appErr.Transient("fetch", &appErr.FetchError{URL: pageURL, Status: resp.StatusCode, Err: appErr.ErrTooMany})
	}
	if resp.StatusCode >= 400 {
		return nil, &appErr.FetchError{URL: pageURL, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes))
	if err != nil {
		return nil, appErr.Transient("fetch", &appErr.FetchError{URL: pageURL, Err: err})
	}
	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case isMarkdown(mediaType, pageURL):
		var buf bytes.Buffer
		if err := f.md.Convert(body, &buf); err != nil {
			return nil, &appErr.FetchError{URL: pageURL, Err: fmt.Errorf("convert markdown: %w", err)}
		}
		return &Result{URL: pageURL, Body: buf.String(), ContentType: mediaType, StatusCode: resp.StatusCode}, nil
	case isHTML(mediaType, body):
		return &Result{URL: pageURL, Body: string(body), ContentType: mediaType, StatusCode: resp.StatusCode}, nil
	default:
		return nil, &appErr.FetchError{URL: pageURL, Status: resp.StatusCode, Err: fmt.Errorf("non-html content type %q", contentType)}
	}
}

func (f *Fetcher) render(ctx context.Context, pageURL string) (*Result, error) {
	body, err := f.renderer.Render(ctx, pageURL)
	if err != nil {
		return nil, appErr.Transient("render", &appErr.FetchError{URL: pageURL, Err: err})
	}
	return &Result{URL: pageURL, Body: body, ContentType: "text/html", StatusCode: http.StatusOK, Rendered: true}, nil
}

// Close releases the renderer, if any.
func (f *Fetcher) Close() error {
	if f.renderer == nil {
		return nil
	}
	return f.renderer.Close()
}

func isMarkdown(mediaType, pageURL string) bool {
	if mediaType == "text/markdown" || mediaType == "text/x-markdown" {
		return true
	}
	if mediaType != "" && mediaType != "text/plain" {
		return false
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".md")
}

func isHTML(mediaType string, body []byte) bool {
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return true
	case "":
		return strings.HasPrefix(http.DetectContentType(body), "text/html")
	}
	return false
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(strings.TrimSpace(v) + "s"); err == nil {
		return secs
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}
