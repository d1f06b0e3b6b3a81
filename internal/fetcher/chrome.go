package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type ChromeConfig struct {
	ExecPath string
	Timeout  time.Duration
	Wait     time.Duration
}

// ChromeRenderer drives one headless browser shared by all callers. The
// browser starts on first use and renders one page at a time.
type ChromeRenderer struct {
	cfg ChromeConfig

	mu            sync.Mutex
	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
	closed        bool
}

func NewChromeRenderer(cfg ChromeConfig) *ChromeRenderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Wait < 0 {
		cfg.Wait = 0
	}
	return &ChromeRenderer{cfg: cfg}
}

func (r *ChromeRenderer) ensureBrowser(ctx context.Context) error {
	if r.closed {
		return fmt.Errorf("renderer closed")
	}
	if r.browserCtx != nil {
		return nil
	}
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.NoSandbox,
		chromedp.UserAgent(defaultUserAgent),
	)
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return fmt.Errorf("start browser: %w", err)
	}
	logutil.GetLogger(ctx).Info("headless browser started")
	r.browserCtx = browserCtx
	r.cancelAlloc = cancelAlloc
	r.cancelBrowser = cancelBrowser
	return nil
}

func (r *ChromeRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureBrowser(ctx); err != nil {
		return "", err
	}
	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.cfg.Timeout)
	defer cancelTimeout()

	var body string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.Wait),
		chromedp.OuterHTML("html", &body, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	logutil.GetLogger(ctx).Debug("page rendered", zap.String("url", pageURL), zap.Int("bytes", len(body)))
	return body, nil
}

// Close shuts the browser down. Later Render calls fail.
func (r *ChromeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.browserCtx == nil {
		return nil
	}
	r.cancelBrowser()
	r.cancelAlloc()
	r.browserCtx = nil
	return nil
}
