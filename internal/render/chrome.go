package render

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"chatsum/internal/domain"
	"chatsum/internal/metrics"
)

// ChromeConfig holds configuration for the Chrome renderer.
type ChromeConfig struct {
	ExecPath  string        // Chrome binary; empty lets chromedp search PATH
	NoSandbox bool          // needed when running as root in containers
	Width     int           // viewport width in CSS pixels; default 720
	Timeout   time.Duration // per render; default 30s
	Logger    *slog.Logger
}

// Chrome renders pages in tabs of one long-lived headless browser. The
// browser starts on the first render.
type Chrome struct {
	cfg    ChromeConfig
	logger *slog.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

var _ domain.Renderer = (*Chrome)(nil)

func NewChrome(cfg ChromeConfig) *Chrome {
	if cfg.Width <= 0 {
		cfg.Width = 720
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Chrome{cfg: cfg, logger: cfg.Logger}
}

func (c *Chrome) browser() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browserCtx != nil && c.browserCtx.Err() == nil {
		return c.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("font-render-hinting", "none"),
	)
	if c.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
	}
	if c.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Running an empty task list launches the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	c.browserCtx = browserCtx
	c.browserCancel = func() {
		browserCancel()
		allocCancel()
	}
	c.logger.Info("chrome started", "exec", c.cfg.ExecPath)
	return browserCtx, nil
}

// Render builds the page and screenshots its #container element as PNG.
func (c *Chrome) Render(ctx context.Context, name string, data domain.RenderData) ([]byte, error) {
	buf, err := c.render(ctx, name, data)
	if err != nil {
		metrics.RenderFailures.Inc()
	}
	return buf, err
}

func (c *Chrome) render(ctx context.Context, name string, data domain.RenderData) ([]byte, error) {
	doc, err := BuildPage(name, data)
	if err != nil {
		return nil, err
	}

	browserCtx, err := c.browser()
	if err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, c.cfg.Timeout)
	defer timeoutCancel()

	// Tie the tab to the caller as well.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	start := time.Now()
	err = chromedp.Run(tabCtx,
		chromedp.EmulateViewport(int64(c.cfg.Width), 200, chromedp.EmulateScale(2)),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, doc).Do(ctx)
		}),
		chromedp.WaitReady("#container", chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("load %s page: %w", name, err)
	}

	if data.ImageURL != "" {
		var loaded bool
		waitImages := chromedp.Poll(`Array.from(document.images).every(i => i.complete)`, &loaded,
			chromedp.WithPollingTimeout(10*time.Second))
		if err := chromedp.Run(tabCtx, waitImages); err != nil {
			c.logger.Warn("images did not finish loading", "template", name, "err", err)
		}
	}

	var png []byte
	if err := chromedp.Run(tabCtx, chromedp.Screenshot("#container", &png, chromedp.NodeVisible, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("screenshot %s: %w", name, err)
	}
	c.logger.Debug("rendered", "template", name, "bytes", len(png), "elapsed", time.Since(start))
	return png, nil
}

// Close stops the browser if it was started.
func (c *Chrome) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browserCancel != nil {
		c.browserCancel()
		c.browserCtx = nil
		c.browserCancel = nil
	}
}
