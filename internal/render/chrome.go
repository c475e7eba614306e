package render

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/kiranshivaraju/docrender/internal/config"
)

const (
	a4WidthInches  = 8.27
	a4HeightInches = 11.69
	marginInches   = 0.39 // 10mm
	healthTimeout  = 5 * time.Second
)

// ChromeEngine drives one headless Chrome process through the DevTools protocol.
type ChromeEngine struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// ChromeLauncher returns a Launcher that starts Chrome with cfg.
func ChromeLauncher(cfg config.RenderConfig) Launcher {
	return func(ctx context.Context) (Engine, error) {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.NoSandbox,
			chromedp.DisableGPU,
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		if cfg.ChromePath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
		}

		// The browser outlives the launching request, so it is rooted in Background.
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		e := &ChromeEngine{browserCtx: browserCtx, browserCancel: browserCancel, allocCancel: allocCancel}

		started := make(chan error, 1)
		go func() { started <- chromedp.Run(browserCtx) }()

		select {
		case err := <-started:
			if err != nil {
				_ = e.Close()
				return nil, fmt.Errorf("start chrome: %w", err)
			}
			return e, nil
		case <-ctx.Done():
			_ = e.Close()
			return nil, fmt.Errorf("start chrome: %w", ctx.Err())
		}
	}
}

// RenderPDF loads html into a fresh tab and prints it as A4. Cancelling ctx
// closes the tab, aborting the print.
func (e *ChromeEngine) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	tabCtx, cancel := chromedp.NewContext(e.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var pdf []byte
	err := chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(a4WidthInches).
				WithPaperHeight(a4HeightInches).
				WithMarginTop(marginInches).
				WithMarginBottom(marginInches).
				WithMarginLeft(marginInches).
				WithMarginRight(marginInches).
				Do(ctx)
			pdf = buf
			return err
		}),
	)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}

// Healthy opens a throwaway tab and evaluates a trivial expression.
func (e *ChromeEngine) Healthy(ctx context.Context) bool {
	if e.browserCtx.Err() != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	var two int
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(`1 + 1`, &two)); err != nil {
		return false
	}
	return two == 2
}

func (e *ChromeEngine) Close() error {
	e.browserCancel()
	e.allocCancel()
	return nil
}
