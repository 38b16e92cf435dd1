// Package browser drives Chromium pages through Playwright. The manager owns
// one browser process; each session gets an isolated context with a single
// page, released when the session closes.
package browser

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/playwright-community/playwright-go"
)

const (
	viewportWidth  = 1280
	viewportHeight = 720

	// Default per-operation timeout, milliseconds.
	defaultTimeout = 30000.0
)

// Manager owns the Playwright runtime and the shared browser process.
type Manager struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	startURL string
}

// NewManager installs the Playwright driver if needed, starts it, and
// launches the browser. startURL is where every new page begins.
func NewManager(headless bool, startURL string) (*Manager, error) {
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
	})
	if err != nil {
		if stopErr := pw.Stop(); stopErr != nil {
			slog.Warn("Error stopping playwright after launch failure", "error", stopErr)
		}
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	slog.Info("Browser launched", "headless", headless, "start_url", startURL)
	return &Manager{pw: pw, browser: b, startURL: startURL}, nil
}

// NewPage creates an isolated browser context with one page navigated to the
// start URL.
func (m *Manager) NewPage() (*Page, error) {
	bctx, err := m.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: viewportWidth, Height: viewportHeight},
	})
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	pg, err := bctx.NewPage()
	if err != nil {
		if closeErr := bctx.Close(); closeErr != nil {
			slog.Warn("Error closing context after page failure", "error", closeErr)
		}
		return nil, fmt.Errorf("create page: %w", err)
	}
	pg.SetDefaultTimeout(defaultTimeout)

	if _, err := pg.Goto(m.startURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		if closeErr := bctx.Close(); closeErr != nil {
			slog.Warn("Error closing context after navigation failure", "error", closeErr)
		}
		return nil, fmt.Errorf("navigate to start url: %w", err)
	}

	return &Page{bctx: bctx, page: pg, searchURL: m.startURL}, nil
}

// Shutdown closes the browser and stops Playwright. Session pages must be
// released first.
func (m *Manager) Shutdown() error {
	if err := m.browser.Close(); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	if err := m.pw.Stop(); err != nil {
		return fmt.Errorf("stop playwright: %w", err)
	}
	slog.Info("Browser shut down")
	return nil
}
