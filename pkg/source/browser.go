package source

import (
	"context"
	"fmt"
	"os"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Browser opens pages in a browser session. Sessions are not safe for
// concurrent use and must be closed on every exit path.
type Browser interface {
	Open(ctx context.Context, url string) (Page, error)
	Close() error
}

// Page is one browser tab. Every blocking call is bounded by ctx.
type Page interface {
	// WaitFor blocks until at least one element matches selector.
	WaitFor(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	ScrollToBottom(ctx context.Context) error
	HTML(ctx context.Context) (string, error)
	Screenshot(path string) error
	Close() error
}

// BrowserFactory starts a fresh browser session.
type BrowserFactory func() (Browser, error)

// RodBrowser drives a headless Chromium through Rod.
type RodBrowser struct {
	browser *rod.Browser
}

// NewRodBrowser launches a headless Chromium process. Returns an error if
// Chrome/Chromium cannot be started.
func NewRodBrowser(bin string) (*RodBrowser, error) {
	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Set("window-size", "1920,1080")
	if bin != "" {
		l = l.Bin(bin)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch headless browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to headless browser: %w", err)
	}
	return &RodBrowser{browser: browser}, nil
}

// RodFactory returns a BrowserFactory launching Chromium from bin, or the
// launcher's default binary when bin is empty.
func RodFactory(bin string) BrowserFactory {
	return func() (Browser, error) {
		return NewRodBrowser(bin)
	}
}

func (b *RodBrowser) Open(ctx context.Context, url string) (Page, error) {
	page, err := stealth.Page(b.browser)
	if err != nil {
		return nil, fmt.Errorf("create tab: %w", err)
	}

	if err := page.Context(ctx).Navigate(url); err != nil {
		_ = page.Close()
		return nil, classifyTransport("navigate "+url, err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		_ = page.Close()
		return nil, classifyTransport("load "+url, err)
	}
	return &rodPage{page: page}, nil
}

func (b *RodBrowser) Close() error {
	return b.browser.Close()
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) WaitFor(ctx context.Context, selector string) error {
	_, err := p.page.Context(ctx).Element(selector)
	return err
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) ScrollToBottom(ctx context.Context) error {
	_, err := p.page.Context(ctx).Eval(`() => window.scrollTo(0, document.documentElement.scrollHeight)`)
	return err
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Screenshot(path string) error {
	img, err := p.page.Screenshot(true, nil)
	if err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}
	return os.WriteFile(path, img, 0o644)
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
