package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/fidex/session"
)

// Tab is one stealth page prepared for measurement.
type Tab struct {
	Page *rod.Page

	session *session.Page
	release func()
	timeout time.Duration
	log     *slog.Logger
}

// TabOptions configures OpenTab.
type TabOptions struct {
	// NavigateTimeout bounds Navigate. Default: 60s.
	NavigateTimeout time.Duration
	Logger          *slog.Logger
}

// OpenTab creates a stealth tab on b and guards it. The tab is blank until
// Navigate, so callers can attach to its Session first.
func OpenTab(ctx context.Context, b *rod.Browser, opts TabOptions) (*Tab, error) {
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	page = page.Context(ctx)

	s := session.FromPage(page, opts.Logger)
	release, err := Guard(ctx, s, opts.Logger)
	if err != nil {
		s.Close()
		page.Close()
		return nil, err
	}
	return &Tab{
		Page:    page,
		session: s,
		release: release,
		timeout: opts.NavigateTimeout,
		log:     opts.Logger,
	}, nil
}

// Session returns the tab's control channel.
func (t *Tab) Session() session.Session { return t.session }

// Navigate loads pageURL and waits for the load event and then for the
// network to go quiet. Only a failed navigation is an error; a page that
// never settles within the timeout is measured as it is.
func (t *Tab) Navigate(ctx context.Context, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	p := t.Page.Context(navCtx)

	idle := p.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)
	if err := p.Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		t.log.Warn("browser: wait load timeout", "url", pageURL, "error", err)
		return nil
	}
	idle()
	if navCtx.Err() != nil && ctx.Err() == nil {
		t.log.Warn("browser: network did not go idle", "url", pageURL, "timeout", t.timeout)
	}
	return ctx.Err()
}

// Close stops event delivery and closes the tab.
func (t *Tab) Close() error {
	if t.release != nil {
		t.release()
	}
	t.session.Close()
	return t.Page.Close()
}
