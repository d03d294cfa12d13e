package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/fidex/session"
)

// Scripts installed in every frame before its own scripts run.
const (
	// Every unload asks for confirmation; Guard answers no, so triggered
	// handlers cannot navigate away mid-measurement.
	holdNavigationJS = `window.addEventListener('beforeunload', function (e) { e.preventDefault(); e.returnValue = ''; });`
	noPopupJS        = `window.open = function () { return null; };`
	// Flags read by instrumented pages to turn their write tracing on.
	traceFlagsJS = `window.__fidex_mutation = true; window.__trace_enabled = true;`
)

// Guard keeps a page in place for the duration of a measurement: it
// installs the navigation, popup and tracing scripts and dismisses every
// JavaScript dialog. Call the returned func to stop dismissing dialogs.
func Guard(ctx context.Context, s session.Session, log *slog.Logger) (func(), error) {
	if log == nil {
		log = slog.Default()
	}
	c := session.WithContext(s, ctx)
	if err := (proto.PageEnable{}).Call(c); err != nil {
		return nil, fmt.Errorf("browser: Page.enable: %w", err)
	}
	for _, js := range []string{holdNavigationJS, noPopupJS, traceFlagsJS} {
		if _, err := (proto.PageAddScriptToEvaluateOnNewDocument{Source: js}).Call(c); err != nil {
			return nil, fmt.Errorf("browser: add init script: %w", err)
		}
	}

	cancel := session.On(s,
		func() *proto.PageJavascriptDialogOpening { return &proto.PageJavascriptDialogOpening{} },
		func(e *proto.PageJavascriptDialogOpening) {
			log.Debug("browser: dismissing dialog", "type", e.Type, "url", e.URL)
			if err := (proto.PageHandleJavaScriptDialog{Accept: false}).Call(c); err != nil {
				log.Warn("browser: dismiss dialog failed", "type", e.Type, "error", err)
			}
		})
	return cancel, nil
}
