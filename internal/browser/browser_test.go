package browser

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/fidex/session/sessiontest"
)

func TestLauncherFlags(t *testing.T) {
	m := NewManager(Config{
		Headful:      true,
		UserDataDir:  "/tmp/profile",
		Proxy:        "127.0.0.1:8080",
		ExtensionDir: "/opt/recorder",
		WindowWidth:  1280,
		WindowHeight: 720,
	})
	l := m.launcher()

	for flag, want := range map[string]string{
		"disk-cache-size":           "1",
		"window-size":               "1280,720",
		"user-data-dir":             "/tmp/profile",
		"proxy-server":              "127.0.0.1:8080",
		"load-extension":            "/opt/recorder",
		"disable-extensions-except": "/opt/recorder",
		"disable-blink-features":    "AutomationControlled",
	} {
		if got := l.Get(flags.Flag(flag)); got != want {
			t.Errorf("--%s = %q, want %q", flag, got, want)
		}
	}
	if l.Has("headless") {
		t.Error("headful launch still passes --headless")
	}
}

func TestLauncherFlags_DefaultWindow(t *testing.T) {
	l := NewManager(Config{}).launcher()
	if got := l.Get("window-size"); got != "1920,1080" {
		t.Errorf("--window-size = %q", got)
	}
	if !l.Has("headless") {
		t.Error("default launch should be headless")
	}
	if l.Has("load-extension") {
		t.Error("no extension configured but --load-extension set")
	}
}

func TestGuard_InstallsScriptsAndDismissesDialogs(t *testing.T) {
	f := sessiontest.New()
	release, err := Guard(context.Background(), f, nil)
	if err != nil {
		t.Fatal(err)
	}

	if n := len(f.CallsTo("Page.enable")); n != 1 {
		t.Errorf("Page.enable calls = %d", n)
	}
	var sources []string
	for _, c := range f.CallsTo("Page.addScriptToEvaluateOnNewDocument") {
		var p proto.PageAddScriptToEvaluateOnNewDocument
		if err := json.Unmarshal(c.Params, &p); err != nil {
			t.Fatal(err)
		}
		sources = append(sources, p.Source)
	}
	all := strings.Join(sources, "\n")
	for _, want := range []string{"beforeunload", "window.open", "__fidex_mutation", "__trace_enabled"} {
		if !strings.Contains(all, want) {
			t.Errorf("init scripts missing %q", want)
		}
	}

	f.EmitEvent(&proto.PageJavascriptDialogOpening{URL: "https://a.com/", Type: proto.PageDialogTypeBeforeunload})
	calls := f.CallsTo("Page.handleJavaScriptDialog")
	if len(calls) != 1 {
		t.Fatalf("dialog answers = %d, want 1", len(calls))
	}
	var h proto.PageHandleJavaScriptDialog
	if err := json.Unmarshal(calls[0].Params, &h); err != nil {
		t.Fatal(err)
	}
	if h.Accept {
		t.Error("dialog accepted, want dismissed")
	}

	release()
	f.EmitEvent(&proto.PageJavascriptDialogOpening{Type: proto.PageDialogTypeAlert})
	if n := len(f.CallsTo("Page.handleJavaScriptDialog")); n != 1 {
		t.Errorf("dialog answered after release: %d calls", n)
	}
}

func TestGuard_FailsWhenPageDomainFails(t *testing.T) {
	f := sessiontest.New()
	f.Reply("Page.enable", func(json.RawMessage) (any, error) { return nil, errors.New("no page") })
	if _, err := Guard(context.Background(), f, nil); err == nil {
		t.Fatal("expected error")
	}
}
