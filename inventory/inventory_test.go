package inventory_test

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/fidex/inventory"
	"github.com/hazyhaar/fidex/inventory/inventorytest"
)

func el(path, tag, class string) inventory.Element {
	return inventory.Element{Tag: tag, Class: class, Path: inventory.Path(path)}
}

func anchor(path, href string) inventory.Element {
	e := el(path, "A", "")
	e.Href = href
	return e
}

func TestFilterCancelPairs(t *testing.T) {
	cases := []struct {
		in, want []string
	}{
		{[]string{"mouseover", "mouseout", "click"}, []string{"mouseover", "click"}},
		{[]string{"mouseout", "click"}, []string{"mouseout", "click"}},
		{[]string{"blur", "focus"}, []string{"focus"}},
		{[]string{"click", "click", "keyup"}, []string{"click", "keyup"}},
		{[]string{"touchend", "touchcancel"}, []string{"touchcancel"}},
		{nil, []string{}},
	}
	for _, c := range cases {
		got := inventory.FilterCancelPairs(c.in)
		if diff := cmp.Diff(c.want, got); diff != "" {
			t.Errorf("FilterCancelPairs(%v) mismatch (-want +got):\n%s", c.in, diff)
		}
	}
}

func TestAllowed(t *testing.T) {
	if len(inventory.EventTypes) != 24 {
		t.Fatalf("allow-list: got %d types, want 24", len(inventory.EventTypes))
	}
	if !inventory.Allowed("click") || inventory.Allowed("load") {
		t.Fatal("click must be allowed, load must not")
	}
}

func TestIdentityOf(t *testing.T) {
	cases := []struct {
		tag, id, class, href string
		want                 inventory.Identity
	}{
		{"DIV", "main", "a b", "", "DIV#main.a.b"},
		{"A", "", "nav", "http://x/y", `A.nav[href="http://x/y"]`},
		{"SPAN", "", "", "http://x/y", "SPAN"},
	}
	for _, c := range cases {
		if got := inventory.IdentityOf(c.tag, c.id, c.class, c.href); got != c.want {
			t.Errorf("IdentityOf(%q,%q,%q,%q): got %q, want %q", c.tag, c.id, c.class, c.href, got, c.want)
		}
	}
}

func TestHandlerRegistry(t *testing.T) {
	r := inventory.NewHandlerRegistry()
	long := "function () { " + strings.Repeat("x", 100) + " }"

	a := r.ID("function a() {}")
	b := r.ID(long)
	again := r.ID("function a() {}")

	if a != "0: function a() {}" {
		t.Errorf("first id: got %q", a)
	}
	if again != a {
		t.Errorf("same source: got %q, want %q", again, a)
	}
	if want := "1: " + long[:50]; b != want {
		t.Errorf("truncated id: got %q, want %q", b, want)
	}
	if r.Len() != 2 {
		t.Errorf("Len: got %d, want 2", r.Len())
	}
}

func TestHandlerSet_MarshalKeepsOrder(t *testing.T) {
	var hs inventory.HandlerSet
	hs.Add("mouseover", "0: f")
	hs.Add("click", "1: g")
	hs.Add("mouseover", "2: h")

	b, err := hs.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"mouseover":["0: f","2: h"],"click":["1: g"]}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func page() *inventorytest.Document {
	div1 := el("/html[1]/body[1]/div[1]", "DIV", "btn")
	return inventorytest.New("http://a.com/page").
		Add(el("/html[1]", "HTML", ""), "click", "H").
		Add(div1, "mouseover", "A", "mouseout", "B", "click", "A").
		Add(el("/html[1]/body[1]/div[2]", "DIV", "btn"), "click", "C").
		Add(anchor("/html[1]/body[1]/a[1]", "http://a.com/page#top"), "click", "E").
		Add(anchor("/html[1]/body[1]/a[2]", "http://a.com/other"), "click", "F").
		Add(el("/html[1]/body[1]/span[1]", "SPAN", ""), "load", "G").
		Delegate("", div1, "keyup", "D").
		Delegate("", el("/html[1]/body[1]/p[1]", "P", "late"), "wheel", "W")
}

func TestBuild_FiltersAndMerges(t *testing.T) {
	inv, err := inventory.Build(context.Background(), page(), inventory.Options{})
	if err != nil {
		t.Fatal(err)
	}

	if len(inv.Entries) != 6 {
		t.Fatalf("entries: got %d, want 6", len(inv.Entries))
	}
	merged := inv.Entries[1]
	if diff := cmp.Diff([]string{"mouseover", "mouseout", "click", "keyup"}, merged.Types()); diff != "" {
		t.Errorf("merged types (-want +got):\n%s", diff)
	}

	var paths []inventory.Path
	for _, c := range inv.Candidates {
		paths = append(paths, c.Element.Path)
	}
	wantPaths := []inventory.Path{
		"/html[1]/body[1]/div[1]",
		"/html[1]/body[1]/div[2]",
		"/html[1]/body[1]/a[1]",
	}
	if diff := cmp.Diff(wantPaths, paths); diff != "" {
		t.Errorf("candidate paths (-want +got):\n%s", diff)
	}

	first := inv.Candidates[0].Handlers
	if diff := cmp.Diff([]string{"mouseover", "mouseout", "click", "keyup"}, first.Types()); diff != "" {
		t.Errorf("handler types (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"0: A"}, first.IDs("click")); diff != "" {
		t.Errorf("click ids (-want +got):\n%s", diff)
	}
	if got := inv.Candidates[1].Handlers.IDs("click"); len(got) != 1 || got[0] != "3: C" {
		t.Errorf("second candidate ids: got %v", got)
	}
}

func TestBuild_Grouping(t *testing.T) {
	inv, err := inventory.Build(context.Background(), page(), inventory.Options{Grouping: true})
	if err != nil {
		t.Fatal(err)
	}
	var paths []inventory.Path
	for _, c := range inv.Candidates {
		paths = append(paths, c.Element.Path)
	}
	want := []inventory.Path{"/html[1]/body[1]/div[1]", "/html[1]/body[1]/a[1]"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("grouped candidates (-want +got):\n%s", diff)
	}
}

func TestCandidates_Hrefs(t *testing.T) {
	loc, _ := url.Parse("http://a.com/dir/page?q=1")
	entries := []inventory.Entry{
		{Element: anchor("/a[1]", "#frag"), Listeners: []inventory.Listener{{Type: "click", Source: "x"}}},
		{Element: anchor("/a[2]", "page?q=1#x"), Listeners: []inventory.Listener{{Type: "click", Source: "x"}}},
		{Element: anchor("/a[3]", "page?q=2"), Listeners: []inventory.Listener{{Type: "click", Source: "x"}}},
		{Element: anchor("/a[4]", "HTTP://A.COM/dir/page?q=1"), Listeners: []inventory.Listener{{Type: "click", Source: "x"}}},
		{Element: anchor("/a[5]", "https://a.com/dir/page?q=1"), Listeners: []inventory.Listener{{Type: "click", Source: "x"}}},
		{Element: anchor("/a[6]", "http://[::1"), Listeners: []inventory.Listener{{Type: "click", Source: "x"}}},
	}
	got := inventory.Candidates(entries, loc, inventory.NewHandlerRegistry(), false)
	var paths []inventory.Path
	for _, c := range got {
		paths = append(paths, c.Element.Path)
	}
	want := []inventory.Path{"/a[1]", "/a[2]", "/a[4]"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("href filter (-want +got):\n%s", diff)
	}
}
