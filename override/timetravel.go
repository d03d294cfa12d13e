package override

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/publicsuffix"
)

// HeaderName is the header TimeTravel stamps.
const HeaderName = "Accept-Datetime"

// FormatTimestamp turns a 14-digit archive timestamp (YYYYMMDDhhmmss) into
// an RFC 1123 GMT date. Anything else is returned unchanged.
func FormatTimestamp(ts string) string {
	t, err := time.Parse("20060102150405", ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format(http1123)
}

const http1123 = "Mon, 02 Jan 2006 15:04:05 GMT"

// Policy selects the header values for TimeTravel.
type Policy struct {
	// Primary is stamped on ordinary requests.
	Primary string
	// Patch is stamped on patch resources; empty means Primary.
	Patch string
	// Subject is the URL of the page being measured.
	Subject string
}

// TimeTravel stamps every request with an Accept-Datetime header. Scripts,
// and documents that navigate to another site after the first document,
// are patch resources and get the patch timestamp.
type TimeTravel struct {
	primary, patch string
	subject        string

	mu           sync.Mutex
	documentSeen int
}

// NewTimeTravel builds the handler. 14-digit timestamps are converted to
// HTTP dates; other values are used verbatim.
func NewTimeTravel(p Policy) *TimeTravel {
	t := &TimeTravel{primary: FormatTimestamp(p.Primary), patch: FormatTimestamp(p.Patch)}
	if p.Patch == "" {
		t.patch = t.primary
	}
	if u, err := url.Parse(p.Subject); err == nil {
		t.subject = site(u.Hostname())
	}
	return t
}

// Patterns intercepts every request at the request stage.
func (t *TimeTravel) Patterns() []*proto.FetchRequestPattern {
	return []*proto.FetchRequestPattern{{URLPattern: "*", RequestStage: proto.FetchRequestStageRequest}}
}

// Classify reports whether a request is a patch resource and records
// documents as seen.
func (t *TimeTravel) Classify(typ proto.NetworkResourceType, rawURL string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if typ == proto.NetworkResourceTypeScript {
		return true
	}
	if typ != proto.NetworkResourceTypeDocument {
		return false
	}
	prior := t.documentSeen
	t.documentSeen++
	if prior == 0 || t.subject == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return site(u.Hostname()) != t.subject
}

// Stamp returns the header value for a request.
func (t *TimeTravel) Stamp(typ proto.NetworkResourceType, rawURL string) string {
	if t.Classify(typ, rawURL) {
		return t.patch
	}
	return t.primary
}

// Handle continues e with the original headers plus Accept-Datetime.
func (t *TimeTravel) Handle(c proto.Client, e *proto.FetchRequestPaused) error {
	var (
		rawURL  string
		headers proto.NetworkHeaders
	)
	if e.Request != nil {
		rawURL, headers = e.Request.URL, e.Request.Headers
	}
	stamp := t.Stamp(e.ResourceType, rawURL)

	names := make([]string, 0, len(headers))
	for k := range headers {
		if !strings.EqualFold(k, HeaderName) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	entries := make([]*proto.FetchHeaderEntry, 0, len(names)+1)
	for _, k := range names {
		v := headers[k]
		if v.Nil() {
			continue
		}
		entries = append(entries, &proto.FetchHeaderEntry{Name: k, Value: v.Str()})
	}
	entries = append(entries, &proto.FetchHeaderEntry{Name: HeaderName, Value: stamp})

	return proto.FetchContinueRequest{RequestID: e.RequestID, Headers: entries}.Call(c)
}

// site is the registrable domain of host, or host itself when it has none
// (IP literals, localhost).
func site(host string) string {
	host = strings.ToLower(host)
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}
