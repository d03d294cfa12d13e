package override

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-rod/rod/lib/proto"
)

// Static fulfils responses for exact URLs with stored bodies and lets every
// other response through untouched.
type Static struct {
	rules map[string]Rule
	log   *slog.Logger
}

// NewStatic returns a Static handler over a copy of rules.
func NewStatic(rules map[string]Rule, logger *slog.Logger) *Static {
	if logger == nil {
		logger = slog.Default()
	}
	cp := make(map[string]Rule, len(rules))
	for u, r := range rules {
		cp[u] = r
	}
	return &Static{rules: cp, log: logger}
}

// Patterns intercepts each rule URL at the response stage.
func (s *Static) Patterns() []*proto.FetchRequestPattern {
	urls := make([]string, 0, len(s.rules))
	for u := range s.rules {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	out := make([]*proto.FetchRequestPattern, 0, len(urls))
	for _, u := range urls {
		out = append(out, &proto.FetchRequestPattern{URLPattern: u, RequestStage: proto.FetchRequestStageResponse})
	}
	return out
}

// Handle fulfils exact matches with the original status (200 when absent)
// and headers, and continues everything else.
func (s *Static) Handle(c proto.Client, e *proto.FetchRequestPaused) error {
	url := ""
	if e.Request != nil {
		url = e.Request.URL
	}
	rule, ok := s.rules[url]
	if !ok {
		return proto.FetchContinueRequest{RequestID: e.RequestID}.Call(c)
	}

	body := []byte(rule.Source)
	if !rule.PlainText {
		b, err := base64.StdEncoding.DecodeString(rule.Source)
		if err != nil {
			// The rule is unusable; let the real response through.
			s.log.Warn("override: rule source is not base64", "url", url, "error", err)
			return proto.FetchContinueRequest{RequestID: e.RequestID}.Call(c)
		}
		body = b
	}
	status := 200
	if e.ResponseStatusCode != nil && *e.ResponseStatusCode != 0 {
		status = *e.ResponseStatusCode
	}
	headers := e.ResponseHeaders
	if headers == nil {
		headers = []*proto.FetchHeaderEntry{}
	}
	if err := (proto.FetchFulfillRequest{
		RequestID:       e.RequestID,
		ResponseCode:    status,
		ResponseHeaders: headers,
		Body:            body,
	}).Call(c); err != nil {
		return fmt.Errorf("Fetch.fulfillRequest: %w", err)
	}
	s.log.Info("override: fulfilled", "url", url, "status", status)
	return nil
}
