package report

import "net/http"

// Headers are the security headers set on every report response.
type Headers struct {
	CSP            string
	FrameOptions   string
	ReferrerPolicy string
}

// DefaultHeaders forbids rendering and framing of every response.
func DefaultHeaders() Headers {
	return Headers{
		CSP:            "default-src 'none'; frame-ancestors 'none'",
		FrameOptions:   "DENY",
		ReferrerPolicy: "no-referrer",
	}
}

// SecurityHeaders sets h on every response, plus X-Content-Type-Options:
// nosniff.
func SecurityHeaders(h Headers) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hdr := w.Header()
			hdr.Set("X-Content-Type-Options", "nosniff")
			if h.CSP != "" {
				hdr.Set("Content-Security-Policy", h.CSP)
			}
			if h.FrameOptions != "" {
				hdr.Set("X-Frame-Options", h.FrameOptions)
			}
			if h.ReferrerPolicy != "" {
				hdr.Set("Referrer-Policy", h.ReferrerPolicy)
			}
			next.ServeHTTP(w, r)
		})
	}
}
