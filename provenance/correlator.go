package provenance

import (
	"context"
	"log/slog"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/fidex/session"
)

// Options configures a Correlator.
type Options struct {
	// NoisePrefixes are script URL prefixes of the instrumentation layer.
	// Default: chrome-extension://.
	NoisePrefixes []string
	Logger        *slog.Logger
}

// Correlator wires every tracker to a session. The trackers are exported so
// callers can read or flush them directly.
type Correlator struct {
	Requests   *Requests
	Writes     *Writes
	Faults     *Faults
	Fetches    *Fetches
	Violations *Violations

	log     *slog.Logger
	cancels []func()
}

// New returns a Correlator with empty trackers.
func New(opts Options) *Correlator {
	if opts.NoisePrefixes == nil {
		opts.NoisePrefixes = []string{"chrome-extension://"}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Correlator{
		Requests:   &Requests{},
		Writes:     &Writes{NoisePrefixes: opts.NoisePrefixes},
		Faults:     &Faults{},
		Fetches:    &Fetches{},
		Violations: &Violations{},
		log:        log,
	}
}

// Attach subscribes every tracker to s. ctx bounds the body reads the
// fetch tracker issues.
func (c *Correlator) Attach(ctx context.Context, s session.Session) {
	c.Fetches.bind(ctx, s, c.log)
	c.cancels = append(c.cancels,
		session.On(s, func() *proto.NetworkRequestWillBeSent { return &proto.NetworkRequestWillBeSent{} },
			func(e *proto.NetworkRequestWillBeSent) {
				c.Requests.OnRequest(e)
				c.Faults.OnRequest(e)
				c.Fetches.OnRequest(e)
			}),
		session.On(s, func() *proto.NetworkResponseReceived { return &proto.NetworkResponseReceived{} },
			func(e *proto.NetworkResponseReceived) {
				c.Faults.OnResponse(e)
				c.Fetches.OnResponse(e)
			}),
		session.On(s, func() *proto.NetworkLoadingFailed { return &proto.NetworkLoadingFailed{} },
			c.Faults.OnLoadingFailed),
		session.On(s, func() *proto.NetworkLoadingFinished { return &proto.NetworkLoadingFinished{} },
			c.Fetches.OnLoadingFinished),
		session.On(s, func() *proto.RuntimeExceptionThrown { return &proto.RuntimeExceptionThrown{} },
			c.Faults.OnException),
		session.On(s, func() *proto.RuntimeConsoleAPICalled { return &proto.RuntimeConsoleAPICalled{} },
			func(e *proto.RuntimeConsoleAPICalled) {
				c.Writes.OnConsole(e)
				c.Violations.OnConsole(e)
			}),
	)
}

// Detach removes the subscriptions and waits for pending body reads.
func (c *Correlator) Detach() {
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
	c.Fetches.Wait()
}
