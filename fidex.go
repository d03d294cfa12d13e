// Package fidex measures one page load: it inventories the page's event
// handlers, triggers a bounded sequence of them while the page settles, and
// attributes every asynchronous side effect to the stack or stage that
// produced it.
//
// A Runner drives one measurement over a Target, a page whose session can be
// subscribed to before it navigates. Stage deltas are written to the sink
// as they are flushed, so a run that dies midway still leaves every
// completed stage behind.
package fidex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hazyhaar/fidex/artifact"
	"github.com/hazyhaar/fidex/interact"
	"github.com/hazyhaar/fidex/inventory"
	"github.com/hazyhaar/fidex/override"
	"github.com/hazyhaar/fidex/provenance"
	"github.com/hazyhaar/fidex/session"
	"github.com/hazyhaar/fidex/telemetry"
)

// Target is a page that has not navigated yet.
type Target interface {
	Session() session.Session
	Navigate(ctx context.Context, url string) error
}

// Options tunes a Runner. Zero values take the documented defaults.
type Options struct {
	// Cap bounds the number of triggered candidates. Default 20.
	Cap     int
	Shuffle bool
	Rand    *rand.Rand
	// Grouping keeps one candidate per class string.
	Grouping bool

	// LoadSettle is waited after navigation before the onload flush.
	// Default 1s.
	LoadSettle    time.Duration
	Settle        time.Duration
	ElementSettle time.Duration
	Sleep         interact.Sleeper

	// AsyncStackDepth bounds async call-stack capture. Default 32.
	AsyncStackDepth int
	NoisePrefixes   []string

	// Override, when set, intercepts the page's requests for the whole run.
	Override override.Handler
	// Surface picks the document to inventory. Default: TopLevel.
	Surface Surface

	Tracer trace.Tracer
	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Cap <= 0 {
		o.Cap = 20
	}
	if o.LoadSettle <= 0 {
		o.LoadSettle = time.Second
	}
	if o.Sleep == nil {
		o.Sleep = interact.Sleep
	}
	if o.AsyncStackDepth <= 0 {
		o.AsyncStackDepth = 32
	}
	if o.Surface == nil {
		o.Surface = TopLevel()
	}
	if o.Tracer == nil {
		o.Tracer = telemetry.Tracer()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Result summarises a run. It is returned even when the run fails.
type Result struct {
	URL        string             `json:"url"`
	Candidates int                `json:"candidates"`
	Records    []*interact.Record `json:"records"`
	Stages     int                `json:"stages"`
}

// Runner measures pages and writes what it sees to a sink.
type Runner struct {
	sink artifact.Sink
	opts Options
}

// NewRunner returns a Runner writing to sink.
func NewRunner(sink artifact.Sink, opts Options) *Runner {
	opts.applyDefaults()
	return &Runner{sink: sink, opts: opts}
}

// Run measures pageURL on t. Only protocol failures, a failed navigation and
// cancellation are returned as errors; everything that goes wrong with a
// single candidate is logged and recorded as an empty trigger.
func (r *Runner) Run(ctx context.Context, t Target, pageURL string) (res *Result, err error) {
	log := r.opts.Logger.With("url", pageURL)
	ctx, span := r.opts.Tracer.Start(ctx, "fidex.run", trace.WithAttributes(attribute.String("fidex.url", pageURL)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	res = &Result{URL: pageURL, Records: []*interact.Record{}}
	s := t.Session()

	contexts := session.NewContexts()
	contexts.Attach(s)
	defer contexts.Detach()

	if r.opts.Override != nil {
		layer := override.NewLayer(r.opts.Override, log)
		if err := layer.Start(ctx, s); err != nil {
			return res, fmt.Errorf("fidex: start override: %w", err)
		}
		defer func() {
			if serr := layer.Stop(context.WithoutCancel(ctx)); serr != nil {
				log.Warn("fidex: stop override", "error", serr)
			}
		}()
	}

	corr := provenance.New(provenance.Options{NoisePrefixes: r.opts.NoisePrefixes, Logger: log})
	corr.Attach(ctx, s)
	detached := false
	detach := func() {
		if !detached {
			corr.Detach()
			detached = true
		}
	}
	defer detach()

	if err := session.Enable(ctx, s, r.opts.AsyncStackDepth); err != nil {
		return res, fmt.Errorf("fidex: %w", err)
	}
	if err := t.Navigate(ctx, pageURL); err != nil {
		return res, fmt.Errorf("fidex: %w", err)
	}
	if err := r.opts.Sleep(ctx, r.opts.LoadSettle); err != nil {
		return res, err
	}
	if err := r.flush(ctx, corr, "onload", nil); err != nil {
		return res, err
	}
	res.Stages++

	runErr := r.interact(ctx, s, contexts, corr, res, log)

	detach()
	if err := r.writeArtifacts(ctx, corr, res); err != nil {
		log.Warn("fidex: write artifacts", "error", err)
	}
	if runErr != nil {
		return res, runErr
	}
	if err := r.sink.WriteArtifact(ctx, artifact.Done, nil); err != nil {
		return res, fmt.Errorf("fidex: mark done: %w", err)
	}
	log.Info("fidex: run done", "candidates", res.Candidates, "triggered", len(res.Records), "stages", res.Stages)
	return res, nil
}

// interact builds the inventory and triggers up to Cap candidates, flushing
// one stage per trigger.
func (r *Runner) interact(ctx context.Context, s session.Session, contexts *session.Contexts, corr *provenance.Correlator, res *Result, log *slog.Logger) error {
	doc, err := r.opts.Surface(ctx, s, contexts)
	if err != nil {
		if fatal(ctx, err) {
			return err
		}
		log.Warn("fidex: no interactive surface", "error", err)
		return nil
	}
	if rel, ok := doc.(interface{ Release(context.Context) error }); ok {
		defer rel.Release(context.WithoutCancel(ctx))
	}

	inv, err := inventory.Build(ctx, doc, inventory.Options{Grouping: r.opts.Grouping, Logger: log})
	if err != nil {
		if fatal(ctx, err) {
			return err
		}
		log.Warn("fidex: inventory failed", "error", err)
		return nil
	}
	res.Candidates = len(inv.Candidates)

	it := interact.New(doc, inv.Candidates, interact.Options{
		Settle:        r.opts.Settle,
		ElementSettle: r.opts.ElementSettle,
		Sleep:         r.opts.Sleep,
		Rand:          r.opts.Rand,
		Logger:        log,
	})
	if r.opts.Shuffle {
		it.Shuffle()
	}

	n := min(r.opts.Cap, it.Len())
	for i := 0; i < n; i++ {
		tctx, span := r.opts.Tracer.Start(ctx, "fidex.trigger", trace.WithAttributes(attribute.Int("fidex.idx", i)))
		rec, ok := it.TriggerNext(tctx)
		if ok {
			span.SetAttributes(
				attribute.String("fidex.element", string(rec.Element)),
				attribute.StringSlice("fidex.events", rec.Events))
		}
		span.End()
		if !ok {
			break
		}
		res.Records = append(res.Records, rec)
		if rec.Empty() {
			log.Debug("fidex: trigger yielded nothing", "idx", rec.Idx)
		}
		if err := r.flush(ctx, corr, fmt.Sprintf("interaction_%d", i), rec); err != nil {
			return err
		}
		res.Stages++
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("fidex: %w", err)
	}
	return ctx.Err()
}

// flush closes the current stage and hands its delta to the sink. A sink
// failure is logged; the in-memory delta log stays complete.
func (r *Runner) flush(ctx context.Context, corr *provenance.Correlator, stage string, meta any) error {
	_, span := r.opts.Tracer.Start(ctx, "fidex.stage", trace.WithAttributes(attribute.String("fidex.stage", stage)))
	defer span.End()

	d := corr.Faults.Flush(stage, meta)
	span.SetAttributes(
		attribute.Int("fidex.exceptions", len(d.Exceptions)),
		attribute.Int("fidex.failed_fetches", len(d.FailedFetches)))
	if err := r.sink.WriteStage(ctx, d); err != nil {
		r.opts.Logger.Warn("fidex: write stage", "stage", stage, "error", err)
	}
	return ctx.Err()
}

func (r *Runner) writeArtifacts(ctx context.Context, corr *provenance.Correlator, res *Result) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, a := range []struct {
		name string
		v    any
	}{
		{artifact.Events, res.Records},
		{artifact.RequestStacks, corr.Requests.List()},
		{artifact.WriteStacks, corr.Writes.List()},
		{artifact.Fetches, corr.Fetches.List()},
		{artifact.TextualResources, corr.Fetches.Bodies()},
		{artifact.Violations, corr.Violations.List()},
	} {
		if err := r.sink.WriteArtifact(ctx, a.name, a.v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fatal reports whether err ends the run rather than just the interaction
// phase.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, session.ErrClosed) || ctx.Err() != nil
}
