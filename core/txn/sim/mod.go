// Package sim implements a transaction engine that simulates a ledger. The
// latencies of a real network are injected as waits and the identifier of a
// transaction is a random value.
package sim

import (
	"context"
	"crypto/rand"
	"io"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/votex"
	"go.dedis.ch/votex/core/txn"
	"go.dedis.ch/votex/core/txn/pool"
	"go.dedis.ch/votex/core/txn/pool/mem"
	"go.dedis.ch/votex/internal/tracing"
	"golang.org/x/xerrors"
)

// maxIDAttempts is the number of identifiers drawn before giving up when they
// collide with known transactions.
const maxIDAttempts = 3

// defines prometheus metrics
var (
	promTxs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "votex_transactions_total",
		Help: "total number of transactions by label and terminal phase",
	}, []string{"label", "phase"})

	promLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "votex_transactions_duration_seconds",
		Help:    "duration of the confirmed transactions",
		Buckets: []float64{0.1, 0.5, 1, 1.5, 2, 3, 5, 8, 13},
	}, []string{"label"})
)

func init() {
	votex.PromCollectors = append(votex.PromCollectors, promTxs, promLatency)
}

// Engine is a simulated transaction engine.
//
// - implements txn.Engine
type Engine struct {
	logger zerolog.Logger
	sleep  func(time.Duration)
	random io.Reader
	tracer opentracing.Tracer
	pool   pool.Pool
	now    func() time.Time
}

// Option is the type of option to set some fields of the engine.
type Option func(*Engine)

// WithSleep is an option to replace the function that waits the latencies.
func WithSleep(fn func(time.Duration)) Option {
	return func(e *Engine) {
		e.sleep = fn
	}
}

// WithRandom is an option to set the source of the transaction identifiers.
func WithRandom(r io.Reader) Option {
	return func(e *Engine) {
		e.random = r
	}
}

// WithTracer is an option to set the tracer of the transactions.
func WithTracer(tracer opentracing.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithPool is an option to set the pool that holds the pending transactions.
func WithPool(p pool.Pool) Option {
	return func(e *Engine) {
		e.pool = p
	}
}

// WithNow is an option to set the time source of the engine.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a new engine. By default, it waits for real, draws
// identifiers from a cryptographically secure source and does not trace.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger: votex.Logger.With().Str("component", "txn").Logger(),
		sleep:  time.Sleep,
		random: rand.Reader,
		tracer: opentracing.NoopTracer{},
		pool:   mem.NewPool(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Pool returns the pool of the transactions in flight.
func (e *Engine) Pool() pool.Pool {
	return e.pool
}

// Submit implements txn.Engine. It asks the gate for a confirmation, waits the
// submission latency, assigns an identifier, waits the confirmation latency
// and finally commits the transaction. Only the gate observes the context.
func (e *Engine) Submit(ctx context.Context, req txn.Request) (txn.ID, error) {
	r := &run{
		req:    req,
		trace:  xid.New(),
		start:  e.now(),
		engine: e,
	}

	r.logger = e.logger.With().
		Stringer("tx", r.trace).
		Str("label", req.Label).
		Logger()

	r.span = e.tracer.StartSpan("txn."+req.Label,
		opentracing.Tag{Key: tracing.LabelTag, Value: req.Label},
		opentracing.Tag{Key: tracing.TraceTag, Value: r.trace.String()})

	defer r.span.Finish()

	return r.execute(ctx)
}

// run is the state of a single submission.
type run struct {
	req    txn.Request
	trace  xid.ID
	start  time.Time
	engine *Engine
	logger zerolog.Logger
	span   opentracing.Span
	id     txn.ID
	phase  txn.Phase
}

func (r *run) execute(ctx context.Context) (txn.ID, error) {
	r.enter(txn.Submitting, nil)

	err := r.confirm(ctx)
	if xerrors.Is(err, txn.ErrCancelled) {
		r.enter(txn.Cancelled, err)
		return txn.ID{}, err
	}
	if err != nil {
		return txn.ID{}, r.fail(err)
	}

	r.engine.sleep(r.req.Profile.Submit)

	err = r.assign()
	if err != nil {
		return txn.ID{}, r.fail(err)
	}

	defer func() {
		err := r.engine.pool.Remove(r.id)
		if err != nil {
			r.logger.Warn().Err(err).Msg("pool out of sync")
		}
	}()

	r.enter(txn.Pending, nil)

	r.engine.sleep(r.req.Profile.Confirm)

	if r.req.Commit != nil {
		err = r.req.Commit(r.id)
		if err != nil {
			return txn.ID{}, r.fail(xerrors.Errorf("commit: %w", err))
		}
	}

	r.enter(txn.Confirmed, nil)

	promLatency.WithLabelValues(r.req.Label).Observe(r.engine.now().Sub(r.start).Seconds())

	return r.id, nil
}

// confirm opens the gate and waits for its answer or the end of the context.
func (r *run) confirm(ctx context.Context) error {
	if ctx.Err() != nil {
		return xerrors.Errorf("gate interrupted: %v: %w", ctx.Err(), txn.ErrCancelled)
	}

	gate := r.req.Gate
	if gate == nil {
		gate = txn.AutoConfirm
	}

	type answer struct {
		ok  bool
		err error
	}

	// Buffered so that a gate that ignores the context can still return.
	answers := make(chan answer, 1)

	go func() {
		ok, err := gate.Confirm(ctx, r.req.Prompt)
		answers <- answer{ok: ok, err: err}
	}()

	select {
	case <-ctx.Done():
		return xerrors.Errorf("gate interrupted: %v: %w", ctx.Err(), txn.ErrCancelled)
	case ans := <-answers:
		if ans.err != nil {
			if ctx.Err() != nil {
				return xerrors.Errorf("gate interrupted: %v: %w", ctx.Err(), txn.ErrCancelled)
			}

			if xerrors.Is(ans.err, txn.ErrCancelled) {
				return xerrors.Errorf("gate cancelled: %v: %w", ans.err, txn.ErrCancelled)
			}

			return xerrors.Errorf("gate: %v", ans.err)
		}

		if !ans.ok {
			return xerrors.Errorf("declined by user: %w", txn.ErrCancelled)
		}

		return nil
	}
}

// assign draws an identifier that has never been used in the pool.
func (r *run) assign() error {
	var lastErr error

	for i := 0; i < maxIDAttempts; i++ {
		var id txn.ID

		_, err := io.ReadFull(r.engine.random, id[:])
		if err != nil {
			return xerrors.Errorf("failed to generate id: %v", err)
		}

		lastErr = r.engine.pool.Add(pool.Entry{
			ID:    id,
			Trace: r.trace.String(),
			Label: r.req.Label,
			Since: r.engine.now(),
		})

		if lastErr == nil {
			r.id = id
			return nil
		}

		r.logger.Debug().Err(lastErr).Msg("identifier collision")
	}

	return xerrors.Errorf("no identifier available: %v", lastErr)
}

func (r *run) fail(err error) error {
	failure := txn.FailedError{Phase: r.phase, Cause: err}

	ext.Error.Set(r.span, true)
	r.enter(txn.Failed, failure)

	return failure
}

func (r *run) enter(phase txn.Phase, err error) {
	r.phase = phase

	r.span.LogKV("phase", phase.String())

	evt := r.logger.Debug()
	switch phase {
	case txn.Confirmed:
		evt = r.logger.Info().Stringer("id", r.id)
	case txn.Failed:
		evt = r.logger.Warn().Err(err)
	case txn.Cancelled:
		evt = r.logger.Info().Err(err)
	}

	evt.Stringer("phase", phase).Msg("transaction")

	if phase.Terminal() {
		promTxs.WithLabelValues(r.req.Label, phase.String()).Inc()
	}

	if r.req.Observer != nil {
		r.req.Observer(txn.Event{
			Trace: r.trace.String(),
			Label: r.req.Label,
			Phase: phase,
			ID:    r.id,
			Err:   err,
		})
	}
}
