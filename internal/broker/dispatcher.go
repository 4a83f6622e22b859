// Package broker routes validated request documents to action handlers.
//
// The dispatcher owns shared validation (envelope shape, action tag,
// forbidden history targets), session acquisition and per-request metric
// capture. Handlers never return Go errors upward: every outcome is a
// response document.
package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/marmos91/docbroker/internal/history"
	"github.com/marmos91/docbroker/internal/logger"
	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/pool"
	"github.com/marmos91/docbroker/internal/store"
	"github.com/marmos91/docbroker/internal/telemetry"
	"github.com/marmos91/docbroker/pkg/metrics"
)

// MetricRecorder receives one record per handled request. Observe must not
// block.
type MetricRecorder interface {
	Observe(*model.Metric)
}

type handlerFunc func(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw

// Dispatcher validates envelopes and runs the matching handler on a pooled
// session.
type Dispatcher struct {
	pool     *pool.Pool
	history  *history.Writer
	recorder MetricRecorder
	prom     metrics.BrokerMetrics
	handlers map[model.Action]handlerFunc

	background sync.WaitGroup
}

// Options carries the dispatcher's optional collaborators.
type Options struct {
	// Recorder receives per-request telemetry. Nil disables capture.
	Recorder MetricRecorder

	// Prom holds the prometheus instruments. Nil when metrics are disabled.
	Prom metrics.BrokerMetrics
}

// New builds a dispatcher over the session pool and history writer.
func New(p *pool.Pool, hw *history.Writer, opts Options) *Dispatcher {
	d := &Dispatcher{
		pool:     p,
		history:  hw,
		recorder: opts.Recorder,
		prom:     opts.Prom,
	}
	d.handlers = map[model.Action]handlerFunc{
		model.ActionRetrieve:         d.handleRetrieve,
		model.ActionCreate:           d.handleCreate,
		model.ActionCreateTimeseries: d.handleCreateTimeseries,
		model.ActionUpdate:           d.handleUpdate,
		model.ActionDelete:           d.handleDelete,
		model.ActionCount:            d.handleCount,
		model.ActionDistinct:         d.handleDistinct,
		model.ActionPipeline:         d.handlePipeline,
		model.ActionBulk:             d.handleBulk,
		model.ActionIndex:            d.handleIndex,
		model.ActionDropIndex:        d.handleDropIndex,
		model.ActionCreateCollection: d.handleCreateCollection,
		model.ActionDropCollection:   d.handleDropCollection,
		model.ActionRenameCollection: d.handleRenameCollection,
		model.ActionTransaction:      d.handleTransaction,
	}
	return d
}

// Dispatch handles one validated frame and always returns a response
// document.
func (d *Dispatcher) Dispatch(ctx context.Context, frame bson.Raw) bson.Raw {
	env, err := model.ParseEnvelope(frame)
	if err != nil {
		var missing *model.MissingFieldsError
		if errors.As(err, &missing) {
			return fail(MsgMissingFields, missing.Fields...)
		}
		return fail(MsgInvalidAction)
	}

	if env.Action.Mutating() && d.history.Forbidden(env.Target()) {
		logger.Warn("mutation on history location rejected",
			logger.Action(env.Action.String()),
			logger.Database(env.Database),
			logger.Collection(env.Collection))
		return fail(MsgInvalidAction)
	}

	if maxTime := maxTimeFrom(env.Options); maxTime != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *maxTime)
		defer cancel()
	}

	ctx, span := telemetry.StartRequestSpan(ctx, env.Action.String(), env.Database, env.Collection,
		telemetry.FrameSize(len(frame)))
	if env.CorrelationID != "" {
		span.SetAttributes(telemetry.CorrelationID(env.CorrelationID))
	}
	defer span.End()

	start := time.Now()
	resp := d.execute(ctx, env)

	if msg := errorMessageOf(resp); msg != "" {
		span.SetAttributes(telemetry.ErrorMessage(msg))
	}

	if !env.SkipMetric && d.recorder != nil {
		d.recorder.Observe(&model.Metric{
			Action:        env.Action.String(),
			Database:      env.Database,
			Collection:    env.Collection,
			Size:          len(frame),
			Duration:      time.Since(start),
			Timestamp:     time.Now().UTC(),
			Application:   env.Application,
			CorrelationID: env.CorrelationID,
			EntityID:      entityIDString(env.Document),
		})
	}
	if d.prom != nil {
		d.prom.ObserveRequest(env.Action.String(), !isFailure(resp), time.Since(start))
	}
	return resp
}

func (d *Dispatcher) execute(ctx context.Context, env *model.Envelope) (resp bson.Raw) {
	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, pool.ErrExhausted) {
			logger.Warn("session pool exhausted", logger.Action(env.Action.String()))
			return fail(MsgPoolExhausted)
		}
		logger.Error("session acquire failed", logger.Err(err))
		return fail(MsgUnexpectedError)
	}
	defer lease.Release()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panic",
				logger.Action(env.Action.String()),
				"panic", r)
			lease.Invalidate()
			resp = fail(MsgUnexpectedError)
		}
	}()

	handler := d.handlers[env.Action]
	return handler(ctx, lease.Session, env)
}

// Close waits for outstanding background fixups (history purge/rename).
func (d *Dispatcher) Close() {
	d.background.Wait()
}

// spawn runs fn out-of-band. Used for the post-DDL history fixups whose
// failure must not affect the synchronous response.
func (d *Dispatcher) spawn(name string, fn func(ctx context.Context, sess store.Session) error) {
	d.background.Add(1)
	go func() {
		defer d.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		lease, err := d.pool.Acquire(ctx)
		if err != nil {
			logger.Error("background task could not get a session", "task", name, logger.Err(err))
			return
		}
		defer lease.Release()

		if err := fn(ctx, lease.Session); err != nil {
			logger.Error("background task failed", "task", name, logger.Err(err))
		}
	}()
}

func isFailure(resp bson.Raw) bool {
	_, err := resp.LookupErr("error")
	return err == nil
}

// errorMessageOf returns the response's error message, or "" on success.
func errorMessageOf(resp bson.Raw) string {
	v, err := resp.LookupErr("error")
	if err != nil {
		return ""
	}
	if s, ok := v.StringValueOK(); ok {
		return s
	}
	return v.String()
}

func entityIDString(doc bson.Raw) string {
	v, ok := model.LookupRawValue(doc, "_id")
	if !ok {
		return ""
	}
	if oid, isOID := v.ObjectIDOK(); isOID {
		return oid.Hex()
	}
	if s, isStr := v.StringValueOK(); isStr {
		return s
	}
	return v.String()
}
