// ABOUTME: Consumer loop that drains a stream session and turns chunks into caller elements.
// ABOUTME: In bulk mode it also accumulates batches and loads them into the destination table.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/2389/sql-relay/internal/bulk"
	"github.com/2389/sql-relay/internal/chunk"
	"github.com/2389/sql-relay/internal/stream"
	"github.com/2389/sql-relay/internal/tabular"
)

// ElementKind classifies what the caller receives.
type ElementKind string

const (
	// ElementData carries a result page or literal agent data.
	ElementData ElementKind = "data"
	// ElementNotice carries a progress message such as table created.
	ElementNotice ElementKind = "notice"
	// ElementError carries a human-readable failure.
	ElementError ElementKind = "error"
)

// Element is one unit of output for the caller.
type Element struct {
	Kind ElementKind `json:"kind"`
	Text string      `json:"text"`
}

// EmitFunc delivers an element. An error aborts the run; the caller is gone.
type EmitFunc func(Element) error

// BulkPlan describes where a bulk run loads its rows. It is resolved
// before the stream command is sent.
type BulkPlan struct {
	DestinationID string
	ConnString    string
	Table         bulk.TableRef
}

// Outcome summarizes a finished run.
type Outcome struct {
	Batches    int
	Rows       int
	Summary    *chunk.Summary
	Failed     bool
	RowsLoaded int64
}

// Pipeline drains sessions from a bridge.
type Pipeline struct {
	bridge      *stream.Bridge
	loader      *bulk.Loader
	readTimeout time.Duration
	logger      *slog.Logger
}

// New creates a Pipeline. A non-positive readTimeout uses stream.DefaultReadTimeout.
func New(bridge *stream.Bridge, loader *bulk.Loader, readTimeout time.Duration, logger *slog.Logger) *Pipeline {
	if readTimeout <= 0 {
		readTimeout = stream.DefaultReadTimeout
	}
	return &Pipeline{
		bridge:      bridge,
		loader:      loader,
		readTimeout: readTimeout,
		logger:      logger.With("component", "pipeline"),
	}
}

type run struct {
	p       *Pipeline
	session *stream.Session
	plan    *BulkPlan
	emit    EmitFunc
	logger  *slog.Logger

	schema  []tabular.Column
	acc     *tabular.Table
	outcome Outcome
}

// Run drains session until it completes, times out, fails or ctx is done.
// plan is nil for a plain stream. The session is always removed from the
// bridge before Run returns.
func (p *Pipeline) Run(ctx context.Context, session *stream.Session, plan *BulkPlan, emit EmitFunc) (Outcome, error) {
	defer p.bridge.Close(session)

	r := &run{
		p:       p,
		session: session,
		plan:    plan,
		emit:    emit,
		logger:  p.logger.With("agent_id", session.AgentID, "session_id", session.ID),
	}

	if err := r.drain(ctx); err != nil {
		return r.outcome, err
	}
	if plan == nil || r.outcome.Failed {
		return r.outcome, nil
	}
	return r.outcome, r.load(ctx)
}

func (r *run) drain(ctx context.Context) error {
	for {
		raw, err := r.p.bridge.Next(ctx, r.session, r.p.readTimeout)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			r.logger.Debug("stream complete", "batches", r.outcome.Batches, "rows", r.outcome.Rows)
			return nil
		case errors.Is(err, stream.ErrSessionTimeout):
			r.logger.Warn("stream timed out", "timeout", r.p.readTimeout)
			return r.fail(err, fmt.Sprintf("Error: no data from agent for %s, stream aborted.", r.p.readTimeout))
		default:
			r.logger.Info("stream cancelled", "error", err)
			return err
		}

		if err := r.handle(raw); err != nil {
			return err
		}
	}
}

func (r *run) handle(raw string) error {
	frame, err := chunk.Parse(raw)
	if err != nil {
		r.logger.Warn("malformed chunk", "error", err)
		return r.fail(err, "Error: "+err.Error())
	}

	switch frame.Kind {
	case chunk.KindControl:
		if frame.IsError() {
			r.outcome.Failed = true
			r.logger.Warn("agent reported error", "message", frame.Raw)
			return r.emit(Element{Kind: ElementError, Text: frame.Raw})
		}
		r.logger.Debug("control", "message", frame.Raw)

	case chunk.KindSchema:
		r.schema = frame.Schema.Columns
		if r.plan != nil {
			return r.emit(Element{Kind: ElementNotice, Text: fmt.Sprintf("Schema received: %d columns.", len(r.schema))})
		}

	case chunk.KindBatch:
		r.outcome.Batches++
		r.outcome.Rows += frame.Table.RowCount()
		if r.plan != nil {
			if err := r.accumulate(frame.Table); err != nil {
				return r.fail(err, fmt.Sprintf("Error: batch %d: %v", frame.Sequence, err))
			}
		}
		return r.emit(Element{Kind: ElementData, Text: frame.Payload})

	case chunk.KindSummary:
		r.outcome.Summary = frame.Summary
		if frame.Summary.TotalRows != r.outcome.Rows {
			r.logger.Warn("summary row count mismatch", "summary_rows", frame.Summary.TotalRows, "rows", r.outcome.Rows)
		}

	case chunk.KindData:
		if r.plan == nil {
			return r.emit(Element{Kind: ElementData, Text: frame.Payload})
		}
		r.logger.Debug("ignoring literal data in bulk mode", "bytes", len(frame.Payload))
	}
	return nil
}

func (r *run) accumulate(page *tabular.Table) error {
	if r.acc == nil {
		r.acc = tabular.New(page.Columns)
	}
	if err := r.acc.Append(page); err != nil {
		return fmt.Errorf("%w: %w", chunk.ErrProtocol, err)
	}
	return nil
}

// fail reports a terminal error to the caller and returns cause.
func (r *run) fail(cause error, text string) error {
	r.outcome.Failed = true
	if err := r.emit(Element{Kind: ElementError, Text: text}); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (r *run) load(ctx context.Context) error {
	columns := r.schema
	var rows [][]any
	if r.acc != nil {
		columns = r.acc.Columns
		rows = r.acc.Rows
	}
	if len(columns) == 0 {
		return r.fail(fmt.Errorf("%w: no columns received", bulk.ErrDDL), "Error: no data received to load.")
	}

	log := r.logger.With("destination_id", r.plan.DestinationID, "table", r.plan.Table.String())

	ld, err := r.p.loader.Begin(ctx, r.plan.ConnString, r.plan.Table, columns)
	if err != nil {
		log.Error("destination table setup failed", "error", err)
		return r.fail(err, "Error: "+err.Error())
	}
	defer func() {
		if err := ld.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("closing destination", "error", err)
		}
	}()

	if err := r.emit(Element{Kind: ElementNotice, Text: fmt.Sprintf("Table %s created.", r.plan.Table)}); err != nil {
		return err
	}

	n, err := ld.Insert(ctx, rows)
	r.outcome.RowsLoaded = n
	if err != nil {
		log.Error("bulk copy failed", "rows", n, "error", err)
		return r.fail(err, fmt.Sprintf("Error: inserted %d rows before failure: %v", n, err))
	}

	log.Info("bulk load complete", "rows", n)
	return r.emit(Element{Kind: ElementNotice, Text: fmt.Sprintf("Inserted %d rows into %s.", n, r.plan.Table)})
}
