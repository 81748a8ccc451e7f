package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rpattn/canvasdb/internal/domain"
)

const (
	tracerName          = "github.com/rpattn/canvasdb/internal/pipeline"
	defaultSnapshotWait = 2 * time.Millisecond
)

// TableStore is the read-only view of the tabular store used by the executor.
// Missing tables are reported by wrapping domain.ErrNotFound.
type TableStore interface {
	GetTable(ctx context.Context, name string) (domain.Table, error)
	GetRecords(ctx context.Context, tableName string) (domain.RecordSet, error)
}

// CanvasStore loads canvas definitions.
type CanvasStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Canvas, error)
}

// ViewStore appends materialized views. Create must be atomic per call.
type ViewStore interface {
	Create(ctx context.Context, view domain.View) (domain.View, error)
}

// Executor walks a canvas graph and materializes its output as a View.
type Executor struct {
	tables   TableStore
	canvases CanvasStore
	views    ViewStore

	webhooks     *WebhookSender
	logger       zerolog.Logger
	metrics      *Metrics
	tracer       trace.Tracer
	now          func() time.Time
	snapshotWait time.Duration
}

type Option func(*Executor)

func WithWebhookSender(sender *WebhookSender) Option {
	return func(e *Executor) {
		if sender != nil {
			e.webhooks = sender
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger.With().Str("component", "pipeline").Logger()
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(e *Executor) {
		e.metrics = metrics
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSnapshotWait sets how long the table snapshot waits to batch reads.
func WithSnapshotWait(wait time.Duration) Option {
	return func(e *Executor) {
		if wait > 0 {
			e.snapshotWait = wait
		}
	}
}

// NewExecutor constructs a canvas executor. canvases and views may be nil when
// only Run is used.
func NewExecutor(tables TableStore, canvases CanvasStore, views ViewStore, opts ...Option) *Executor {
	e := &Executor{
		tables:       tables,
		canvases:     canvases,
		views:        views,
		logger:       zerolog.Nop(),
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
		snapshotWait: defaultSnapshotWait,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.webhooks == nil {
		e.webhooks = NewWebhookSender(nil)
	}
	return e
}

// RunResult holds every node's output for one run.
type RunResult struct {
	Order     []string
	Terminals []string
	Outputs   map[string]domain.RecordSet
	Warnings  []*domain.WebhookDeliveryError
	StartedAt time.Time
}

// Execute runs the stored canvas and appends the resulting View. Fatal errors
// leave the view store untouched; webhook failures are returned as warnings.
func (e *Executor) Execute(ctx context.Context, canvasID uuid.UUID, viewName string) (domain.ExecutionResult, error) {
	if e.canvases == nil || e.views == nil {
		return domain.ExecutionResult{}, fmt.Errorf("executor has no canvas or view store")
	}
	canvas, err := e.canvases.GetByID(ctx, canvasID)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("get canvas: %w", err)
	}

	run, err := e.Run(ctx, canvas)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	view := Materialize(canvas, run, viewName, run.StartedAt)
	saved, err := e.views.Create(ctx, view)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("save view: %w", err)
	}

	e.logger.Info().
		Str("canvas_id", canvas.ID.String()).
		Str("view_id", saved.ID.String()).
		Str("view_name", saved.Name).
		Int("rows", saved.Data.Len()).
		Int("warnings", len(run.Warnings)).
		Msg("view materialized")

	return domain.ExecutionResult{View: saved, Warnings: run.Warnings}, nil
}

// Run executes the canvas graph without persisting anything.
func (e *Executor) Run(ctx context.Context, canvas domain.Canvas) (result RunResult, err error) {
	started := e.now()
	ctx, span := e.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("canvas.id", canvas.ID.String()),
		attribute.Int("canvas.nodes", len(canvas.Nodes)),
	))
	defer func() {
		status := "success"
		switch {
		case err != nil:
			status = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Warn().Err(err).Str("canvas_id", canvas.ID.String()).Msg("canvas run failed")
		case len(result.Warnings) > 0:
			status = "warnings"
		}
		e.metrics.observeRun(status, e.now().Sub(started))
		span.End()
	}()

	p, err := buildPlan(canvas)
	if err != nil {
		return RunResult{}, err
	}

	result = RunResult{
		Order:     make([]string, 0, len(p.order)),
		Terminals: p.terminals,
		Outputs:   make(map[string]domain.RecordSet, len(p.order)),
		StartedAt: started,
	}

	snap := newSnapshot(e.tables, e.snapshotWait)
	snap.Prefetch(ctx, canvas.TableNames())

	for _, node := range p.order {
		output, warning, err := e.executeNode(ctx, p, node, result.Outputs, snap)
		if err != nil {
			return RunResult{}, fmt.Errorf("execute node %s: %w", node.ID, err)
		}
		if warning != nil {
			result.Warnings = append(result.Warnings, warning)
		}
		result.Outputs[node.ID] = output
		result.Order = append(result.Order, node.ID)
	}

	e.logger.Debug().
		Str("canvas_id", canvas.ID.String()).
		Int("nodes", len(result.Order)).
		Strs("terminals", result.Terminals).
		Msg("canvas run complete")
	return result, nil
}

func (e *Executor) executeNode(
	ctx context.Context,
	p *plan,
	node domain.Node,
	outputs map[string]domain.RecordSet,
	snap *snapshot,
) (output domain.RecordSet, warning *domain.WebhookDeliveryError, err error) {
	started := e.now()
	ctx, span := e.tracer.Start(ctx, "pipeline.node", trace.WithAttributes(
		attribute.String("node.id", node.ID),
		attribute.String("node.kind", string(node.Kind)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("node.rows", output.Len()))
		span.End()
		e.metrics.observeNode(string(node.Kind), e.now().Sub(started))
		e.logger.Debug().
			Str("node_id", node.ID).
			Str("kind", string(node.Kind)).
			Int("rows", output.Len()).
			Dur("elapsed", e.now().Sub(started)).
			Msg("node executed")
	}()

	switch node.Kind {
	case domain.NodeKindTable:
		output, err = e.executeTable(ctx, node, snap)
		return output, nil, err
	case domain.NodeKindFilter:
		output, err = e.executeFilter(p, node, outputs)
		return output, nil, err
	case domain.NodeKindJoin:
		output, err = e.executeJoin(ctx, p, node, outputs, snap)
		return output, nil, err
	case domain.NodeKindWebhook:
		return e.executeWebhook(ctx, p, node, outputs)
	default:
		return domain.RecordSet{}, nil, &domain.InvalidGraphError{NodeID: node.ID, Reason: fmt.Sprintf("unsupported node kind %q", node.Kind)}
	}
}

func (e *Executor) executeTable(ctx context.Context, node domain.Node, snap *snapshot) (domain.RecordSet, error) {
	return snap.Table(ctx, node.ID, node.Table.TableName)
}

func (e *Executor) executeFilter(p *plan, node domain.Node, outputs map[string]domain.RecordSet) (domain.RecordSet, error) {
	input, err := resolveInput(p, node, outputs)
	if err != nil {
		return domain.RecordSet{}, err
	}
	cond, ok := p.conditions[node.ID]
	if !ok {
		return domain.RecordSet{}, fmt.Errorf("filter condition was not compiled")
	}
	filtered := make([]domain.Record, 0, len(input.Records))
	for _, record := range input.Records {
		if cond.Evaluate(record) {
			filtered = append(filtered, record.Clone())
		}
	}
	return domain.RecordSet{Columns: append([]string{}, input.Columns...), Records: filtered}, nil
}

func (e *Executor) executeJoin(ctx context.Context, p *plan, node domain.Node, outputs map[string]domain.RecordSet, snap *snapshot) (domain.RecordSet, error) {
	left, err := resolveInput(p, node, outputs)
	if err != nil {
		return domain.RecordSet{}, err
	}
	right, err := snap.Table(ctx, node.ID, node.Join.JoinTable)
	if err != nil {
		return domain.RecordSet{}, err
	}
	return Join(left, right, node.Join.JoinField, node.Join.TargetField), nil
}

func (e *Executor) executeWebhook(ctx context.Context, p *plan, node domain.Node, outputs map[string]domain.RecordSet) (domain.RecordSet, *domain.WebhookDeliveryError, error) {
	input, err := resolveInput(p, node, outputs)
	if err != nil {
		return domain.RecordSet{}, nil, err
	}
	warning := e.webhooks.Send(ctx, node.ID, node.Webhook.URL, input)
	e.metrics.observeWebhook(warning == nil)
	if warning != nil {
		e.logger.Warn().
			Err(warning).
			Str("node_id", node.ID).
			Str("url", node.Webhook.URL).
			Int("status", warning.StatusCode).
			Msg("webhook delivery failed")
	}
	return input.Clone(), warning, nil
}

// resolveInput gathers the outputs of a node's upstream nodes, concatenated in
// source id order.
func resolveInput(p *plan, node domain.Node, outputs map[string]domain.RecordSet) (domain.RecordSet, error) {
	sources := p.inputs[node.ID]
	sets := make([]domain.RecordSet, 0, len(sources))
	for _, source := range sources {
		set, ok := outputs[source]
		if !ok {
			continue
		}
		sets = append(sets, set)
	}
	switch len(sets) {
	case 0:
		return domain.RecordSet{}, &domain.MissingInputError{NodeID: node.ID, Kind: node.Kind}
	case 1:
		return sets[0], nil
	default:
		return domain.ConcatRecordSets(sets...), nil
	}
}
