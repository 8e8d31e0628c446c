// Package orchestrator sequences the deal pipeline stages: extraction,
// benchmarks, quick and deep validation, then comps. Progress is persisted
// as the deal's pipeline state so an interrupted run resumes where it left
// off.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/dealdesk/internal/benchmark"
	"github.com/sells-group/dealdesk/internal/metrics"
	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/resilience"
	"github.com/sells-group/dealdesk/internal/store"
)

var (
	// ErrBusy is returned when another process holds the run lease.
	ErrBusy = eris.New("orchestrator: pipeline already running")
	// ErrTimedOut is returned when documents never finished processing.
	ErrTimedOut = eris.New("orchestrator: documents did not finish processing")
	// ErrCancelled is returned when a run stops on request.
	ErrCancelled = eris.New("orchestrator: run cancelled")
)

// Benchmarker generates benchmark assumptions for a deal.
type Benchmarker interface {
	Generate(ctx context.Context, dealID string) ([]benchmark.Suggestion, error)
}

// Validator validates a deal's extracted fields.
type Validator interface {
	ValidateFields(ctx context.Context, dealID string, phase model.Phase) ([]model.FieldValidation, error)
}

// CompsSearcher refreshes a deal's comparable properties.
type CompsSearcher interface {
	SearchComps(ctx context.Context, dealID string) ([]model.Comp, error)
}

// Status is a snapshot of a deal's pipeline.
type Status struct {
	DealID   string              `json:"deal_id"`
	State    model.PipelineState `json:"state"`
	Stage    string              `json:"stage,omitempty"`
	Running  bool                `json:"running"`
	Progress *store.Progress     `json:"progress"`
}

type run struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Orchestrator runs the stage sequence for deals.
type Orchestrator struct {
	store     store.Store
	bench     Benchmarker
	validator Validator
	comps     CompsSearcher
	lease     Lease
	poll      resilience.PollConfig

	group singleflight.Group
	mu    sync.Mutex
	runs  map[string]*run
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLease serializes runs across processes with l.
func WithLease(l Lease) Option {
	return func(o *Orchestrator) { o.lease = l }
}

// WithPoll overrides the document-completion poll bounds.
func WithPoll(cfg resilience.PollConfig) Option {
	return func(o *Orchestrator) { o.poll = cfg }
}

// New creates an Orchestrator.
func New(st store.Store, bench Benchmarker, validator Validator, comps CompsSearcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     st,
		bench:     bench,
		validator: validator,
		comps:     comps,
		poll:      resilience.PollConfigFromMillis(0, 0, 0),
		runs:      make(map[string]*run),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run drives the deal to done and returns the final persisted state.
// Concurrent calls for the same deal join the running execution.
func (o *Orchestrator) Run(ctx context.Context, dealID string) (model.PipelineState, error) {
	v, err, _ := o.group.Do(dealID, func() (any, error) {
		release, err := o.acquire(ctx, dealID)
		if err != nil {
			return model.StateUnknown, err
		}
		defer release()
		return o.execute(ctx, dealID)
	})
	state, _ := v.(model.PipelineState)
	return state, err
}

// Start launches a run in the background. It returns ErrBusy when another
// process holds the lease and nil when the run started or was already
// running here.
func (o *Orchestrator) Start(ctx context.Context, dealID string) error {
	if _, err := o.store.GetDeal(ctx, dealID); err != nil {
		return eris.Wrap(err, "orchestrator: get deal")
	}
	if o.active(dealID) {
		return nil
	}
	release, err := o.acquire(ctx, dealID)
	if err != nil {
		return err
	}

	base := context.WithoutCancel(ctx)
	runCtx, r, ok := o.tryRegister(base, dealID)
	if !ok {
		release()
		return nil
	}
	go func() {
		defer release()
		defer o.unregister(dealID, r)
		_, err, _ := o.group.Do(dealID, func() (any, error) {
			return o.drive(base, runCtx, r, dealID)
		})
		if err != nil {
			zap.L().Warn("orchestrator: background run ended", zap.String("deal_id", dealID), zap.Error(err))
		}
	}()
	return nil
}

// Cancel asks the running pipeline for the deal to stop after its current
// stage. It reports whether a run was active.
func (o *Orchestrator) Cancel(dealID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.runs[dealID]
	if !ok {
		return false
	}
	r.cancelled.Store(true)
	r.cancel()
	return true
}

// Status reports the persisted state and whether a run is active here.
func (o *Orchestrator) Status(ctx context.Context, dealID string) (*Status, error) {
	deal, err := o.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: get deal")
	}
	progress, err := o.store.GetProgress(ctx, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: get progress")
	}
	return &Status{
		DealID:   dealID,
		State:    deal.PipelineState,
		Stage:    deal.PipelineStage,
		Running:  o.active(dealID),
		Progress: progress,
	}, nil
}

func (o *Orchestrator) acquire(ctx context.Context, dealID string) (func(), error) {
	if o.lease == nil {
		return func() {}, nil
	}
	token, ok, err := o.lease.Acquire(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, eris.Wrapf(ErrBusy, "deal %s", dealID)
	}
	return hold(ctx, o.lease, dealID, token), nil
}

func (o *Orchestrator) active(dealID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.runs[dealID]
	return ok
}

func (o *Orchestrator) register(ctx context.Context, dealID string) (context.Context, *run) {
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel}
	o.mu.Lock()
	o.runs[dealID] = r
	o.mu.Unlock()
	return runCtx, r
}

// tryRegister registers a run unless one is already active for the deal.
func (o *Orchestrator) tryRegister(ctx context.Context, dealID string) (context.Context, *run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.runs[dealID]; ok {
		return nil, nil, false
	}
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel}
	o.runs[dealID] = r
	return runCtx, r, true
}

func (o *Orchestrator) unregister(dealID string, r *run) {
	o.mu.Lock()
	if o.runs[dealID] == r {
		delete(o.runs, dealID)
	}
	o.mu.Unlock()
	r.cancel()
}

func (o *Orchestrator) execute(ctx context.Context, dealID string) (model.PipelineState, error) {
	runCtx, r := o.register(ctx, dealID)
	defer o.unregister(dealID, r)
	return o.drive(ctx, runCtx, r, dealID)
}

// drive advances the deal stage by stage under an already registered run.
func (o *Orchestrator) drive(ctx, runCtx context.Context, r *run, dealID string) (model.PipelineState, error) {
	log := zap.L().With(zap.String("deal_id", dealID))

	deal, err := o.store.GetDeal(ctx, dealID)
	if err != nil {
		return model.StateUnknown, eris.Wrap(err, "orchestrator: get deal")
	}

	state := deal.PipelineState
	if state.NeedsReconcile() {
		reconciled, err := o.reconcile(ctx, dealID)
		if err != nil {
			return state, err
		}
		log.Info("orchestrator: reconciled state", zap.String("from", string(state)), zap.String("to", string(reconciled)))
		state = reconciled
		if err := o.persist(ctx, dealID, state, state.Stage()); err != nil {
			return state, err
		}
	}

	for {
		p, err := o.store.GetProgress(ctx, dealID)
		if err != nil {
			return state, eris.Wrap(err, "orchestrator: get progress")
		}
		if next := forward(state, p); next != state {
			log.Info("orchestrator: skipping stages with existing output", zap.String("from", string(state)), zap.String("to", string(next)))
			state = next
			if err := o.persist(ctx, dealID, state, state.Stage()); err != nil {
				return state, err
			}
		}
		if state == model.StateDone {
			break
		}

		stage := state.Stage()
		if stage == "" {
			return state, eris.Errorf("orchestrator: no stage for state %q", state)
		}
		if r.cancelled.Load() || runCtx.Err() != nil {
			log.Info("orchestrator: cancelled", zap.String("stage", stage))
			metrics.PipelineRuns.WithLabelValues("cancelled").Inc()
			return state, ErrCancelled
		}

		log.Info("orchestrator: running stage", zap.String("stage", stage))
		start := time.Now()
		err = o.runStage(ctx, runCtx, dealID, stage)
		metrics.ObserveStage(stage, start, err)

		switch {
		case err == nil:
		case errors.Is(err, ErrCancelled):
			metrics.PipelineRuns.WithLabelValues("cancelled").Inc()
			return state, err
		case errors.Is(err, ErrTimedOut):
			log.Warn("orchestrator: timed out waiting for documents")
			metrics.PipelineRuns.WithLabelValues(string(model.StateTimedOut)).Inc()
			return model.StateTimedOut, o.fail(ctx, dealID, model.StateTimedOut, stage, err)
		default:
			log.Error("orchestrator: stage failed", zap.String("stage", stage), zap.Error(err))
			metrics.PipelineRuns.WithLabelValues(string(model.StateFailed)).Inc()
			return model.StateFailed, o.fail(ctx, dealID, model.StateFailed, stage, eris.Wrapf(err, "orchestrator: stage %s", stage))
		}

		state = state.Next()
		if err := o.persist(ctx, dealID, state, state.Stage()); err != nil {
			return state, err
		}
	}

	metrics.PipelineRuns.WithLabelValues(string(model.StateDone)).Inc()
	log.Info("orchestrator: pipeline done")
	return model.StateDone, nil
}

// runStage executes one stage. Stages run on ctx so an in-flight stage
// finishes after Cancel; only the document poll watches runCtx.
func (o *Orchestrator) runStage(ctx, runCtx context.Context, dealID, stage string) error {
	switch stage {
	case model.StageExtract:
		return o.awaitDocuments(runCtx, dealID)
	case model.StageBenchmark:
		_, err := o.bench.Generate(ctx, dealID)
		return err
	case model.StageValidateQuick:
		_, err := o.validator.ValidateFields(ctx, dealID, model.PhaseQuick)
		return err
	case model.StageValidateDeep:
		_, err := o.validator.ValidateFields(ctx, dealID, model.PhaseDeep)
		return err
	case model.StageComps:
		_, err := o.comps.SearchComps(ctx, dealID)
		return err
	default:
		return eris.Errorf("orchestrator: unknown stage %q", stage)
	}
}

func (o *Orchestrator) awaitDocuments(ctx context.Context, dealID string) error {
	err := resilience.Poll(ctx, o.poll, func(ctx context.Context) (bool, error) {
		docs, err := o.store.ListDocuments(ctx, dealID)
		if err != nil {
			return false, eris.Wrap(err, "orchestrator: list documents")
		}
		return model.AllTerminal(docs), nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, resilience.ErrPollExhausted):
		return ErrTimedOut
	case ctx.Err() != nil:
		return ErrCancelled
	default:
		return err
	}
}

// reconcile derives the state from what the deal's records show.
func (o *Orchestrator) reconcile(ctx context.Context, dealID string) (model.PipelineState, error) {
	p, err := o.store.GetProgress(ctx, dealID)
	if err != nil {
		return model.StateUnknown, eris.Wrap(err, "orchestrator: get progress")
	}
	if p.PendingDocuments > 0 {
		return model.StateNeedsExtraction, nil
	}
	return firstMissing(p), nil
}

// firstMissing is the earliest state whose stage output is absent.
func firstMissing(p *store.Progress) model.PipelineState {
	switch {
	case p.Assumptions == 0:
		return model.StateNeedsBenchmarks
	case p.Validations == 0:
		return model.StateNeedsValidationQuick
	case p.Comps == 0:
		return model.StateNeedsComps
	default:
		return model.StateDone
	}
}

var stateOrder = map[model.PipelineState]int{
	model.StateNeedsExtraction:      0,
	model.StateNeedsBenchmarks:      1,
	model.StateNeedsValidationQuick: 2,
	model.StateNeedsValidationDeep:  3,
	model.StateNeedsComps:           4,
	model.StateDone:                 5,
}

// forward moves state past stages whose output already exists. It never
// moves backwards, except that a finished deal with new pending documents
// waits on them again. The deep phase is never skipped once reached, since
// it only follows a quick phase.
func forward(state model.PipelineState, p *store.Progress) model.PipelineState {
	switch state {
	case model.StateDone:
		if p.PendingDocuments > 0 {
			return model.StateNeedsExtraction
		}
		return state
	case model.StateNeedsExtraction:
		if p.PendingDocuments > 0 {
			return state
		}
	case model.StateNeedsValidationDeep:
		return state
	}
	if next := firstMissing(p); stateOrder[next] > stateOrder[state] {
		return next
	}
	return state
}

func (o *Orchestrator) persist(ctx context.Context, dealID string, state model.PipelineState, stage string) error {
	if err := o.store.SetPipelineState(context.WithoutCancel(ctx), dealID, state, stage); err != nil {
		return eris.Wrapf(err, "orchestrator: persist state %s", state)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, dealID string, state model.PipelineState, stage string, cause error) error {
	if err := o.persist(ctx, dealID, state, stage); err != nil {
		zap.L().Error("orchestrator: persist failure state", zap.String("deal_id", dealID), zap.Error(err))
	}
	return cause
}
