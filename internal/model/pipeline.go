package model

// PipelineState is the persisted position of a deal in the stage sequence.
type PipelineState string

const (
	StateUnknown              PipelineState = ""
	StateNeedsExtraction      PipelineState = "needs_extraction"
	StateNeedsBenchmarks      PipelineState = "needs_benchmarks"
	StateNeedsValidationQuick PipelineState = "needs_validation_quick"
	StateNeedsValidationDeep  PipelineState = "needs_validation_deep"
	StateNeedsComps           PipelineState = "needs_comps"
	StateDone                 PipelineState = "done"
	StateTimedOut             PipelineState = "timed_out"
	StateFailed               PipelineState = "failed"
)

// Stage names, in execution order.
const (
	StageExtract       = "extract"
	StageBenchmark     = "benchmark"
	StageValidateQuick = "validate_quick"
	StageValidateDeep  = "validate_deep"
	StageComps         = "comps"
)

// Stage returns the stage that must run to leave this state, or "" when the
// state is terminal or unknown.
func (s PipelineState) Stage() string {
	switch s {
	case StateNeedsExtraction:
		return StageExtract
	case StateNeedsBenchmarks:
		return StageBenchmark
	case StateNeedsValidationQuick:
		return StageValidateQuick
	case StateNeedsValidationDeep:
		return StageValidateDeep
	case StateNeedsComps:
		return StageComps
	default:
		return ""
	}
}

// Next returns the state that follows a successful run of s's stage.
func (s PipelineState) Next() PipelineState {
	switch s {
	case StateNeedsExtraction:
		return StateNeedsBenchmarks
	case StateNeedsBenchmarks:
		return StateNeedsValidationQuick
	case StateNeedsValidationQuick:
		return StateNeedsValidationDeep
	case StateNeedsValidationDeep:
		return StateNeedsComps
	case StateNeedsComps:
		return StateDone
	default:
		return s
	}
}

// NeedsReconcile reports whether the state must be re-derived from records
// before a run.
func (s PipelineState) NeedsReconcile() bool {
	return s == StateUnknown || s == StateTimedOut || s == StateFailed
}
