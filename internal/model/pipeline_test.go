package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineState_Sequence(t *testing.T) {
	t.Parallel()

	var stages []string
	s := StateNeedsExtraction
	for s != StateDone {
		stages = append(stages, s.Stage())
		s = s.Next()
	}

	assert.Equal(t, []string{
		StageExtract, StageBenchmark, StageValidateQuick, StageValidateDeep, StageComps,
	}, stages)
}

func TestPipelineState_TerminalStates(t *testing.T) {
	t.Parallel()

	for _, s := range []PipelineState{StateDone, StateTimedOut, StateFailed, StateUnknown} {
		assert.Empty(t, s.Stage(), string(s))
		assert.Equal(t, s, s.Next(), string(s))
	}
}

func TestPipelineState_NeedsReconcile(t *testing.T) {
	t.Parallel()

	assert.True(t, StateUnknown.NeedsReconcile())
	assert.True(t, StateTimedOut.NeedsReconcile())
	assert.True(t, StateFailed.NeedsReconcile())
	assert.False(t, StateNeedsComps.NeedsReconcile())
	assert.False(t, StateDone.NeedsReconcile())
}
