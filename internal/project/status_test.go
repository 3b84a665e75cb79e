package project

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/infragen/internal/errors"
)

var allStatuses = []Status{
	StatusIdle, StatusAnalyzing, StatusGenerating, StatusReviewing,
	StatusFinalizing, StatusPostProcessing, StatusCompleted, StatusError,
}

func newTestProject() *Project {
	return New("p-1", 1, "diagram.png", DefaultAgentConfig(), time.Unix(0, 0))
}

func TestAdvance_HappyPath(t *testing.T) {
	p := newTestProject()
	path := []Status{
		StatusAnalyzing, StatusGenerating, StatusReviewing,
		StatusFinalizing, StatusPostProcessing, StatusCompleted,
	}
	for _, s := range path {
		require.NoError(t, p.Advance(s))
		assert.Equal(t, s, p.Status)
	}
	assert.True(t, p.Status.Terminal())
}

func TestAdvance_RejectsSkipsAndRegressions(t *testing.T) {
	p := newTestProject()
	require.NoError(t, p.Advance(StatusAnalyzing))

	err := p.Advance(StatusReviewing)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrInvalidTransition)
	assert.Equal(t, StatusAnalyzing, p.Status)

	require.NoError(t, p.Advance(StatusGenerating))
	assert.Error(t, p.Advance(StatusAnalyzing))
	assert.Error(t, p.Advance(StatusPostProcessing))
}

func TestTransitions_ErrorOnlyFromSequentialStates(t *testing.T) {
	for _, from := range allStatuses {
		assert.Equal(t, from.Sequential(), CanTransition(from, StatusError), "from %s", from)
	}
}

func TestTransitions_PostProcessingOnlyAfterFinalizing(t *testing.T) {
	for _, from := range allStatuses {
		assert.Equal(t, from == StatusFinalizing, CanTransition(from, StatusPostProcessing), "from %s", from)
	}
}

func TestTransitions_TerminalStatesAreFinal(t *testing.T) {
	for _, to := range allStatuses {
		assert.False(t, CanTransition(StatusCompleted, to))
		assert.False(t, CanTransition(StatusError, to))
	}
}

func TestFail_RecordsErrorVerbatim(t *testing.T) {
	p := newTestProject()
	require.NoError(t, p.Advance(StatusAnalyzing))

	require.NoError(t, p.Fail(errors.New("analysis stage failed: boom")))
	assert.Equal(t, StatusError, p.Status)
	assert.Equal(t, "analysis stage failed: boom", p.Error)
	assert.Equal(t, []string{"CRITICAL ERROR: analysis stage failed: boom"}, p.LastLogs(1))
}

func TestFail_NotAllowedOutsideSequentialPhase(t *testing.T) {
	p := newTestProject()
	err := p.Fail(errors.New("too early"))
	require.Error(t, err)
	assert.Equal(t, StatusIdle, p.Status)
	assert.Empty(t, p.Error)
}
