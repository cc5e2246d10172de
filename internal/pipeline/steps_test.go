package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStep struct {
	name  string
	calls *[]string
	err   error
}

func (s *recordingStep) Execute(ctx context.Context, state *PipelineState) error {
	*s.calls = append(*s.calls, s.name)
	return s.err
}

func TestPipeline_ExecuteRunsStepsInOrder(t *testing.T) {
	var calls []string
	p := NewPipeline(
		&recordingStep{name: "a", calls: &calls},
		&recordingStep{name: "b", calls: &calls},
		&recordingStep{name: "c", calls: &calls},
	)

	require.NoError(t, p.Execute(context.Background(), &PipelineState{}))
	assert.Equal(t, []string{"a", "b", "c"}, calls)
}

func TestPipeline_ExecuteStopsAtFirstFailure(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	p := NewPipeline(
		&recordingStep{name: "a", calls: &calls},
		&recordingStep{name: "b", calls: &calls, err: boom},
		&recordingStep{name: "c", calls: &calls},
	)

	err := p.Execute(context.Background(), &PipelineState{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "pipeline step 2 failed")
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestPipelineState_Report(t *testing.T) {
	s := &PipelineState{}
	assert.Nil(t, s.Report())
}

func TestEncodeEnrichedStep_QueuesProcessedZoneLast(t *testing.T) {
	state := &PipelineState{BatchDate: batchDate}

	require.NoError(t, (&EncodeEnrichedStep{}).Execute(context.Background(), state))
	require.Len(t, state.Outputs, 2)
	assert.Equal(t, "aggregates-zone/2024-01-15_regions.csv", state.Outputs[0].Key)
	assert.Equal(t, "processed-zone/2024-01-15.csv", state.Outputs[1].Key)
}
