package progress

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/logging"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

func TestRecorder_KeepsOrderAndBound(t *testing.T) {
	r := NewRecorder(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r.Publish(ctx, models.Event{Type: models.EventWorkflowStepUpdate, WorkflowID: "wf-1", StepID: fmt.Sprintf("step_%d", i)})
	}
	r.Publish(ctx, models.Event{Type: models.EventWorkflowStarted, WorkflowID: "wf-2"})

	events := r.Events("wf-1")
	require.Len(t, events, 3)
	assert.Equal(t, "step_2", events[0].StepID)
	assert.Equal(t, "step_4", events[2].StepID)
	assert.Len(t, r.Events("wf-2"), 1)

	r.Forget("wf-1")
	assert.Empty(t, r.Events("wf-1"))
}

func TestFanout_PublishesToEverySink(t *testing.T) {
	a, b := NewRecorder(0), NewRecorder(0)
	f := Fanout{a, nil, b}
	f.Publish(context.Background(), models.Event{Type: models.EventWorkflowStarted, WorkflowID: "wf-1"})

	assert.Len(t, a.Events("wf-1"), 1)
	assert.Len(t, b.Events("wf-1"), 1)
}

func TestLogSink_SummarizesEvents(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(logging.New(&buf, logging.LevelInfo))

	s.Publish(context.Background(), models.Event{
		Type:       models.EventWorkflowCompleted,
		WorkflowID: "wf-1",
		Success:    models.BoolPtr(false),
		Error:      "step 2 failed",
	})

	out := buf.String()
	assert.Contains(t, out, "workflow_completed")
	assert.Contains(t, out, "workflow_id=wf-1")
	assert.Contains(t, out, "success=false")
	assert.Contains(t, out, `error="step 2 failed"`)
}

func TestNATSSink_Subject(t *testing.T) {
	s := NewNATSSink(nil, "", logging.Nop())
	assert.Equal(t, "workflows.wf-1.workflow_step_update", s.Subject(models.Event{Type: models.EventWorkflowStepUpdate, WorkflowID: "wf-1"}))
}
