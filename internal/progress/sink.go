// Package progress delivers workflow progress events to observers.
//
// Publishing never fails from the caller's point of view: a sink that cannot
// deliver logs the problem and drops the event, so execution is never held
// up by a slow or absent observer.
package progress

import (
	"context"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// Sink receives progress events.
type Sink interface {
	Publish(ctx context.Context, ev models.Event)
}

// Logger is the logging surface used by sinks.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Fanout publishes every event to each of its sinks in order.
type Fanout []Sink

// Publish implements Sink.
func (f Fanout) Publish(ctx context.Context, ev models.Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(ctx, ev)
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Publish implements Sink.
func (Discard) Publish(context.Context, models.Event) {}

// LogSink writes a one-line summary of each event.
type LogSink struct {
	logger Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish implements Sink.
func (s *LogSink) Publish(_ context.Context, ev models.Event) {
	args := []any{"workflow_id", ev.WorkflowID}
	if ev.StepID != "" {
		args = append(args, "step_id", ev.StepID)
	}
	switch ev.Type {
	case models.EventWorkflowStarted:
		args = append(args, "steps", len(ev.Steps))
	case models.EventWorkflowStepUpdate:
		if ev.Updates != nil {
			args = append(args, "status", ev.Updates.Status)
		}
	case models.EventWorkflowCompleted:
		if ev.Success != nil {
			args = append(args, "success", *ev.Success)
		}
		if ev.Error != "" {
			args = append(args, "error", ev.Error)
		}
	case models.EventOnChainVerification:
		if ev.OnChain != nil {
			args = append(args, "proof_id", ev.OnChain.ProofID, "chain", ev.OnChain.Chain)
		}
	}
	s.logger.Info(string(ev.Type), args...)
}
