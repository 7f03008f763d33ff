package progress

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// NATSSink publishes events as JSON on <prefix>.<workflowId>.<type>.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	logger Logger
}

// NewNATSSink creates a sink publishing on conn.
func NewNATSSink(conn *nats.Conn, prefix string, logger Logger) *NATSSink {
	if prefix == "" {
		prefix = "workflows"
	}
	return &NATSSink{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject ev is published on.
func (s *NATSSink) Subject(ev models.Event) string {
	return s.prefix + "." + ev.WorkflowID + "." + string(ev.Type)
}

// Publish implements Sink.
func (s *NATSSink) Publish(_ context.Context, ev models.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("encode progress event", "workflow_id", ev.WorkflowID, "error", err)
		return
	}
	if err := s.conn.Publish(s.Subject(ev), raw); err != nil {
		s.logger.Warn("publish progress event", "subject", s.Subject(ev), "error", err)
	}
}
