package wallet

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// ResponseEnvelope is the wire form of a wallet answer on the message bus.
type ResponseEnvelope struct {
	CorrelationID string `json:"correlationId"`
	models.OnChainResponse
}

// ResponseSubject is the subject wallet answers are published on.
func ResponseSubject(prefix string) string {
	return prefix + ".onchain.response"
}

// SubscribeResponses resolves pending requests from answers published on
// subject.
func SubscribeResponses(nc *nats.Conn, subject string, b *Broker) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var env ResponseEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Warn("malformed wallet response", "subject", msg.Subject, "error", err)
			return
		}
		// unknown ids are logged by Resolve
		_ = b.Resolve(env.CorrelationID, env.OnChainResponse)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}
