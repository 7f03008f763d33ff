// Package prooftest provides a scripted in-memory proof oracle for tests.
package prooftest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Request mirrors the oracle request wire format.
type Request struct {
	Message  string `json:"message"`
	ProofID  string `json:"proof_id"`
	Metadata struct {
		Function          string         `json:"function"`
		Arguments         []string       `json:"arguments"`
		StepSize          int            `json:"step_size"`
		Explanation       string         `json:"explanation"`
		AdditionalContext map[string]any `json:"additional_context"`
	} `json:"metadata"`
}

// IsVerification reports whether r asks for a verification.
func (r Request) IsVerification() bool {
	return r.Metadata.Function == "verify_proof"
}

// Response mirrors the oracle response wire format.
type Response struct {
	Type    string         `json:"type"`
	ProofID string         `json:"proof_id"`
	Metrics map[string]any `json:"metrics,omitempty"`
	Result  string         `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Handler scripts the oracle's answers to a request. Returning no responses
// leaves the request unanswered.
type Handler func(req Request) []Response

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("prooftest: oracle closed")

// Oracle is an in-memory transport whose far end is a scripted oracle.
type Oracle struct {
	mu       sync.Mutex
	handler  Handler
	delay    time.Duration
	requests []Request
	incoming chan []byte
	closed   bool
}

// New creates an Oracle answering with h. A nil h accepts every proof and
// reports every verification VALID.
func New(h Handler) *Oracle {
	if h == nil {
		h = AlwaysValid
	}
	return &Oracle{handler: h, incoming: make(chan []byte, 1024)}
}

// SetHandler replaces the script.
func (o *Oracle) SetHandler(h Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handler = h
}

// SetDelay delays every scripted answer by d.
func (o *Oracle) SetDelay(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delay = d
}

// Send records the request and answers it asynchronously.
func (o *Oracle) Send(_ context.Context, payload []byte) error {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.requests = append(o.requests, req)
	h, delay := o.handler, o.delay
	o.mu.Unlock()

	replies := h(req)
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		for _, r := range replies {
			o.PushResponse(r)
		}
	}()
	return nil
}

// Messages implements the transport's inbound channel.
func (o *Oracle) Messages() <-chan []byte {
	return o.incoming
}

// Close ends the channel. Pending client requests fail.
func (o *Oracle) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.incoming)
	}
	return nil
}

// Push delivers a raw message to the client.
func (o *Oracle) Push(raw []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	select {
	case o.incoming <- raw:
		return true
	default:
		return false
	}
}

// PushResponse delivers r to the client.
func (o *Oracle) PushResponse(r Response) bool {
	raw, err := json.Marshal(r)
	if err != nil {
		return false
	}
	return o.Push(raw)
}

// Requests returns every request received so far.
func (o *Oracle) Requests() []Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Request(nil), o.requests...)
}

// Count returns how many requests named function.
func (o *Oracle) Count(function string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.requests {
		if r.Metadata.Function == function {
			n++
		}
	}
	return n
}

// AlwaysValid completes every proof and reports every verification VALID.
func AlwaysValid(req Request) []Response {
	if req.IsVerification() {
		return []Response{{Type: "verification_complete", ProofID: req.ProofID, Result: "VALID"}}
	}
	return []Response{{
		Type:    "proof_complete",
		ProofID: req.ProofID,
		Metrics: map[string]any{"generation_time_secs": 0.01, "proof_size": 1024},
	}}
}

// Silent never answers.
func Silent(Request) []Response { return nil }

// FailGeneration answers proof requests with an error and verifies normally.
func FailGeneration(message string) Handler {
	return func(req Request) []Response {
		if req.IsVerification() {
			return AlwaysValid(req)
		}
		return []Response{{Type: "proof_error", ProofID: req.ProofID, Error: message}}
	}
}

// InvalidWhen reports verifications as INVALID when reject returns true.
func InvalidWhen(reject func(Request) bool) Handler {
	return func(req Request) []Response {
		if req.IsVerification() && reject(req) {
			return []Response{{Type: "verification_complete", ProofID: req.ProofID, Result: "INVALID"}}
		}
		return AlwaysValid(req)
	}
}

// FailGenerationWhen fails proof requests matching fail and accepts the rest.
func FailGenerationWhen(fail func(Request) bool, message string) Handler {
	return func(req Request) []Response {
		if !req.IsVerification() && fail(req) {
			return []Response{{Type: "proof_error", ProofID: req.ProofID, Error: message}}
		}
		return AlwaysValid(req)
	}
}
