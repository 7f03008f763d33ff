package proof

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/logging"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/proof/prooftest"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

func newTestClient(t *testing.T, h prooftest.Handler, opts ...Option) (*Client, *prooftest.Oracle) {
	t.Helper()
	oracle := prooftest.New(h)
	c := NewClient(oracle, logging.Nop(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c.Start(ctx)
	return c, oracle
}

type generated struct {
	result *models.ProofResult
	err    error
}

func TestGenerate_RecordsProofInLedger(t *testing.T) {
	c, oracle := newTestClient(t, nil)
	ledger := NewLedger()

	res, err := c.Generate(context.Background(), ledger, GenerateRequest{
		Kind:       models.ProofKindKYC,
		Arguments:  []string{"1"},
		Person:     "Alice",
		WorkflowID: "wf-1",
		StepIndex:  0,
	})
	require.NoError(t, err)

	assert.True(t, models.IsProofID(res.ProofID), res.ProofID)
	assert.Equal(t, models.ProofKindKYC, models.ProofKindFromID(res.ProofID))
	assert.Equal(t, "alice", res.Person)
	assert.NotEmpty(t, res.Metrics)

	stored, ok := ledger.Proof("kyc_alice")
	require.True(t, ok)
	assert.Equal(t, res.ProofID, stored.ProofID)

	reqs := oracle.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "prove_kyc", reqs[0].Metadata.Function)
	assert.Equal(t, []string{"1"}, reqs[0].Metadata.Arguments)
	assert.Equal(t, DefaultStepSize, reqs[0].Metadata.StepSize)
	assert.NotEmpty(t, reqs[0].Metadata.Explanation)
	assert.Equal(t, "wf-1", reqs[0].Metadata.AdditionalContext["workflow_id"])
	assert.Equal(t, res.ProofID, reqs[0].ProofID)
	assert.Equal(t, 0, c.Pending())
}

func TestResultKeying_SpecificKeyAndPrefixFallback(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ledger := NewLedger()

	res, err := c.Generate(context.Background(), ledger, GenerateRequest{Kind: models.ProofKindKYC, Person: "alice"})
	require.NoError(t, err)

	_, ok := ledger.Proof("kyc_alice")
	assert.True(t, ok)
	_, ok = ledger.Proof("kyc")
	assert.False(t, ok, "a person-scoped proof is not stored under the bare kind")

	// without a person the prefix scan finds alice's proof
	r, err := ledger.Resolve("", models.ProofKindKYC, "")
	require.NoError(t, err)
	assert.Equal(t, res.ProofID, r.ProofID)
	assert.Equal(t, "kyc_alice", r.Key)

	// with no kyc_bob key the lookup falls back to the prefix scan
	r, err = ledger.Resolve("", models.ProofKindKYC, "bob")
	require.NoError(t, err)
	assert.Equal(t, res.ProofID, r.ProofID)
	assert.Equal(t, "kyc_alice", r.Key)
	assert.Equal(t, "alice", r.Person)

	// other kinds never match
	_, err = ledger.Resolve("", models.ProofKindLocation, "bob")
	assert.ErrorIs(t, err, ErrProofNotFound)
}

func TestLedger_ResolvePrecedence(t *testing.T) {
	ledger := NewLedger()
	now := time.Now()
	ledger.RecordProof(models.ProofResult{ProofID: "proof_kyc_1000000000001", ProofType: models.ProofKindKYC, Person: "alice", Timestamp: now})
	ledger.RecordProof(models.ProofResult{ProofID: "proof_kyc_1000000000002", ProofType: models.ProofKindKYC, Timestamp: now})
	ledger.RecordProof(models.ProofResult{ProofID: "proof_location_1000000000003", ProofType: models.ProofKindLocation, Person: "bob", Timestamp: now})

	r, err := ledger.Resolve("", models.ProofKindKYC, "alice")
	require.NoError(t, err)
	assert.Equal(t, "proof_kyc_1000000000001", r.ProofID)

	r, err = ledger.Resolve("", models.ProofKindKYC, "")
	require.NoError(t, err)
	assert.Equal(t, "proof_kyc_1000000000002", r.ProofID, "bare key wins over the prefix scan")

	r, err = ledger.Resolve("", models.ProofKindKYC, "carol")
	require.NoError(t, err)
	assert.Equal(t, "proof_kyc_1000000000002", r.ProofID, "an unscoped proof serves any party")

	r, err = ledger.Resolve(models.VerifyTargetLast, "", "")
	require.NoError(t, err)
	assert.Equal(t, "proof_location_1000000000003", r.ProofID)
	assert.Equal(t, "location_bob", r.Key)

	r, err = ledger.Resolve("proof_kyc_1000000000001", models.ProofKindLocation, "")
	require.NoError(t, err)
	assert.False(t, r.External)
	assert.Equal(t, "kyc_alice", r.Key)

	r, err = ledger.Resolve("proof_ai_content_1700000000000", "", "")
	require.NoError(t, err)
	assert.True(t, r.External)
	assert.Equal(t, models.ProofKindAIContent, r.Kind)
	assert.Equal(t, "proof_ai_content_1700000000000", r.ProofID)

	_, err = NewLedger().Resolve(models.VerifyTargetLast, "", "")
	assert.ErrorIs(t, err, ErrProofNotFound)
	_, err = ledger.Resolve("", "", "")
	assert.ErrorIs(t, err, ErrProofNotFound)
}

func TestVerify_MissingProofFailsWithoutRoundTrip(t *testing.T) {
	c, oracle := newTestClient(t, nil)

	_, err := c.Verify(context.Background(), NewLedger(), VerifyRequest{Kind: models.ProofKindKYC, Person: "alice"})

	assert.ErrorIs(t, err, ErrProofNotFound)
	assert.Empty(t, oracle.Requests())
}

func TestVerify_RecordsVerdictUnderBothKeys(t *testing.T) {
	c, oracle := newTestClient(t, nil)
	ctx := context.Background()
	ledger := NewLedger()

	p, err := c.Generate(ctx, ledger, GenerateRequest{Kind: models.ProofKindKYC, Person: "alice"})
	require.NoError(t, err)

	out, err := c.Verify(ctx, ledger, VerifyRequest{Kind: models.ProofKindKYC, Person: "alice", WorkflowID: "wf"})
	require.NoError(t, err)
	assert.True(t, out.Valid)
	assert.Equal(t, p.ProofID, out.ProofID)

	verdicts := ledger.Verdicts()
	assert.True(t, verdicts["kyc_alice"])
	assert.True(t, verdicts["kyc"])

	last, ok := ledger.LastVerification()
	require.True(t, ok)
	assert.Equal(t, "kyc_alice", last.Key)

	reqs := oracle.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, VerifyFunction, reqs[1].Metadata.Function)
	assert.Equal(t, []string{p.ProofID}, reqs[1].Metadata.Arguments)
	assert.Equal(t, true, reqs[1].Metadata.AdditionalContext["is_verification"])
}

func TestVerify_ExplicitIDIsForwarded(t *testing.T) {
	c, oracle := newTestClient(t, nil)

	out, err := c.Verify(context.Background(), NewLedger(), VerifyRequest{Target: "proof_kyc_1718035200123"})
	require.NoError(t, err)
	assert.True(t, out.Valid)
	assert.Equal(t, models.ProofKindKYC, out.Kind)

	reqs := oracle.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "proof_kyc_1718035200123", reqs[0].ProofID)
}

func TestVerify_InvalidVerdictIsRecorded(t *testing.T) {
	c, _ := newTestClient(t, prooftest.InvalidWhen(func(prooftest.Request) bool { return true }))
	ctx := context.Background()
	ledger := NewLedger()

	_, err := c.Generate(ctx, ledger, GenerateRequest{Kind: models.ProofKindLocation})
	require.NoError(t, err)
	out, err := c.Verify(ctx, ledger, VerifyRequest{Target: models.VerifyTargetLast})
	require.NoError(t, err)

	assert.False(t, out.Valid)
	assert.Equal(t, "INVALID", out.Result)
	assert.False(t, ledger.Verdicts()["location"])
}

func TestGenerate_OracleError(t *testing.T) {
	c, _ := newTestClient(t, prooftest.FailGeneration("bad arguments"))
	ledger := NewLedger()

	_, err := c.Generate(context.Background(), ledger, GenerateRequest{Kind: models.ProofKindAIContent})

	var oe *OracleError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "bad arguments", oe.Message)
	assert.Empty(t, ledger.Proofs())
}

func TestGenerate_TimeoutRemovesPendingEntry(t *testing.T) {
	c, _ := newTestClient(t, prooftest.Silent, WithTimeouts(50*time.Millisecond, 50*time.Millisecond))

	_, err := c.Generate(context.Background(), NewLedger(), GenerateRequest{Kind: models.ProofKindKYC})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, c.Pending())
}

func TestGenerate_ContextCancellation(t *testing.T) {
	c, _ := newTestClient(t, prooftest.Silent)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, NewLedger(), GenerateRequest{Kind: models.ProofKindKYC})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelation_ResponseResolvesOnlyItsOwnRequest(t *testing.T) {
	c, oracle := newTestClient(t, prooftest.Silent)
	ctx := context.Background()

	bDone := make(chan generated, 1)
	go func() {
		r, err := c.Generate(ctx, NewLedger(), GenerateRequest{Kind: models.ProofKindKYC})
		bDone <- generated{r, err}
	}()
	require.Eventually(t, func() bool { return len(oracle.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	aDone := make(chan generated, 1)
	go func() {
		r, err := c.Generate(ctx, NewLedger(), GenerateRequest{Kind: models.ProofKindLocation})
		aDone <- generated{r, err}
	}()
	require.Eventually(t, func() bool { return len(oracle.Requests()) == 2 }, time.Second, 5*time.Millisecond)

	reqs := oracle.Requests()
	idB, idA := reqs[0].ProofID, reqs[1].ProofID
	require.NotEqual(t, idA, idB)

	// unrelated traffic is ignored
	oracle.Push([]byte("not json"))
	oracle.PushResponse(prooftest.Response{Type: "verification_complete", ProofID: idA, Result: "VALID"})
	oracle.PushResponse(prooftest.Response{Type: "status", ProofID: idA})

	oracle.PushResponse(prooftest.Response{Type: "proof_complete", ProofID: idA})

	select {
	case a := <-aDone:
		require.NoError(t, a.err)
		assert.Equal(t, idA, a.result.ProofID)
	case <-time.After(time.Second):
		t.Fatal("request A was not resolved")
	}

	select {
	case <-bDone:
		t.Fatal("request B resolved by A's response")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, c.Pending())

	oracle.PushResponse(prooftest.Response{Type: "proof_complete", ProofID: idB})
	select {
	case b := <-bDone:
		require.NoError(t, b.err)
		assert.Equal(t, idB, b.result.ProofID)
	case <-time.After(time.Second):
		t.Fatal("request B was not resolved")
	}
}

func TestVerify_DuplicatePendingRequestRejected(t *testing.T) {
	c, oracle := newTestClient(t, prooftest.Silent, WithTimeouts(0, 2*time.Second))
	ctx := context.Background()
	target := "proof_kyc_1718035200123"

	first := make(chan error, 1)
	go func() {
		_, err := c.Verify(ctx, NewLedger(), VerifyRequest{Target: target})
		first <- err
	}()
	require.Eventually(t, func() bool { return len(oracle.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	_, err := c.Verify(ctx, NewLedger(), VerifyRequest{Target: target})
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	oracle.PushResponse(prooftest.Response{Type: "verification_complete", ProofID: target, Result: "VALID"})
	assert.NoError(t, <-first)
}

func TestTransportClosedFailsPendingRequests(t *testing.T) {
	c, oracle := newTestClient(t, prooftest.Silent)

	done := make(chan error, 1)
	go func() {
		_, err := c.Generate(context.Background(), NewLedger(), GenerateRequest{Kind: models.ProofKindKYC})
		done <- err
	}()
	require.Eventually(t, func() bool { return len(oracle.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, oracle.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTransportClosed)
	case <-time.After(time.Second):
		t.Fatal("pending request not failed on close")
	}

	_, err := c.Generate(context.Background(), NewLedger(), GenerateRequest{Kind: models.ProofKindKYC})
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestIDGenerator_Monotonic(t *testing.T) {
	fixed := time.UnixMilli(1718035200123)
	g := newIDGenerator(func() time.Time { return fixed })

	a := g.next("kyc")
	b := g.next("kyc")
	c := g.next("ai_content")

	assert.Equal(t, "proof_kyc_1718035200123", a)
	assert.Equal(t, "proof_kyc_1718035200124", b)
	assert.Equal(t, "proof_ai_content_1718035200125", c)
	assert.True(t, models.IsProofID(c))
}

func TestLedger_VerifiedScoping(t *testing.T) {
	ledger := NewLedger()
	ledger.RecordVerification(models.VerificationResult{ProofType: models.ProofKindKYC, Person: "alice", Valid: true})

	valid, found := ledger.Verified(models.ProofKindKYC, "alice")
	assert.True(t, found)
	assert.True(t, valid)

	_, found = ledger.Verified(models.ProofKindKYC, "bob")
	assert.False(t, found, "alice's verdict does not gate bob")

	ledger.RecordVerification(models.VerificationResult{ProofType: models.ProofKindKYC, Valid: true})
	valid, found = ledger.Verified(models.ProofKindKYC, "bob")
	assert.True(t, found, "an unscoped verdict applies to any party")
	assert.True(t, valid)
}

func TestWebsocketTransport_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req Request
			if json.Unmarshal(msg, &req) != nil {
				continue
			}
			resp := Response{Type: TypeProofComplete, ProofID: req.ProofID}
			if req.Metadata.Function == VerifyFunction {
				resp = Response{Type: TypeVerificationComplete, ProofID: req.ProofID, Result: ResultValid}
			}
			out, _ := json.Marshal(resp)
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport, err := DialWebsocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), time.Second)
	require.NoError(t, err)
	defer transport.Close()

	c := NewClient(transport, logging.Nop(), WithTimeouts(2*time.Second, 2*time.Second))
	c.Start(ctx)

	ledger := NewLedger()
	p, err := c.Generate(ctx, ledger, GenerateRequest{Kind: models.ProofKindKYC, Arguments: []string{"1"}})
	require.NoError(t, err)
	out, err := c.Verify(ctx, ledger, VerifyRequest{Target: models.VerifyTargetLast})
	require.NoError(t, err)
	assert.Equal(t, p.ProofID, out.ProofID)
	assert.True(t, out.Valid)

	require.NoError(t, transport.Close())
	assert.True(t, errors.Is(transport.Send(ctx, []byte("{}")), ErrTransportClosed))
}
