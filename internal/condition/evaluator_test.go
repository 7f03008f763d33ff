package condition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

type fakeResults struct {
	verdicts map[string]bool
	last     *models.VerificationResult
}

func (f fakeResults) Verdicts() map[string]bool { return f.verdicts }

func (f fakeResults) LastVerification() (models.VerificationResult, bool) {
	if f.last == nil {
		return models.VerificationResult{}, false
	}
	return *f.last, true
}

type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Warn(msg string, args ...any) { l.warnings = append(l.warnings, msg) }

type countingCounter struct {
	noop.Int64Counter
	n int64
}

func (c *countingCounter) Add(_ context.Context, incr int64, _ ...metric.AddOption) { c.n += incr }

type countingMeter struct {
	noop.Meter
	counter *countingCounter
}

func (m countingMeter) Int64Counter(string, ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return m.counter, nil
}

func TestEvaluate_KindRules(t *testing.T) {
	ctx := context.Background()
	e := NewEvaluator(&recordingLogger{})

	results := fakeResults{verdicts: map[string]bool{
		"kyc_alice":    true,
		"kyc":          true,
		"location_bob": false,
		"location":     false,
	}}

	tests := []struct {
		condition string
		want      bool
	}{
		{"alice is kyc verified", true},
		{"KYC compliant", true},
		{"bob's location is verified", false},
		{"ai content verified", false},
		{"alice is kyc verified and location verified", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Satisfied(ctx, tt.condition, results), tt.condition)
	}
}

func TestEvaluate_AnyPartySatisfiesKindRule(t *testing.T) {
	results := fakeResults{verdicts: map[string]bool{"kyc_alice": true, "kyc_bob": false}}
	v := NewEvaluator(nil).Evaluate(context.Background(), "bob is kyc verified", results)
	assert.True(t, v.Satisfied)
	assert.True(t, v.Recognized)
	assert.Equal(t, []string{"kyc"}, v.Rules)
}

func TestEvaluate_KindKeysDoNotLeakAcrossKinds(t *testing.T) {
	results := fakeResults{verdicts: map[string]bool{"kyc_aiden": true}}
	assert.False(t, NewEvaluator(nil).Satisfied(context.Background(), "ai content verified", results))
}

func TestEvaluate_BareVerifiedUsesLatestVerdict(t *testing.T) {
	ctx := context.Background()
	e := NewEvaluator(nil)

	passed := fakeResults{
		verdicts: map[string]bool{"kyc": false, "location": true},
		last:     &models.VerificationResult{Key: "location", Valid: true},
	}
	v := e.Evaluate(ctx, "verified", passed)
	assert.True(t, v.Satisfied)
	assert.Equal(t, []string{"last_verification"}, v.Rules)

	failed := fakeResults{
		verdicts: map[string]bool{"kyc": true, "location": false},
		last:     &models.VerificationResult{Key: "location", Valid: false},
	}
	assert.False(t, e.Satisfied(ctx, "if verified", failed))

	assert.False(t, e.Satisfied(ctx, "verified", fakeResults{}))
}

func TestEvaluate_UnrecognizedFailsOpenObservably(t *testing.T) {
	logger := &recordingLogger{}
	counter := &countingCounter{}
	e := NewEvaluator(logger, WithMeter(countingMeter{counter: counter}))

	v := e.Evaluate(context.Background(), "the moon is full", fakeResults{})

	assert.True(t, v.Satisfied)
	assert.False(t, v.Recognized)
	assert.Len(t, logger.warnings, 1)
	assert.Equal(t, int64(1), counter.n)
}

func TestEvaluate_EmptyCondition(t *testing.T) {
	logger := &recordingLogger{}
	v := NewEvaluator(logger).Evaluate(context.Background(), "  ", fakeResults{})
	assert.True(t, v.Satisfied)
	assert.Empty(t, logger.warnings)
}
