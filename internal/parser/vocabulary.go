package parser

import (
	"regexp"
	"strings"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// kindVocabulary maps proof kinds to the words that name them. New kinds or
// synonyms are added here and picked up by every rule.
var kindVocabulary = []struct {
	kind    models.ProofKind
	pattern *regexp.Regexp
}{
	{models.ProofKindKYC, regexp.MustCompile(`\b(?:kyc|compliance|compliant)\b`)},
	{models.ProofKindLocation, regexp.MustCompile(`\b(?:location|geolocation|geo|geographic)\b`)},
	{models.ProofKindAIContent, regexp.MustCompile(`\b(?:ai[- ]?content|ai|artificial(?:[- ]intelligence)?)\b`)},
}

var (
	generateVerbRe = regexp.MustCompile(`\b(?:generate|create|make|prove|produce)\b`)
	verifyVerbRe   = regexp.MustCompile(`\b(?:verify|check|validate)\b`)
	transferVerbRe = regexp.MustCompile(`\b(?:send|transfer|pay)\b`)
	waitVerbRe     = regexp.MustCompile(`\b(?:wait|pause|delay|sleep)\b`)

	amountRe      = regexp.MustCompile(`(?:^|[\s$])(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?|\.\d+)\b`)
	amountToRe    = regexp.MustCompile(`(?:^|[\s$])(?:\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?|\.\d+)\s*(?:[a-z]+\s+)?to\s+\S`)
	recipientToRe = regexp.MustCompile(`\bto\s+(?:the\s+)?(0x[0-9a-f]+|[a-z][a-z0-9_]*)`)
	recipientPay  = regexp.MustCompile(`\b(?:pay|send)\s+([a-z][a-z0-9_]*)`)

	solanaRe  = regexp.MustCompile(`\bsol(?:ana)?\b`)
	onChainRe = regexp.MustCompile(`\bon[- ]?chain\b`)
	onSolRe   = regexp.MustCompile(`\bon\s+sol(?:ana)?\b`)
	onEthRe   = regexp.MustCompile(`\bon\s+eth(?:ereum)?\b`)

	durationRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|secs?|seconds?|m|mins?|minutes?)?\b`)

	latLonRe    = regexp.MustCompile(`(-?\d{1,3}\.\d+)\s*,\s*(-?\d{1,3}\.\d+)`)
	hashRe      = regexp.MustCompile(`\b(?:0x)?([0-9a-f]{16,64})\b`)
	providerRe  = regexp.MustCompile(`\b(openai|anthropic|google|gemini|claude|gpt-?4?|midjourney|stability)\b`)
	walletRe    = regexp.MustCompile(`\b0x[0-9a-f]{40}\b`)
	forPersonRe = regexp.MustCompile(`\bfor\s+([a-z][a-z0-9_]*)`)
	possessRe   = regexp.MustCompile(`\b([a-z][a-z0-9_]*)'s\b`)
	subjectRe   = regexp.MustCompile(`^([a-z][a-z0-9_]*)\s+(?:is|has|was|are|gets|passes)\b`)

	ifRe          = regexp.MustCompile(`\bif\b`)
	verifiedRe    = regexp.MustCompile(`\b(?:verified|compliant)\b`)
	conjunctionRe = regexp.MustCompile(`\s+and\s+`)

	// transferSplitRe separates payments listed after a condition:
	// "... if x, pay bob" and "... if x and send 2 to bob".
	transferSplitRe = regexp.MustCompile(`(?:\s+and|,(?:\s+and)?)\s+(send|transfer|pay)\b`)
)

// Sequence connectives. Commas only separate list items when followed by a
// word, so coordinates such as "40.7, -74.0" stay intact.
var (
	connectiveRe = regexp.MustCompile(`\s*(?:\band then\b|\bthen\b|\bafter that\b|\bafter the\b|\bfollowed by\b|\bfinally\b|;)\s*`)
	commaRe      = regexp.MustCompile(`,\s+([a-z])`)
	andVerbRe    = regexp.MustCompile(`\s+and\s+(generate|create|make|prove|produce|verify|check|validate|wait|pause|delay|send|transfer|pay)\b`)
)

// pronouns resolve to the transfer recipient in conditional clauses.
var pronouns = map[string]bool{
	"he": true, "she": true, "they": true, "his": true, "her": true,
	"their": true, "them": true, "him": true,
}

// notPeople are words that look like a subject but never name a party.
var notPeople = map[string]bool{
	"the": true, "a": true, "an": true, "it": true, "this": true, "that": true,
	"proof": true, "kyc": true, "location": true, "ai": true, "content": true,
	"compliance": true, "user": true, "me": true, "my": true, "verified": true,
	"recipient": true, "sender": true, "wallet": true,
}

type coordinates struct {
	lat, lon string
}

var cities = map[string]coordinates{
	"new york":      {"40.7128", "-74.0060"},
	"nyc":           {"40.7128", "-74.0060"},
	"san francisco": {"37.7749", "-122.4194"},
	"los angeles":   {"34.0522", "-118.2437"},
	"chicago":       {"41.8781", "-87.6298"},
	"london":        {"51.5074", "-0.1278"},
	"paris":         {"48.8566", "2.3522"},
	"berlin":        {"52.5200", "13.4050"},
	"tokyo":         {"35.6762", "139.6503"},
	"singapore":     {"1.3521", "103.8198"},
	"sydney":        {"-33.8688", "151.2093"},
	"toronto":       {"43.6532", "-79.3832"},
}

const defaultCity = "new york"

// kindOf returns the proof kind named earliest in text.
func kindOf(text string) models.ProofKind {
	best, bestAt := models.ProofKind(""), -1
	for _, v := range kindVocabulary {
		loc := v.pattern.FindStringIndex(text)
		if loc != nil && (bestAt < 0 || loc[0] < bestAt) {
			best, bestAt = v.kind, loc[0]
		}
	}
	return best
}

// mentionsKind reports whether text names the given proof kind.
func mentionsKind(text string, kind models.ProofKind) bool {
	for _, v := range kindVocabulary {
		if v.kind == kind {
			return v.pattern.MatchString(text)
		}
	}
	return strings.Contains(text, string(kind))
}

func hasTransferCue(text string) bool {
	return transferVerbRe.MatchString(text) || amountToRe.MatchString(text)
}

func chainOf(text string) models.Chain {
	if solanaRe.MatchString(text) {
		return models.ChainSOL
	}
	return models.ChainETH
}

func person(text string) string {
	if m := forPersonRe.FindStringSubmatch(text); m != nil && !notPeople[m[1]] && !pronouns[m[1]] {
		return m[1]
	}
	if m := possessRe.FindStringSubmatch(text); m != nil && !notPeople[m[1]] && !pronouns[m[1]] {
		return m[1]
	}
	return ""
}
