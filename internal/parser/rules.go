package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

const defaultWaitMS = 5000

func matchProofGeneration(f fragment) bool {
	return kindOf(f.text) != "" && generateVerbRe.MatchString(f.text)
}

func buildProofGeneration(f fragment) (models.Step, bool) {
	step := proofStep(kindOf(f.text), person(f.text), f.text)
	step.Condition = f.condition
	return step, true
}

func proofStep(kind models.ProofKind, who, text string) models.Step {
	args, params := proofArguments(kind, text)
	return models.Step{
		Type:        models.StepTypeProofGeneration,
		Description: proofDescription(kind, who),
		ProofKind:   kind,
		Person:      who,
		Arguments:   args,
		Parameters:  params,
	}
}

// proofArguments extracts the oracle arguments for a proof kind.
func proofArguments(kind models.ProofKind, text string) ([]string, map[string]string) {
	switch kind {
	case models.ProofKindLocation:
		lat, lon, city := locationOf(text)
		params := map[string]string{"latitude": lat, "longitude": lon}
		if city != "" {
			params["city"] = city
		}
		return []string{lat, lon}, params
	case models.ProofKindAIContent:
		hash := contentHash(text)
		provider := "openai"
		if m := providerRe.FindStringSubmatch(text); m != nil {
			provider = m[1]
		}
		return []string{hash, provider}, map[string]string{"content_hash": hash, "provider": provider}
	default:
		params := map[string]string{}
		if w := walletRe.FindString(text); w != "" {
			params["wallet"] = w
		}
		return []string{"1"}, params
	}
}

// locationOf returns an explicit lat/lon pair, or the coordinates of the
// earliest named city, or the default city.
func locationOf(text string) (lat, lon, city string) {
	if m := latLonRe.FindStringSubmatch(text); m != nil {
		return m[1], m[2], ""
	}
	names := make([]string, 0, len(cities))
	for name := range cities {
		names = append(names, name)
	}
	sort.Strings(names)
	best, bestAt := "", -1
	for _, name := range names {
		at := strings.Index(text, name)
		if at < 0 {
			continue
		}
		if bestAt < 0 || at < bestAt || (at == bestAt && len(name) > len(best)) {
			best, bestAt = name, at
		}
	}
	if best == "" {
		c := cities[defaultCity]
		return c.lat, c.lon, defaultCity
	}
	c := cities[best]
	return c.lat, c.lon, best
}

// contentHash returns the hash named in text, or a stable digest of the
// text itself.
func contentHash(text string) string {
	if m := hashRe.FindStringSubmatch(text); m != nil {
		return "0x" + m[1]
	}
	sum := sha256.Sum256([]byte(text))
	return "0x" + hex.EncodeToString(sum[:16])
}

func proofDescription(kind models.ProofKind, who string) string {
	d := fmt.Sprintf("Generate %s proof", kind.Label())
	if who != "" {
		d += " for " + who
	}
	return d
}

func matchVerification(f fragment) bool {
	return verifyVerbRe.MatchString(f.text)
}

func buildVerification(f fragment) (models.Step, bool) {
	step := models.Step{
		Type:      models.StepTypeVerification,
		Condition: f.condition,
		Person:    person(f.text),
	}
	if id, ok := models.FindProofID(f.text); ok {
		step.Target = id
		step.ProofKind = models.ProofKindFromID(id)
	} else if kind := kindOf(f.text); kind != "" {
		step.ProofKind = kind
	} else {
		step.Target = models.VerifyTargetLast
	}
	switch {
	case onSolRe.MatchString(f.text):
		step.Chain = models.ChainSOL
	case onEthRe.MatchString(f.text), onChainRe.MatchString(f.text):
		step.Chain = models.ChainETH
	}
	step.Description = verificationDescription(step)
	return step, true
}

func verificationDescription(s models.Step) string {
	var d string
	switch {
	case s.Target != "" && s.Target != models.VerifyTargetLast:
		d = "Verify proof " + s.Target
	case s.ProofKind != "":
		d = fmt.Sprintf("Verify %s proof", s.ProofKind.Label())
		if s.Person != "" {
			d += " for " + s.Person
		}
	default:
		d = "Verify last proof"
	}
	if s.Chain != "" {
		d += fmt.Sprintf(" on-chain (%s)", s.Chain)
	}
	return d
}

// matchTransfer accepts any transfer cue. A payment with no amount still
// becomes a step so it is reported instead of vanishing.
func matchTransfer(f fragment) bool {
	return hasTransferCue(f.text)
}

func buildTransfer(f fragment) (models.Step, bool) {
	step := transferStep(f.text, chainOf(f.text))
	if f.condition != "" {
		applyRequirements(&step, f.condition)
	}
	return step, true
}

// transferStep builds a payment. Amount is left empty when text names none,
// which the executor rejects.
func transferStep(text string, chain models.Chain) models.Step {
	params := &models.TransferParams{
		Recipient: recipientOf(text),
		Chain:     chain,
	}
	description := fmt.Sprintf("Send USDC to %s on %s (amount missing)", params.Recipient, params.Chain)
	if m := amountRe.FindStringSubmatch(text); m != nil {
		params.Amount = normalizeAmount(m[1])
		description = fmt.Sprintf("Send %s USDC to %s on %s", params.Amount, params.Recipient, params.Chain)
	}
	return models.Step{
		Type:        models.StepTypeTransfer,
		Description: description,
		Transfer:    params,
	}
}

// normalizeAmount drops digit grouping and gives leading-dot amounts a
// zero: "1,000" becomes "1000" and ".5" becomes "0.5".
func normalizeAmount(a string) string {
	a = strings.ReplaceAll(a, ",", "")
	if strings.HasPrefix(a, ".") {
		return "0" + a
	}
	return a
}

var currencyWords = map[string]bool{"usdc": true, "usd": true, "eth": true, "sol": true, "dollars": true, "dollar": true, "tokens": true}

func recipientOf(text string) string {
	if m := recipientToRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := recipientPay.FindStringSubmatch(text); m != nil && !currencyWords[m[1]] && !notPeople[m[1]] {
		return m[1]
	}
	return "alice"
}

// applyRequirements derives the proofs gating a transfer from its condition.
// Clauses naming no known proof kind are kept in Conditions only.
func applyRequirements(step *models.Step, condition string) {
	step.Condition = condition
	step.RequiresProof = true
	recipient := ""
	if step.Transfer != nil {
		recipient = step.Transfer.Recipient
	}
	for _, c := range conditionClauses(condition, recipient) {
		step.Conditions = append(step.Conditions, c.text)
		if c.kind == "" {
			continue
		}
		if !containsKind(step.RequiredProofTypes, c.kind) {
			step.RequiredProofTypes = append(step.RequiredProofTypes, c.kind)
		}
		req := models.ProofRequirement{Kind: c.kind, Person: c.person}
		if !containsRequirement(step.RequiredProofs, req) {
			step.RequiredProofs = append(step.RequiredProofs, req)
		}
	}
}

func containsKind(kinds []models.ProofKind, k models.ProofKind) bool {
	for _, existing := range kinds {
		if existing == k {
			return true
		}
	}
	return false
}

func containsRequirement(reqs []models.ProofRequirement, r models.ProofRequirement) bool {
	for _, existing := range reqs {
		if existing == r {
			return true
		}
	}
	return false
}

func matchWait(f fragment) bool {
	return waitVerbRe.MatchString(f.text)
}

func buildWait(f fragment) (models.Step, bool) {
	ms := int64(defaultWaitMS)
	rest := f.text[waitVerbRe.FindStringIndex(f.text)[1]:]
	if m := durationRe.FindStringSubmatch(rest); m != nil {
		n, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			ms = int64(n * float64(unitMS(m[2])))
		}
	}
	return models.Step{
		Type:        models.StepTypeWait,
		Description: fmt.Sprintf("Wait %dms", ms),
		Condition:   f.condition,
		DurationMS:  ms,
	}, true
}

// unitMS converts a duration unit to milliseconds. A bare number is seconds.
func unitMS(unit string) int64 {
	switch {
	case unit == "ms" || strings.HasPrefix(unit, "milli"):
		return 1
	case unit == "m" || strings.HasPrefix(unit, "min"):
		return 60_000
	default:
		return 1000
	}
}
