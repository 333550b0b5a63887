// Package trust computes the 0-100 confidence score that decides whether a
// submitted event is applied, held for review, or rejected.
//
// Score is a pure function: the same Input and weights always produce the same
// Result, and nothing here touches storage or the network.
package trust

import (
	"time"

	"github.com/richxcame/points-ledger/pkg/config"
)

// Attestation is the outcome of device attestation verification
type Attestation int

const (
	AttestationAbsent Attestation = iota
	AttestationValid
	AttestationInvalid
)

// Decision is the validation status a score maps to
type Decision string

const (
	DecisionValidate Decision = "validated"
	DecisionReview   Decision = "pending_review"
	DecisionReject   Decision = "rejected"
)

// Input is the submission metadata the scorer weighs
type Input struct {
	Attestation         Attestation
	ThirdPartyConfirmed bool
	AccountAge          time.Duration
	// SincePrevious is the gap since the user's previous event; nil for a first event
	SincePrevious  *time.Duration
	KnownDevice    bool
	ConfirmedFraud bool
	Honeypot       bool
}

// Factor is one weighted contribution
type Factor struct {
	Name  string `json:"name"`
	Delta int    `json:"delta"`
}

// Result is a clamped score with its breakdown
type Result struct {
	Score   int      `json:"score"`
	Factors []Factor `json:"factors"`
}

// Score weighs in against w and clamps the total to [0, 100]
func Score(in Input, w config.TrustConfig) Result {
	if in.Honeypot {
		return Result{Score: 0, Factors: []Factor{{Name: "honeypot", Delta: -w.Baseline}}}
	}

	score := w.Baseline
	factors := make([]Factor, 0, 6)
	add := func(name string, delta int) {
		score += delta
		factors = append(factors, Factor{Name: name, Delta: delta})
	}

	switch in.Attestation {
	case AttestationValid:
		add("attestation_valid", w.AttestationValid)
	case AttestationInvalid:
		add("attestation_invalid", w.AttestationInvalid)
	}

	if in.ThirdPartyConfirmed {
		add("third_party_confirmed", w.ThirdPartyConfirmed)
	}

	switch {
	case in.AccountAge < w.NewAccountAge:
		add("new_account", w.NewAccountPenalty)
	case in.AccountAge >= w.EstablishedAge && !in.ConfirmedFraud:
		add("established_account", w.EstablishedBonus)
	}

	if in.ConfirmedFraud {
		add("confirmed_fraud", w.ConfirmedFraudPenalty)
	}

	if in.SincePrevious != nil {
		switch gap := *in.SincePrevious; {
		case gap < w.BurstSpacing:
			add("burst_spacing", w.BurstSpacingPenalty)
		case gap < w.RapidSpacing:
			add("rapid_spacing", w.RapidSpacingPenalty)
		}
	}

	if in.KnownDevice {
		add("known_device", w.KnownDevice)
	}

	return Result{Score: clamp(score), Factors: factors}
}

// Decide maps a score onto a validation status
func Decide(score int, w config.TrustConfig) Decision {
	switch {
	case score >= w.ValidateThreshold:
		return DecisionValidate
	case score >= w.ReviewThreshold:
		return DecisionReview
	default:
		return DecisionReject
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
