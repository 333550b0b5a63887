package trust

import (
	"testing"
	"time"

	"github.com/richxcame/points-ledger/pkg/config"
	"github.com/stretchr/testify/assert"
)

const day = 24 * time.Hour

func spacing(d time.Duration) *time.Duration { return &d }

func TestScore_AttestedEstablishedAccount(t *testing.T) {
	r := Score(Input{
		Attestation:   AttestationValid,
		AccountAge:    30 * day,
		SincePrevious: spacing(300 * time.Second),
	}, config.DefaultTrustConfig())

	assert.GreaterOrEqual(t, r.Score, 60)
	assert.Equal(t, DecisionValidate, Decide(r.Score, config.DefaultTrustConfig()))
}

func TestScore_BareNewAccount(t *testing.T) {
	r := Score(Input{
		AccountAge:    day / 2,
		SincePrevious: spacing(300 * time.Second),
	}, config.DefaultTrustConfig())

	assert.Less(t, r.Score, 30)
	assert.Equal(t, DecisionReject, Decide(r.Score, config.DefaultTrustConfig()))
}

func TestScore_SubSecondSpacing(t *testing.T) {
	r := Score(Input{
		AccountAge:    30 * day,
		SincePrevious: spacing(500 * time.Millisecond),
	}, config.DefaultTrustConfig())

	assert.Less(t, r.Score, 20)
}

func TestScore_HoneypotForcesZero(t *testing.T) {
	r := Score(Input{
		Attestation:         AttestationValid,
		ThirdPartyConfirmed: true,
		AccountAge:          365 * day,
		KnownDevice:         true,
		Honeypot:            true,
	}, config.DefaultTrustConfig())

	assert.Equal(t, 0, r.Score)
	assert.Equal(t, "honeypot", r.Factors[0].Name)
}

func TestScore_Deterministic(t *testing.T) {
	in := Input{Attestation: AttestationInvalid, AccountAge: 10 * day, SincePrevious: spacing(5 * time.Second), KnownDevice: true}
	w := config.DefaultTrustConfig()

	first := Score(in, w)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Score(in, w))
	}
}

func TestScore_Weights(t *testing.T) {
	w := config.DefaultTrustConfig()
	mid := 10 * day // neither new nor established
	slow := spacing(time.Hour)

	tests := []struct {
		name     string
		in       Input
		expected int
	}{
		{"baseline", Input{AccountAge: mid, SincePrevious: slow}, 50},
		{"first event has no spacing factor", Input{AccountAge: mid}, 50},
		{"attestation valid", Input{AccountAge: mid, Attestation: AttestationValid}, 90},
		{"attestation invalid", Input{AccountAge: mid, Attestation: AttestationInvalid}, 30},
		{"third party", Input{AccountAge: mid, ThirdPartyConfirmed: true}, 80},
		{"known device", Input{AccountAge: mid, KnownDevice: true}, 65},
		{"rapid spacing", Input{AccountAge: mid, SincePrevious: spacing(5 * time.Second)}, 35},
		{"spacing at burst boundary is rapid", Input{AccountAge: mid, SincePrevious: spacing(time.Second)}, 35},
		{"established", Input{AccountAge: 30 * day}, 60},
		{"new account", Input{AccountAge: time.Hour}, 25},
		{"clamped high", Input{AccountAge: 40 * day, Attestation: AttestationValid, ThirdPartyConfirmed: true, KnownDevice: true}, 100},
		{"clamped low", Input{AccountAge: time.Hour, Attestation: AttestationInvalid, SincePrevious: spacing(0)}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Score(tc.in, w).Score)
		})
	}
}

func TestScore_ConfirmedFraudForfeitsAgeBonus(t *testing.T) {
	w := config.DefaultTrustConfig()

	clean := Score(Input{AccountAge: 60 * day, Attestation: AttestationValid}, w)
	flagged := Score(Input{AccountAge: 60 * day, Attestation: AttestationValid, ConfirmedFraud: true}, w)

	assert.Equal(t, 100, clean.Score)
	assert.Equal(t, 60, flagged.Score)
	for _, f := range flagged.Factors {
		assert.NotEqual(t, "established_account", f.Name)
	}
}

func TestDecide_Thresholds(t *testing.T) {
	w := config.DefaultTrustConfig()

	assert.Equal(t, DecisionValidate, Decide(60, w))
	assert.Equal(t, DecisionReview, Decide(59, w))
	assert.Equal(t, DecisionReview, Decide(30, w))
	assert.Equal(t, DecisionReject, Decide(29, w))
	assert.Equal(t, DecisionReject, Decide(0, w))
}
