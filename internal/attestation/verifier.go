// Package attestation checks device attestation tokens and third-party proof
// references before an event is scored. All calls are made outside the ledger
// transaction and degrade to "absent" when the verifier cannot answer.
package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/richxcame/points-ledger/internal/trust"
	"github.com/richxcame/points-ledger/pkg/config"
	"github.com/richxcame/points-ledger/pkg/httpclient"
	"github.com/richxcame/points-ledger/pkg/logger"
	"github.com/richxcame/points-ledger/pkg/resilience"
	"go.uber.org/zap"
)

// DeviceRequest is the attestation material a client submits in device_info
type DeviceRequest struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
	Token    string `json:"token"`
}

// ProofRequest references a confirmation held by an external provider
type ProofRequest struct {
	UserID    string    `json:"user_id"`
	EventType string    `json:"event_type"`
	Provider  string    `json:"provider"`
	Reference string    `json:"reference"`
	EventTime time.Time `json:"event_time"`
}

// Verifier answers attestation and proof questions for event intake
type Verifier interface {
	VerifyDevice(ctx context.Context, req DeviceRequest) trust.Attestation
	ConfirmProof(ctx context.Context, req ProofRequest) bool
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

type confirmResponse struct {
	Confirmed bool `json:"confirmed"`
}

// HTTPVerifier calls the attestation and proof services over HTTP
type HTTPVerifier struct {
	device  *httpclient.Client
	proof   *httpclient.Client
	headers map[string]string
}

// NewHTTPVerifier builds a verifier with one breaker per upstream. Empty URLs
// disable the corresponding check.
func NewHTTPVerifier(cfg config.AttestationConfig) *HTTPVerifier {
	v := &HTTPVerifier{headers: map[string]string{}}
	if cfg.APIKey != "" {
		v.headers["X-API-Key"] = cfg.APIKey
	}
	if cfg.VerifierURL != "" {
		v.device = newUpstream("attestation-verifier", cfg.VerifierURL, cfg)
	}
	if cfg.ProofURL != "" {
		v.proof = newUpstream("third-party-proof", cfg.ProofURL, cfg)
	}
	return v
}

func newUpstream(name, url string, cfg config.AttestationConfig) *httpclient.Client {
	breaker := resilience.NewCircuitBreaker(
		resilience.UpstreamSettings(name, cfg.FailureThreshold, cfg.BreakerCooldown),
		resilience.Degraded(name),
	)
	return httpclient.NewClient(url, cfg.Timeout).Apply(httpclient.WithBreaker(breaker))
}

// VerifyDevice reports Valid or Invalid when the verifier answers and Absent otherwise.
// A missing token on a submission that claims attestation is Invalid.
func (v *HTTPVerifier) VerifyDevice(ctx context.Context, req DeviceRequest) trust.Attestation {
	if req.Token == "" {
		return trust.AttestationInvalid
	}
	if v.device == nil {
		return trust.AttestationAbsent
	}

	body, err := v.device.Post(ctx, "/verify", req, v.headers)
	if err != nil {
		if isRejection(err) {
			return trust.AttestationInvalid
		}
		logger.WithContext(ctx).Warn("attestation verifier unavailable", zap.Error(err))
		return trust.AttestationAbsent
	}

	var resp verifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		logger.WithContext(ctx).Warn("attestation verifier returned malformed body", zap.Error(err))
		return trust.AttestationAbsent
	}
	if resp.Valid {
		return trust.AttestationValid
	}
	return trust.AttestationInvalid
}

// ConfirmProof reports whether the provider confirmed the referenced activity
func (v *HTTPVerifier) ConfirmProof(ctx context.Context, req ProofRequest) bool {
	if v.proof == nil || req.Provider == "" || req.Reference == "" {
		return false
	}

	body, err := v.proof.Post(ctx, "/confirm", req, v.headers)
	if err != nil {
		logger.WithContext(ctx).Warn("third-party proof check failed",
			zap.String("provider", req.Provider), zap.Error(err))
		return false
	}

	var resp confirmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	return resp.Confirmed
}

// 4xx answers other than throttling mean the verifier looked at the token and refused it
func isRejection(err error) bool {
	var httpErr *httpclient.HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && !resilience.IsRetryableHTTPStatus(httpErr.StatusCode)
}

// NoopVerifier treats every attestation as absent and every proof as unconfirmed
type NoopVerifier struct{}

func (NoopVerifier) VerifyDevice(context.Context, DeviceRequest) trust.Attestation {
	return trust.AttestationAbsent
}

func (NoopVerifier) ConfirmProof(context.Context, ProofRequest) bool {
	return false
}

var _ Verifier = (*HTTPVerifier)(nil)
var _ Verifier = NoopVerifier{}
