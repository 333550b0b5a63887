package intake

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// canonicalSubmission is the content the payload hash covers. Field order is
// fixed and maps marshal with sorted keys, so equal submissions hash equally.
// device_info is excluded: clients attach volatile telemetry to it.
type canonicalSubmission struct {
	UserID            string                 `json:"user_id"`
	EventType         string                 `json:"event_type"`
	EventTime         string                 `json:"event_time"`
	Nonce             string                 `json:"nonce"`
	ProofType         string                 `json:"proof_type"`
	RelatedEntityType string                 `json:"related_entity_type"`
	RelatedEntityID   string                 `json:"related_entity_id"`
	DeviceID          string                 `json:"device_id"`
	PointsDelta       *int                   `json:"points_delta"`
	Payload           map[string]interface{} `json:"payload"`
}

// PayloadHash returns the hex SHA-256 of the canonical submission for userID.
// adminDelta is set only for event types whose delta the caller chooses.
func PayloadHash(userID uuid.UUID, req *SubmitRequest, proofType string, adminDelta *int) (string, error) {
	c := canonicalSubmission{
		UserID:            userID.String(),
		EventType:         req.EventType,
		EventTime:         req.EventTime.UTC().Format(time.RFC3339Nano),
		Nonce:             req.Nonce,
		ProofType:         proofType,
		RelatedEntityType: deref(req.RelatedEntityType),
		RelatedEntityID:   deref(req.RelatedEntityID),
		DeviceID:          deref(req.DeviceID),
		Payload:           req.Payload,
	}
	if adminDelta != nil {
		delta := *adminDelta
		c.PointsDelta = &delta
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func marshalOptional(m map[string]interface{}) json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return raw
}
