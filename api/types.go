package api

import (
	"encoding/base64"
	"fmt"

	"github.com/qumail/keypool-backend/interfaces"
)

// IdempotencyTokenHeader carries the per-request allocation token. A retried
// allocation with the same token returns the original result instead of
// consuming fresh keys.
const IdempotencyTokenHeader = "X-Idempotency-Token"

// RequesterHeader identifies the calling entity on requests that have no
// body of their own (status, entropy).
const RequesterHeader = "X-Requester-Entity"

// WireKey is one key on the wire: identifier plus base64 payload. Both
// fields are mandatory; a decoded payload must be exactly
// interfaces.KeySizeBytes long.
type WireKey struct {
	KeyID   string `json:"key_id"`
	Payload string `json:"payload"`
}

// Decode validates the entry shape and returns the raw material.
func (k *WireKey) Decode() (interfaces.AllocatedKey, error) {
	if k.KeyID == "" {
		return interfaces.AllocatedKey{}, fmt.Errorf("%w: key entry missing id", interfaces.ErrProtocolViolation)
	}
	if k.Payload == "" {
		return interfaces.AllocatedKey{}, fmt.Errorf("%w: key %s missing payload", interfaces.ErrProtocolViolation, k.KeyID)
	}
	raw, err := base64.StdEncoding.DecodeString(k.Payload)
	if err != nil {
		return interfaces.AllocatedKey{}, fmt.Errorf("%w: key %s payload is not valid base64", interfaces.ErrProtocolViolation, k.KeyID)
	}
	if len(raw) != interfaces.KeySizeBytes {
		return interfaces.AllocatedKey{}, fmt.Errorf("%w: key %s payload is %d bytes, want %d",
			interfaces.ErrProtocolViolation, k.KeyID, len(raw), interfaces.KeySizeBytes)
	}
	return interfaces.AllocatedKey{ID: interfaces.KeyID(k.KeyID), Bytes: raw}, nil
}

// EncodeKey converts raw material to its wire form.
func EncodeKey(k interfaces.AllocatedKey) WireKey {
	return WireKey{
		KeyID:   k.ID.String(),
		Payload: base64.StdEncoding.EncodeToString(k.Bytes),
	}
}

// StatusResponse mirrors interfaces.PoolStatus on the wire.
type StatusResponse struct {
	EntityID      string  `json:"entity_id"`
	PoolID        string  `json:"pool_id"`
	TotalKeys     int     `json:"total_keys"`
	UsedKeys      int     `json:"used_keys"`
	AvailableKeys int     `json:"available_keys"`
	UsagePercent  float64 `json:"usage_percent"`
	IsLow         bool    `json:"is_low"`
	Limit         int     `json:"limit"`
	LowThreshold  int     `json:"low_threshold"`
}

// StatusFromPool converts an engine snapshot to its wire form.
func StatusFromPool(s *interfaces.PoolStatus) StatusResponse {
	return StatusResponse{
		EntityID:      s.EntityID.String(),
		PoolID:        s.PoolID.String(),
		TotalKeys:     s.TotalKeys,
		UsedKeys:      s.UsedKeys,
		AvailableKeys: s.AvailableKeys,
		UsagePercent:  s.UsagePercent(),
		IsLow:         s.IsLow(),
		Limit:         s.Limit,
		LowThreshold:  s.LowThreshold,
	}
}

// ToPoolStatus converts the wire form back to the engine type.
func (r *StatusResponse) ToPoolStatus() *interfaces.PoolStatus {
	return &interfaces.PoolStatus{
		EntityID:      interfaces.EntityID(r.EntityID),
		PoolID:        interfaces.PoolID(r.PoolID),
		TotalKeys:     r.TotalKeys,
		UsedKeys:      r.UsedKeys,
		AvailableKeys: r.AvailableKeys,
		Limit:         r.Limit,
		LowThreshold:  r.LowThreshold,
	}
}

// AllocateRequest asks for count keys from owner's pool for requester.
type AllocateRequest struct {
	RequesterID string `json:"requester_id"`
	OwnerID     string `json:"owner_id"`
	Count       int    `json:"count"`
	KeySize     int    `json:"key_size"`
	Purpose     string `json:"purpose,omitempty"`
}

// AllocateResponse returns the consumed keys.
type AllocateResponse struct {
	Keys        []WireKey `json:"keys"`
	SourcePool  string    `json:"source_pool"`
	DeliveredTo string    `json:"delivered_to"`
	Count       int       `json:"count"`
}

// FetchRequest asks for previously delivered keys by id.
type FetchRequest struct {
	RequesterID string   `json:"requester_id"`
	KeyIDs      []string `json:"key_ids"`
}

// FetchResponse separates readable keys from missing-or-denied ids.
type FetchResponse struct {
	Found           []WireKey `json:"found"`
	MissingOrDenied []string  `json:"missing_or_denied"`
}

// ConsumeRequest acknowledges consumption of delivered keys.
type ConsumeRequest struct {
	RequesterID string   `json:"requester_id"`
	KeyIDs      []string `json:"key_ids"`
}

// RegisterRequest creates an entity with a pre-filled pool.
type RegisterRequest struct {
	EntityID        string `json:"entity_id"`
	Contact         string `json:"contact"`
	InitialPoolSize int    `json:"initial_pool_size"`
}

// RegisterResponse summarizes the created pool.
type RegisterResponse struct {
	EntityID string         `json:"entity_id"`
	PoolID   string         `json:"pool_id"`
	Status   StatusResponse `json:"status"`
}

// RefillRequest tops a pool up; Count <= 0 means "to capacity".
type RefillRequest struct {
	Count int `json:"count"`
}

// RefillResponse reports the top-up outcome.
type RefillResponse struct {
	Added           int `json:"added"`
	AvailableBefore int `json:"available_before"`
	AvailableAfter  int `json:"available_after"`
}

// DeleteResponse reports cascade-deletion counts.
type DeleteResponse struct {
	KeysDeleted       int `json:"keys_deleted"`
	DeliveriesDeleted int `json:"deliveries_deleted"`
}

// EntropyResponse reports the Shannon entropy health signal.
type EntropyResponse struct {
	BitsPerByte float64 `json:"bits_per_byte"`
	SampleBytes int     `json:"sample_bytes"`
}

// LowPoolsResponse lists pools under their low watermark.
type LowPoolsResponse struct {
	Pools []StatusResponse `json:"pools"`
}
