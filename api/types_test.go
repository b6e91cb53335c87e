package api

import (
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qumail/keypool-backend/interfaces"
)

func TestWireKey_DecodeRoundTrip(t *testing.T) {
	raw := make([]byte, interfaces.KeySizeBytes)
	for i := range raw {
		raw[i] = byte(i)
	}

	wire := EncodeKey(interfaces.AllocatedKey{ID: "pool-1-K000001", Bytes: raw})
	decoded, err := wire.Decode()
	require.NoError(t, err)
	assert.Equal(t, interfaces.KeyID("pool-1-K000001"), decoded.ID)
	assert.Equal(t, raw, decoded.Bytes)
}

func TestWireKey_DecodeRejectsMalformed(t *testing.T) {
	goodPayload := base64.StdEncoding.EncodeToString(make([]byte, interfaces.KeySizeBytes))

	cases := []struct {
		name string
		key  WireKey
	}{
		{"missing id", WireKey{Payload: goodPayload}},
		{"missing payload", WireKey{KeyID: "p-K000001"}},
		{"not base64", WireKey{KeyID: "p-K000001", Payload: "%%% not base64 %%%"}},
		{"too short", WireKey{KeyID: "p-K000001", Payload: base64.StdEncoding.EncodeToString(make([]byte, 512))}},
		{"too long", WireKey{KeyID: "p-K000001", Payload: base64.StdEncoding.EncodeToString(make([]byte, interfaces.KeySizeBytes+1))}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.key.Decode()
			assert.ErrorIs(t, err, interfaces.ErrProtocolViolation)
		})
	}
}

func TestErrorCodes_RoundTrip(t *testing.T) {
	for _, err := range []error{
		interfaces.ErrEntityNotFound,
		interfaces.ErrInsufficientKeys,
		interfaces.ErrInvalidKeySize,
		interfaces.ErrEntityExists,
		interfaces.ErrInvalidPoolSize,
	} {
		code, _ := CodeForError(err)
		assert.ErrorIs(t, ErrorForCode(code), err, "code %s", code)
	}
}

func TestCodeForError_Statuses(t *testing.T) {
	code, status := CodeForError(interfaces.ErrInsufficientKeys)
	assert.Equal(t, CodeInsufficientKeys, code)
	assert.Equal(t, http.StatusConflict, status)

	code, status = CodeForError(interfaces.ErrPoolNotFound)
	assert.Equal(t, CodeNotFound, code)
	assert.Equal(t, http.StatusNotFound, status)

	code, status = CodeForError(assert.AnError)
	assert.Equal(t, CodeInternal, code)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestErrorForCode_UnknownDialect(t *testing.T) {
	assert.ErrorIs(t, ErrorForCode("WAT"), interfaces.ErrProtocolViolation)
}

func TestStatusResponse_RoundTrip(t *testing.T) {
	status := &interfaces.PoolStatus{
		EntityID:      "bob",
		PoolID:        "pool-1",
		TotalKeys:     100,
		UsedKeys:      85,
		AvailableKeys: 15,
		Limit:         100,
		LowThreshold:  20,
	}

	wire := StatusFromPool(status)
	assert.InDelta(t, 85.0, wire.UsagePercent, 0.001)
	assert.True(t, wire.IsLow)

	back := wire.ToPoolStatus()
	assert.Equal(t, status, back)
}
