package interfaces

import "errors"

// Error taxonomy of the pool engine. Callers compare with errors.Is; the
// remote client maps wire error codes back onto these same sentinels so a
// caller cannot tell the backends apart by their failures.
var (
	// ErrEntityNotFound is returned when the referenced entity is not registered.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrPoolNotFound is returned when the entity exists but has no pool.
	ErrPoolNotFound = errors.New("key pool not found")

	// ErrKeyNotFound is returned internally when a key record is absent.
	// Never surfaced through FetchByIDs, which folds it into MissingOrDenied.
	ErrKeyNotFound = errors.New("key not found")

	// ErrEntityExists is returned when registering an already-known entity
	// id or contact address.
	ErrEntityExists = errors.New("entity already registered")

	// ErrInsufficientKeys is returned when a pool holds fewer unused keys
	// than requested. Allocation is all-or-nothing; nothing is consumed.
	ErrInsufficientKeys = errors.New("insufficient keys in pool")

	// ErrInvalidKeySize is returned for any requested size other than
	// KeySizeBytes, before storage is touched.
	ErrInvalidKeySize = errors.New("invalid key size requested")

	// ErrAccessDenied is recorded on the audit path when a requester is
	// neither the pool owner nor the recorded recipient of a key. The API
	// boundary folds it into MissingOrDenied.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidPoolSize is returned when a registration requests an
	// initial pool size outside [MinInitialPoolSize, MaxInitialPoolSize].
	ErrInvalidPoolSize = errors.New("initial pool size out of range")

	// ErrProtocolViolation is returned by the remote client when the peer
	// responds with a malformed body (missing id, bad base64, wrong size).
	// Never retried; the response is never partially applied.
	ErrProtocolViolation = errors.New("remote peer violated pool protocol")

	// ErrUpstreamTimeout is the only retryable error class: a request or
	// relay timed out before the peer produced a definitive answer.
	ErrUpstreamTimeout = errors.New("upstream pool request timed out")

	// ErrRemoteAuth is returned when the peer rejects our client certificate.
	ErrRemoteAuth = errors.New("remote peer rejected client credentials")
)
