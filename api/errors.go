package api

import (
	"errors"
	"net/http"

	"github.com/qumail/keypool-backend/interfaces"
)

// ErrorResponse is the wire form of every failure.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Wire error codes. The client maps these back onto the interfaces
// sentinels so both backends fail identically from a caller's view.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeInsufficientKeys = "INSUFFICIENT_KEYS"
	CodeInvalidSize      = "INVALID_SIZE"
	CodeEntityExists     = "ENTITY_EXISTS"
	CodeInvalidPoolSize  = "INVALID_POOL_SIZE"
	CodeBadRequest       = "BAD_REQUEST"
	CodeInternal         = "INTERNAL"
)

// CodeForError maps an engine error to its wire code and HTTP status.
func CodeForError(err error) (code string, status int) {
	switch {
	case errors.Is(err, interfaces.ErrEntityNotFound),
		errors.Is(err, interfaces.ErrPoolNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.Is(err, interfaces.ErrInsufficientKeys):
		return CodeInsufficientKeys, http.StatusConflict
	case errors.Is(err, interfaces.ErrInvalidKeySize):
		return CodeInvalidSize, http.StatusBadRequest
	case errors.Is(err, interfaces.ErrEntityExists):
		return CodeEntityExists, http.StatusConflict
	case errors.Is(err, interfaces.ErrInvalidPoolSize):
		return CodeInvalidPoolSize, http.StatusBadRequest
	default:
		return CodeInternal, http.StatusInternalServerError
	}
}

// ErrorForCode maps a wire code back to the matching sentinel. Unknown codes
// map to ErrProtocolViolation: a peer speaking an unknown dialect is not
// trusted.
func ErrorForCode(code string) error {
	switch code {
	case CodeNotFound:
		return interfaces.ErrEntityNotFound
	case CodeInsufficientKeys:
		return interfaces.ErrInsufficientKeys
	case CodeInvalidSize:
		return interfaces.ErrInvalidKeySize
	case CodeEntityExists:
		return interfaces.ErrEntityExists
	case CodeInvalidPoolSize:
		return interfaces.ErrInvalidPoolSize
	case CodeBadRequest, CodeInternal:
		return errors.New("peer reported " + code)
	default:
		return interfaces.ErrProtocolViolation
	}
}
