package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qumail/keypool-backend/api"
	"github.com/qumail/keypool-backend/cryptoutils"
	"github.com/qumail/keypool-backend/interfaces"
	"github.com/qumail/keypool-backend/metrics"
	"github.com/qumail/keypool-backend/pool"
)

// entropySampleKeys bounds how many recent keys feed one entropy reading.
const entropySampleKeys = 64

// Handler serves the pool capability contract plus the lifecycle operations
// over HTTP. It delegates all semantics to the local engine; the handler
// only translates wire shapes and error codes.
type Handler struct {
	engine      *pool.Engine
	log         *slog.Logger
	idempotency *idempotencyCache
}

// NewHandler creates a handler over the given engine.
func NewHandler(engine *pool.Engine, log *slog.Logger) *Handler {
	return &Handler{
		engine:      engine,
		log:         log,
		idempotency: newIdempotencyCache(),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code, status := api.CodeForError(err)
	if code == api.CodeInternal {
		h.log.Error("Request failed", "err", err)
	}
	h.writeJSON(w, status, api.ErrorResponse{Code: code, Error: err.Error()})
}

// HandleStatus serves GET /api/v1/pools/{entity}.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	entity := interfaces.EntityID(chi.URLParam(r, "entity"))
	status, err := h.engine.Status(r.Context(), entity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	metrics.PoolAvailableKeys.WithLabelValues(entity.String()).Set(float64(status.AvailableKeys))
	h.writeJSON(w, http.StatusOK, api.StatusFromPool(status))
}

// HandleAllocate serves POST /api/v1/pools/{entity}/allocate. The entity in
// the path is the pool owner. An X-Idempotency-Token header makes the
// allocation replay-safe: a retried request with the same token returns the
// original keys.
func (h *Handler) HandleAllocate(w http.ResponseWriter, r *http.Request) {
	owner := interfaces.EntityID(chi.URLParam(r, "entity"))

	var req api.AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Code: api.CodeBadRequest, Error: "malformed request body"})
		return
	}
	if req.OwnerID != "" && req.OwnerID != owner.String() {
		h.writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Code: api.CodeBadRequest, Error: "owner mismatch between path and body"})
		return
	}

	token := r.Header.Get(api.IdempotencyTokenHeader)
	if token != "" {
		if cached, ok := h.idempotency.get(token); ok {
			h.log.Info("Replayed allocation from idempotency cache",
				"token", token, "owner", owner.String())
			h.writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	purpose := req.Purpose
	if purpose == "" {
		purpose = pool.DefaultPurpose
	}

	keys, err := h.engine.AllocatePurpose(r.Context(),
		interfaces.EntityID(req.RequesterID), owner, req.Count, req.KeySize, purpose)
	if err != nil {
		code, _ := api.CodeForError(err)
		metrics.AllocationsTotal.WithLabelValues(outcomeForCode(code)).Inc()
		h.writeError(w, err)
		return
	}

	wireKeys := make([]api.WireKey, len(keys))
	for i, k := range keys {
		wireKeys[i] = api.EncodeKey(k)
	}
	resp := api.AllocateResponse{
		Keys:        wireKeys,
		SourcePool:  owner.String(),
		DeliveredTo: req.RequesterID,
		Count:       len(wireKeys),
	}

	if token != "" {
		h.idempotency.put(token, resp)
	}
	metrics.AllocationsTotal.WithLabelValues("ok").Inc()
	metrics.KeysDeliveredTotal.Add(float64(len(keys)))
	h.writeJSON(w, http.StatusOK, resp)
}

func outcomeForCode(code string) string {
	switch code {
	case api.CodeInsufficientKeys:
		return "insufficient"
	case api.CodeNotFound:
		return "not_found"
	case api.CodeInvalidSize, api.CodeBadRequest:
		return "invalid"
	default:
		return "error"
	}
}

// HandleFetch serves POST /api/v1/keys/fetch.
func (h *Handler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	var req api.FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Code: api.CodeBadRequest, Error: "malformed request body"})
		return
	}

	ids := make([]interfaces.KeyID, len(req.KeyIDs))
	for i, id := range req.KeyIDs {
		ids[i] = interfaces.KeyID(id)
	}

	result, err := h.engine.FetchByIDs(r.Context(), interfaces.EntityID(req.RequesterID), ids)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := api.FetchResponse{
		Found:           make([]api.WireKey, len(result.Found)),
		MissingOrDenied: make([]string, len(result.MissingOrDenied)),
	}
	for i, k := range result.Found {
		resp.Found[i] = api.EncodeKey(k)
	}
	for i, id := range result.MissingOrDenied {
		resp.MissingOrDenied[i] = id.String()
	}
	metrics.FetchDenialsTotal.Add(float64(len(result.MissingOrDenied)))
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleConsume serves POST /api/v1/keys/consume.
func (h *Handler) HandleConsume(w http.ResponseWriter, r *http.Request) {
	var req api.ConsumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Code: api.CodeBadRequest, Error: "malformed request body"})
		return
	}

	ids := make([]interfaces.KeyID, len(req.KeyIDs))
	for i, id := range req.KeyIDs {
		ids[i] = interfaces.KeyID(id)
	}

	if err := h.engine.MarkConsumed(r.Context(), interfaces.EntityID(req.RequesterID), ids); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRegister serves POST /api/v1/entities.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Code: api.CodeBadRequest, Error: "malformed request body"})
		return
	}

	summary, err := h.engine.Register(r.Context(),
		interfaces.EntityID(req.EntityID), req.Contact, req.InitialPoolSize)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, api.RegisterResponse{
		EntityID: summary.EntityID.String(),
		PoolID:   summary.PoolID.String(),
		Status:   api.StatusFromPool(&summary.Status),
	})
}

// HandleRefill serves POST /api/v1/pools/{entity}/refill.
func (h *Handler) HandleRefill(w http.ResponseWriter, r *http.Request) {
	entity := interfaces.EntityID(chi.URLParam(r, "entity"))

	var req api.RefillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Code: api.CodeBadRequest, Error: "malformed request body"})
		return
	}

	result, err := h.engine.Refill(r.Context(), entity, req.Count)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.RefillResponse{
		Added:           result.Added,
		AvailableBefore: result.AvailableBefore,
		AvailableAfter:  result.AvailableAfter,
	})
}

// HandleDelete serves DELETE /api/v1/entities/{entity}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	entity := interfaces.EntityID(chi.URLParam(r, "entity"))

	result, err := h.engine.Delete(r.Context(), entity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.DeleteResponse{
		KeysDeleted:       result.KeysDeleted,
		DeliveriesDeleted: result.DeliveriesDeleted,
	})
}

// HandleLowPools serves GET /api/v1/pools/low.
func (h *Handler) HandleLowPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.engine.ListLowPools(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := api.LowPoolsResponse{Pools: make([]api.StatusResponse, len(pools))}
	for i := range pools {
		resp.Pools[i] = api.StatusFromPool(&pools[i])
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleEntropy serves GET /api/v1/entropy: the Shannon entropy of recently
// generated key material. Advisory; a low reading is logged as a security
// warning but never blocks allocation.
func (h *Handler) HandleEntropy(w http.ResponseWriter, r *http.Request) {
	sample, err := h.engine.EntropySample(r.Context(), entropySampleKeys)
	if err != nil {
		h.writeError(w, err)
		return
	}

	entropy := cryptoutils.ShannonEntropy(sample)
	metrics.EntropyBitsPerByte.Set(entropy)
	if len(sample) > 0 && entropy < cryptoutils.EntropyWarnThreshold {
		h.log.Warn("Low entropy in key material sample",
			"bits_per_byte", entropy,
			"sample_bytes", len(sample))
	}
	h.writeJSON(w, http.StatusOK, api.EntropyResponse{
		BitsPerByte: entropy,
		SampleBytes: len(sample),
	})
}
