package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/relves/tokenclaim/pkg/claims"
	"github.com/relves/tokenclaim/pkg/types"
)

// HTTPHandler handles read-only HTTP endpoints for registry queries.
type HTTPHandler struct {
	svc *claims.Service
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(svc *claims.Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// Register mounts the query routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /registries/{authority}/{campaignID}", h.HandleGetRegistry)
	mux.HandleFunc("GET /registries/{authority}/{campaignID}/nonces/{nonce}", h.HandleGetStatus)
	mux.HandleFunc("GET /registries/{authority}/{campaignID}/events", h.HandleGetEvents)
}

// RegistryResponse is the response for GET /registries/{authority}/{campaignID}.
type RegistryResponse struct {
	Address         string    `json:"address"`
	Authority       string    `json:"authority"`
	CampaignID      uint64    `json:"campaign_id"`
	Bump            uint8     `json:"bump"`
	EscrowAuthority string    `json:"escrow_authority"`
	Capacity        uint64    `json:"capacity"`
	ClaimedCount    uint64    `json:"claimed_count"`
	JournalSize     uint64    `json:"journal_size"`
	JournalRoot     string    `json:"journal_root"`
	CreatedAt       time.Time `json:"created_at"`
}

// StatusResponse is the response for GET .../nonces/{nonce}.
type StatusResponse struct {
	Nonce  uint64 `json:"nonce"`
	Status string `json:"status"`
}

// EventResponse is one journal event.
type EventResponse struct {
	Index     uint64          `json:"index"`
	Type      string          `json:"type"`
	CID       string          `json:"cid"`
	Entry     json.RawMessage `json:"entry"`
	CreatedAt time.Time       `json:"created_at"`
}

// HandleGetRegistry handles GET /registries/{authority}/{campaignID}.
func (h *HTTPHandler) HandleGetRegistry(w http.ResponseWriter, r *http.Request) {
	authority, campaignID, ok := registryPath(w, r)
	if !ok {
		return
	}

	info, err := h.svc.Info(r.Context(), authority, campaignID)
	if err != nil {
		writeServiceError(w, "failed to get registry", err)
		return
	}

	writeJSON(w, RegistryResponse{
		Address:         info.Record.Address.String(),
		Authority:       info.Record.Authority.String(),
		CampaignID:      uint64(info.Record.CampaignID),
		Bump:            info.Record.Bump,
		EscrowAuthority: info.EscrowAuthority.String(),
		Capacity:        info.Capacity,
		ClaimedCount:    info.ClaimedCount,
		JournalSize:     info.JournalSize,
		JournalRoot:     hex.EncodeToString(info.JournalRoot),
		CreatedAt:       info.Record.CreatedAt,
	})
}

// HandleGetStatus handles GET /registries/{authority}/{campaignID}/nonces/{nonce}.
func (h *HTTPHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	authority, campaignID, ok := registryPath(w, r)
	if !ok {
		return
	}
	nonce, err := strconv.ParseUint(r.PathValue("nonce"), 10, 64)
	if err != nil {
		http.Error(w, "invalid nonce", http.StatusBadRequest)
		return
	}

	st, err := h.svc.Status(r.Context(), authority, campaignID, nonce)
	if err != nil {
		writeServiceError(w, "failed to get status", err)
		return
	}

	writeJSON(w, StatusResponse{Nonce: nonce, Status: st.String()})
}

// HandleGetEvents handles GET /registries/{authority}/{campaignID}/events.
// Optional query parameters: from (journal index) and limit.
func (h *HTTPHandler) HandleGetEvents(w http.ResponseWriter, r *http.Request) {
	authority, campaignID, ok := registryPath(w, r)
	if !ok {
		return
	}

	var from uint64
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	var limit int
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := h.svc.Events(r.Context(), authority, campaignID, from, limit)
	if err != nil {
		writeServiceError(w, "failed to get events", err)
		return
	}

	resp := make([]EventResponse, len(entries))
	for i, e := range entries {
		resp[i] = EventResponse{
			Index:     e.Index,
			Type:      string(e.EventType),
			CID:       e.CID,
			Entry:     json.RawMessage(e.Data),
			CreatedAt: e.CreatedAt,
		}
	}
	writeJSON(w, resp)
}

func registryPath(w http.ResponseWriter, r *http.Request) (types.Identity, types.CampaignID, bool) {
	authority := r.PathValue("authority")
	if authority == "" {
		http.Error(w, "authority required", http.StatusBadRequest)
		return "", 0, false
	}
	campaignID, err := strconv.ParseUint(r.PathValue("campaignID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid campaignID", http.StatusBadRequest)
		return "", 0, false
	}
	return types.Identity(authority), types.CampaignID(campaignID), true
}

func writeServiceError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, claims.ErrRegistryNotFound):
		http.Error(w, "registry not found", http.StatusNotFound)
	case errors.Is(err, claims.ErrNonceOutOfRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error(msg, "error", err)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
