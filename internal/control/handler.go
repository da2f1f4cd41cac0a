// Package control exposes the engine's operator surface: a small JSON API
// for arming, inspecting and cancelling monitor sessions.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"launch-guard/internal/domain"
	"launch-guard/internal/monitor"
)

// Service is the engine capability the API fronts.
type Service interface {
	Arm(ctx context.Context, p monitor.ArmParams) (*monitor.ArmResult, error)
	Status(ctx context.Context, tokenMint string) (*monitor.StatusInfo, error)
	Cancel(ctx context.Context, tokenMint string) error
}

// Handler serves the control API.
type Handler struct {
	svc Service
	log *zap.Logger
}

// NewHandler creates a control API handler.
func NewHandler(log *zap.Logger, svc Service) *Handler {
	return &Handler{svc: svc, log: log.Named("control")}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/arm", h.handleArm)
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/cancel", h.handleCancel)
}

// ArmRequest is the POST /arm payload.
type ArmRequest struct {
	TokenMint         string       `json:"token_mint"`
	MaxSupplyFraction float64      `json:"max_supply_fraction"`
	MaxNativeLamports uint64       `json:"max_native_lamports"`
	LaunchSlot        int64        `json:"launch_slot"`
	WindowSlots       int64        `json:"window_slots"`
	Ignore            []string     `json:"ignore,omitempty"`
	Targets           []SellTarget `json:"targets"`
}

// SellTarget is one wallet to liquidate on trigger.
type SellTarget struct {
	Wallet       string  `json:"wallet"`
	SellFraction float64 `json:"sell_fraction"`
}

// ArmResponse is returned on a successful arm.
type ArmResponse struct {
	SessionID string `json:"session_id"`
	ExpiresAt string `json:"expires_at"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
	TriggeredBy string `json:"triggered_by,omitempty"`
	RemainingMS int64  `json:"remaining_ms"`
}

// CancelRequest is the POST /cancel payload.
type CancelRequest struct {
	TokenMint string `json:"token_mint"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleArm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req ArmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: decode request: %v", domain.ErrConfigInvalid, err))
		return
	}

	targets := make([]domain.SellTarget, len(req.Targets))
	for i, t := range req.Targets {
		targets[i] = domain.SellTarget{Wallet: t.Wallet, SellFraction: t.SellFraction}
	}

	res, err := h.svc.Arm(r.Context(), monitor.ArmParams{
		TokenMint: req.TokenMint,
		Thresholds: domain.Thresholds{
			MaxSupplyFraction: req.MaxSupplyFraction,
			MaxNativeAmount:   req.MaxNativeLamports,
		},
		LaunchSlot:  req.LaunchSlot,
		WindowSlots: req.WindowSlots,
		IgnoreSet:   req.Ignore,
		Targets:     targets,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.log.Info("session armed",
		zap.String("session_id", res.SessionID),
		zap.String("token_mint", req.TokenMint))
	writeJSON(w, http.StatusOK, ArmResponse{
		SessionID: res.SessionID,
		ExpiresAt: res.ExpiresAt.Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		h.writeError(w, fmt.Errorf("%w: token query parameter is required", domain.ErrConfigInvalid))
		return
	}

	info, err := h.svc.Status(r.Context(), token)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		SessionID:   info.SessionID,
		Status:      string(info.Status),
		TriggeredBy: info.TriggeredBy,
		RemainingMS: info.RemainingMS,
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: decode request: %v", domain.ErrConfigInvalid, err))
		return
	}
	if req.TokenMint == "" {
		h.writeError(w, fmt.Errorf("%w: token_mint is required", domain.ErrConfigInvalid))
		return
	}

	if err := h.svc.Cancel(r.Context(), req.TokenMint); err != nil {
		h.writeError(w, err)
		return
	}

	h.log.Info("session cancelled", zap.String("token_mint", req.TokenMint))
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusCancelled)})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := domain.ErrorCode(err)
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("control request failed", zap.String("code", code), zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Code: code, Message: err.Error()})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrConfigInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionTerminal):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeMethodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
