package wallet

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/httputil"
	request "certledger/pkg/platform/middleware/request"
)

type authService interface {
	IssueChallenge(ctx context.Context, account id.Address) (Challenge, error)
	CreateSession(ctx context.Context, account id.Address, signature string) (Session, error)
}

// Handler exposes the sign-in handshake.
type Handler struct {
	auth   authService
	logger *slog.Logger
	guard  []func(http.Handler) http.Handler
}

// NewHandler builds the handshake routes. guard middleware (rate limiting) wraps
// both endpoints since they are reachable without a session.
func NewHandler(auth authService, logger *slog.Logger, guard ...func(http.Handler) http.Handler) *Handler {
	return &Handler{auth: auth, logger: logger, guard: guard}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard...)
		r.Post("/auth/challenge", h.HandleChallenge)
		r.Post("/auth/session", h.HandleSession)
	})
}

type ChallengeRequest struct {
	Address string `json:"address"`

	account id.Address
}

func (r *ChallengeRequest) Validate() error {
	account, err := id.ParseAddress(r.Address)
	if err != nil {
		return err
	}
	r.account = account
	return nil
}

type ChallengeResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SessionRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`

	account id.Address
}

func (r *SessionRequest) Validate() error {
	account, err := id.ParseAddress(r.Address)
	if err != nil {
		return err
	}
	if r.Signature == "" {
		return dErrors.New(dErrors.CodeValidation, "signature is required")
	}
	r.account = account
	return nil
}

type SessionResponse struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[ChallengeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	c, err := h.auth.IssueChallenge(ctx, req.account)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue challenge", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ChallengeResponse{Message: c.Message, ExpiresAt: c.ExpiresAt})
}

func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[SessionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	session, err := h.auth.CreateSession(ctx, req.account, req.Signature)
	if err != nil {
		h.logger.WarnContext(ctx, "session creation failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SessionResponse{
		Token:     session.Token,
		Address:   session.Account.String(),
		ExpiresAt: session.ExpiresAt,
	})
}
