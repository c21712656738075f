// Package handler exposes the certification ledger over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"certledger/internal/confidential"
	"certledger/internal/registry/models"
	"certledger/internal/registry/service"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/platform/middleware/auth"
	request "certledger/pkg/platform/middleware/request"
	"certledger/pkg/requestcontext"
)

// Service is the ledger surface the handlers need.
type Service interface {
	RegistryInfo(ctx context.Context) (models.Registry, error)
	RequestCertification(ctx context.Context, caller id.Address, cmd service.SubmitCommand) (models.CertificationRequest, error)
	ProcessCertificationRequest(ctx context.Context, caller id.Address, reqID id.RequestID, issuerName string) (service.ProcessResult, error)
	RevokeCertificate(ctx context.Context, caller id.Address, certID id.CertificateID, reason string) (models.Certificate, error)
	ExtendCertificateValidity(ctx context.Context, caller id.Address, certID id.CertificateID, additionalDays int) (models.Certificate, error)
	AuthorizeIssuer(ctx context.Context, caller, issuer id.Address, organization string) (models.IssuerAuthorization, error)
	RevokeIssuer(ctx context.Context, caller, issuer id.Address) (models.IssuerAuthorization, error)
	SetProfessionRequirements(ctx context.Context, caller id.Address, profession string, minScore, minLevel int) (models.ProfessionRequirement, error)
	VerifyCertificate(ctx context.Context, certID id.CertificateID) (models.Certificate, error)
	GetHolderCertificates(ctx context.Context, holder id.Address) ([]id.CertificateID, error)
	GetCertificateCount(ctx context.Context) (uint64, error)
	GetRequestCount(ctx context.Context) (uint64, error)
	GetProfessionRequirements(ctx context.Context, profession string) (models.ProfessionRequirement, error)
	GetEncryptedScore(ctx context.Context, caller id.Address, certID id.CertificateID) (confidential.Handle, error)
	GetEncryptedLevel(ctx context.Context, caller id.Address, certID id.CertificateID) (confidential.Handle, error)
	GetRequest(ctx context.Context, caller id.Address, reqID id.RequestID) (models.CertificationRequest, error)
	ListPendingRequests(ctx context.Context, caller id.Address, limit int) ([]models.CertificationRequest, error)
	ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]models.Event, error)
}

// Handler serves the /v1 ledger routes.
type Handler struct {
	svc       Service
	chainID   uint64
	logger    *slog.Logger
	validator auth.SessionValidator
}

func New(svc Service, chainID uint64, logger *slog.Logger, validator auth.SessionValidator) *Handler {
	return &Handler{svc: svc, chainID: chainID, logger: logger, validator: validator}
}

// Register mounts public reads directly on r and everything that needs a caller
// behind the session middleware.
func (h *Handler) Register(r chi.Router) {
	r.Get("/chain", h.handleChain)
	r.Get("/certificates/{id}", h.handleVerify)
	r.Get("/holders/{address}/certificates", h.handleHolderCertificates)
	r.Get("/stats", h.handleStats)
	r.Get("/professions/{profession}/requirements", h.handleGetRequirements)
	r.Get("/events", h.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireCaller(h.validator, h.logger))

		r.Post("/requests", h.handleSubmit)
		r.Get("/requests", h.handleListRequests)
		r.Get("/requests/{id}", h.handleGetRequest)
		r.Post("/requests/{id}/process", h.handleProcess)

		r.Post("/certificates/{id}/revoke", h.handleRevoke)
		r.Post("/certificates/{id}/extend", h.handleExtend)
		r.Get("/certificates/{id}/encrypted-score", h.handleEncryptedScore)
		r.Get("/certificates/{id}/encrypted-level", h.handleEncryptedLevel)
		r.Get("/me/certificates", h.handleMyCertificates)

		r.Post("/issuers", h.handleAuthorizeIssuer)
		r.Delete("/issuers/{address}", h.handleRevokeIssuer)
		r.Put("/professions/{profession}/requirements", h.handleSetRequirements)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	attrs := []any{"request_id", request.GetRequestID(ctx), "error", err}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

func certificateParam(r *http.Request) (id.CertificateID, error) {
	return id.ParseCertificateID(chi.URLParam(r, "id"))
}

func requestParam(r *http.Request) (id.RequestID, error) {
	return id.ParseRequestID(chi.URLParam(r, "id"))
}

func professionParam(r *http.Request) (string, error) {
	profession, err := url.PathUnescape(chi.URLParam(r, "profession"))
	if err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid profession")
	}
	return profession, nil
}

func intQuery(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, key+" must be a non-negative integer")
	}
	return v, nil
}

func (h *Handler) handleChain(w http.ResponseWriter, r *http.Request) {
	reg, err := h.svc.RegistryInfo(r.Context())
	if err != nil {
		h.fail(w, r, "failed to load registry", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ChainResponse{
		ChainID:         h.chainID,
		RegistryAddress: reg.Address.String(),
		Owner:           reg.Owner.String(),
	})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	created, err := h.svc.RequestCertification(ctx, requestcontext.Caller(ctx), service.SubmitCommand{
		Profession: req.Profession,
		Score:      *req.Score,
		Level:      *req.Level,
		Evidence:   req.Evidence,
	})
	if err != nil {
		h.fail(w, r, "certification request failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRequestResponse(created))
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	if status := r.URL.Query().Get("status"); status != "" && status != string(models.RequestStatusPending) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "only status=pending can be listed"))
		return
	}
	limit, err := intQuery(r, "limit")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ctx := r.Context()
	reqs, err := h.svc.ListPendingRequests(ctx, requestcontext.Caller(ctx), limit)
	if err != nil {
		h.fail(w, r, "failed to list pending requests", err)
		return
	}
	out := make([]RequestResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toRequestResponse(req))
	}
	httputil.WriteJSON(w, http.StatusOK, RequestListResponse{Requests: out})
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	reqID, err := requestParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ctx := r.Context()
	req, err := h.svc.GetRequest(ctx, requestcontext.Caller(ctx), reqID)
	if err != nil {
		h.fail(w, r, "failed to load request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	reqID, err := requestParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[ProcessRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	res, err := h.svc.ProcessCertificationRequest(ctx, requestcontext.Caller(ctx), reqID, body.IssuerName)
	if err != nil {
		h.fail(w, r, "failed to process request", err)
		return
	}
	resp := ProcessResponse{
		Request:  toRequestResponse(res.Request),
		Approved: res.Decision.Approved,
		Reason:   res.Decision.Reason,
	}
	if res.Certificate != nil {
		cert := toCertificateResponse(*res.Certificate)
		resp.Certificate = &cert
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	certID, err := certificateParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[RevokeRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	cert, err := h.svc.RevokeCertificate(ctx, requestcontext.Caller(ctx), certID, body.Reason)
	if err != nil {
		h.fail(w, r, "failed to revoke certificate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCertificateResponse(cert))
}

func (h *Handler) handleExtend(w http.ResponseWriter, r *http.Request) {
	certID, err := certificateParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[ExtendRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	cert, err := h.svc.ExtendCertificateValidity(ctx, requestcontext.Caller(ctx), certID, body.AdditionalDays)
	if err != nil {
		h.fail(w, r, "failed to extend certificate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCertificateResponse(cert))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	certID, err := certificateParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cert, err := h.svc.VerifyCertificate(r.Context(), certID)
	if err != nil {
		h.fail(w, r, "certificate verification failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCertificateResponse(cert))
}

type handleGetter func(ctx context.Context, caller id.Address, certID id.CertificateID) (confidential.Handle, error)

func (h *Handler) serveHandle(get handleGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		certID, err := certificateParam(r)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		ctx := r.Context()
		handle, err := get(ctx, requestcontext.Caller(ctx), certID)
		if err != nil {
			h.fail(w, r, "encrypted handle read refused", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, HandleResponse{CertificateID: uint64(certID), Handle: handle.String()})
	}
}

func (h *Handler) handleEncryptedScore(w http.ResponseWriter, r *http.Request) {
	h.serveHandle(h.svc.GetEncryptedScore)(w, r)
}

func (h *Handler) handleEncryptedLevel(w http.ResponseWriter, r *http.Request) {
	h.serveHandle(h.svc.GetEncryptedLevel)(w, r)
}

func (h *Handler) handleHolderCertificates(w http.ResponseWriter, r *http.Request) {
	holder, err := id.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.writeHolderCertificates(w, r, holder)
}

func (h *Handler) handleMyCertificates(w http.ResponseWriter, r *http.Request) {
	h.writeHolderCertificates(w, r, requestcontext.Caller(r.Context()))
}

func (h *Handler) writeHolderCertificates(w http.ResponseWriter, r *http.Request, holder id.Address) {
	ids, err := h.svc.GetHolderCertificates(r.Context(), holder)
	if err != nil {
		h.fail(w, r, "failed to list holder certificates", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCertificateIDs(ids))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certs, err := h.svc.GetCertificateCount(ctx)
	if err != nil {
		h.fail(w, r, "failed to count certificates", err)
		return
	}
	reqs, err := h.svc.GetRequestCount(ctx)
	if err != nil {
		h.fail(w, r, "failed to count requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StatsResponse{CertificateCount: certs, RequestCount: reqs})
}

func (h *Handler) handleGetRequirements(w http.ResponseWriter, r *http.Request) {
	profession, err := professionParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.svc.GetProfessionRequirements(r.Context(), profession)
	if err != nil {
		h.fail(w, r, "failed to load profession requirements", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequirementResponse(req))
}

func (h *Handler) handleSetRequirements(w http.ResponseWriter, r *http.Request) {
	profession, err := professionParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[RequirementRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	req, err := h.svc.SetProfessionRequirements(ctx, requestcontext.Caller(ctx), profession, *body.MinScore, *body.MinLevel)
	if err != nil {
		h.fail(w, r, "failed to set profession requirements", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequirementResponse(req))
}

func (h *Handler) handleAuthorizeIssuer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[AuthorizeIssuerRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	authz, err := h.svc.AuthorizeIssuer(ctx, requestcontext.Caller(ctx), body.issuer, body.Organization)
	if err != nil {
		h.fail(w, r, "failed to authorize issuer", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIssuerResponse(authz))
}

func (h *Handler) handleRevokeIssuer(w http.ResponseWriter, r *http.Request) {
	issuer, err := id.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ctx := r.Context()
	authz, err := h.svc.RevokeIssuer(ctx, requestcontext.Caller(ctx), issuer)
	if err != nil {
		h.fail(w, r, "failed to revoke issuer", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIssuerResponse(authz))
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	after, err := intQuery(r, "after")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := intQuery(r, "limit")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.svc.ListEvents(r.Context(), uint64(after), limit)
	if err != nil {
		h.fail(w, r, "failed to list events", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEventList(events))
}
