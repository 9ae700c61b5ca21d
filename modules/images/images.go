// Package images exposes the gated image operation endpoints: generation,
// editing and the current limits/subscription status used by the plan UI.
package images

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pixelmuse/pixelmuse/billing"
	"github.com/pixelmuse/pixelmuse/core"
	"github.com/pixelmuse/pixelmuse/imagegen"
	"github.com/pixelmuse/pixelmuse/pkg/logger"
)

// maxUploadBytes bounds edit uploads; the provider rejects PNGs over 4MB.
const maxUploadBytes = 8 << 20

// Handler serves the image operation endpoints.
type Handler struct {
	svc          *imagegen.Service
	entitlements billing.EntitlementStore
	parser       TokenParser
	log          *slog.Logger
}

// NewHandler creates the images handler.
func NewHandler(svc *imagegen.Service, entitlements billing.EntitlementStore, parser TokenParser, log *slog.Logger) *Handler {
	if svc == nil {
		panic("images: imagegen.Service is required")
	}
	if entitlements == nil {
		panic("images: billing.EntitlementStore is required")
	}
	if parser == nil {
		panic("images: TokenParser is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, entitlements: entitlements, parser: parser, log: log}
}

// Router mounts the authenticated image routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(Middleware(h.parser))
	r.Post("/images/generations", h.handleGenerate)
	r.Post("/images/edits", h.handleEdit)
	r.Get("/limits", h.handleLimits)
	return r
}

type generateRequest struct {
	Prompt  string `json:"prompt"`
	Model   string `json:"model"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
	Style   string `json:"style"`
}

type imageResponse struct {
	ImageURL string `json:"image_url"`
	Model    string `json:"model"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		core.Render(w, r, core.JSONError(core.ErrUnauthorized))
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.Render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}

	img, err := h.svc.Generate(r.Context(), identity, imagegen.GenerateRequest{
		Prompt:  req.Prompt,
		Model:   req.Model,
		Size:    req.Size,
		Quality: req.Quality,
		Style:   req.Style,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	core.Render(w, r, core.JSON(imageResponse{ImageURL: img.URL, Model: img.Model}))
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		core.Render(w, r, core.JSONError(core.ErrUnauthorized))
		return
	}

	// Oversized bodies must fail loudly; a silent cap would hand the
	// provider a truncated image and still bill the operation.
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			core.Render(w, r, core.JSONError(core.ErrContentTooLarge.WithMessage("source image exceeds the upload limit")))
			return
		}
		core.Render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}

	file, fileHeader, err := r.FormFile("image")
	if err != nil {
		core.Render(w, r, core.JSONError(core.ErrBadRequest.WithMessage("source image is required")))
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		core.Render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}

	img, err := h.svc.Edit(r.Context(), identity, imagegen.EditRequest{
		Prompt:    r.FormValue("prompt"),
		Model:     r.FormValue("model"),
		Size:      r.FormValue("size"),
		Image:     imageData,
		ImageName: fileHeader.Filename,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	core.Render(w, r, core.JSON(imageResponse{ImageURL: img.URL, Model: img.Model}))
}

type limitsResponse struct {
	Subscribed bool       `json:"subscribed"`
	Tier       string     `json:"tier"`
	RenewsAt   *time.Time `json:"renews_at,omitempty"`
	Used       int64      `json:"used"`
	Limit      int64      `json:"limit"`
}

func (h *Handler) handleLimits(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		core.Render(w, r, core.JSONError(core.ErrUnauthorized))
		return
	}

	ent, err := billing.GetEntitlement(r.Context(), h.entitlements, identity.Email)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	decision, err := h.svc.Limits(r.Context(), identity)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	core.Render(w, r, core.JSON(limitsResponse{
		Subscribed: ent.Subscribed,
		Tier:       string(ent.Tier),
		RenewsAt:   ent.RenewsAt,
		Used:       decision.Used,
		Limit:      decision.Limit,
	}))
}

// renderError maps service failures onto client responses. Quota denials
// carry used/limit so the UI can render a precise "X/Y used" message;
// everything else surfaces a generic failure with the reason logged
// server-side only.
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	var quotaErr *imagegen.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		core.Render(w, r, quotaResponse{err: quotaErr})
	case errors.Is(err, imagegen.ErrAuthenticationRequired):
		core.Render(w, r, core.JSONError(core.ErrUnauthorized))
	case errors.Is(err, imagegen.ErrEmptyPrompt), errors.Is(err, imagegen.ErrMissingSourceImage):
		core.Render(w, r, core.JSONError(core.ErrUnprocessableEntity.WithMessage(err.Error())))
	case errors.Is(err, imagegen.ErrProviderFailed):
		// Upstream message passes through verbatim.
		core.Render(w, r, core.JSONError(core.ErrBadGateway.WithMessage(err.Error())))
	default:
		h.log.ErrorContext(r.Context(), "image operation failed", logger.Error(err))
		core.Render(w, r, core.JSONError(core.ErrInternalServerError))
	}
}

// quotaResponse renders a quota denial as a payment-required error carrying
// the numbers alongside the message.
type quotaResponse struct {
	err *imagegen.QuotaExceededError
}

func (q quotaResponse) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(core.ErrPaymentRequired.Code)
	return json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    "quota_exceeded",
			"message": q.err.Error(),
			"used":    q.err.Used,
			"limit":   q.err.Limit,
		},
	})
}
