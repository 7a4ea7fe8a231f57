package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"LeadPulse/internal/db"
	"LeadPulse/internal/email"
	"LeadPulse/internal/models"
	"LeadPulse/internal/queue"
	"LeadPulse/internal/verification"
	"LeadPulse/internal/worker"
)

type CodeIssuer interface {
	RequestCode(ctx context.Context, address string, formType models.FormType) error
	VerifyCode(ctx context.Context, address string, formType models.FormType, submitted string) error
	Discard(ctx context.Context, address string, formType models.FormType) error
}

type SendQueue interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
	Process(ctx context.Context, id string) error
	Sweep(ctx context.Context) (queue.SweepResult, error)
	Get(ctx context.Context, id string) (*models.QueueItem, error)
	List(ctx context.Context, status models.EmailStatus, limit int) ([]models.QueueItem, error)
	Remove(ctx context.Context, id string) error
}

// Scheduler runs short tasks with Submit and long paced ones with Spawn.
type Scheduler interface {
	Submit(task worker.Task) error
	Spawn(task worker.Task) error
	SweepTask(q worker.Sweeper) worker.Task
}

type Notifier interface {
	worker.Notifier
	QueueAll(ctx context.Context, lead models.Lead) (int, error)
}

type Handler struct {
	Issuer      CodeIssuer
	Queue       SendQueue
	Broadcaster Notifier
	Tasks       Scheduler
	SiteName    string
	AdminToken  string
	Log         *zap.Logger
	Now         func() time.Time

	validate *validator.Validate
}

func NewHandler(h Handler) *Handler {
	h.validate = newValidator()
	if h.Now == nil {
		h.Now = time.Now
	}
	return &h
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("form_type", func(fl validator.FieldLevel) bool {
		_, err := models.ParseFormType(fl.Field().String())
		return err == nil
	})
	return v
}

// Routes mounts the public form endpoints, the admin queue endpoints and
// the health check.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/verification/send", h.SendCode)
	mux.HandleFunc("POST /api/verification/verify", h.VerifyCode)
	mux.HandleFunc("POST /api/forms/{formType}", h.SubmitForm)

	mux.Handle("GET /api/admin/queue", h.admin(h.ListQueue))
	mux.Handle("GET /api/admin/queue/{id}", h.admin(h.GetQueueItem))
	mux.Handle("DELETE /api/admin/queue/{id}", h.admin(h.RemoveQueueItem))
	mux.Handle("POST /api/admin/queue/{id}/process", h.admin(h.ProcessQueueItem))
	mux.Handle("POST /api/admin/queue/sweep", h.admin(h.Sweep))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

// ----------------------------
// Verification codes
// ----------------------------

type sendCodeRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	FormType string `json:"formType" validate:"required,form_type"`
}

type verifyCodeRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Code     string `json:"code" validate:"required,len=6,numeric"`
	FormType string `json:"formType" validate:"required,form_type"`
}

func (h *Handler) SendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	ft, _ := models.ParseFormType(req.FormType)

	if err := h.Issuer.RequestCode(r.Context(), req.Email, ft); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	ft, _ := models.ParseFormType(req.FormType)

	if err := h.Issuer.VerifyCode(r.Context(), req.Email, ft, req.Code); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ----------------------------
// Form submission
// ----------------------------

type formRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"required,email,max=254"`
	Phone   string `json:"phone" validate:"omitempty,max=50"`
	Company string `json:"company" validate:"omitempty,max=200"`
	Message string `json:"message" validate:"omitempty,max=5000"`
	Code    string `json:"code" validate:"required,len=6,numeric"`
}

// SubmitForm accepts a verified lead. The submitter's confirmation is queued
// and processed in the background; contact and demo leads also schedule a
// mailing-list broadcast. Notification failures never reach the submitter.
func (h *Handler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	ft, err := models.ParseFormType(r.PathValue("formType"))
	if err != nil {
		writeProblem(w, http.StatusNotFound, "unknown_form", err.Error())
		return
	}

	var req formRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	if err := h.Issuer.VerifyCode(ctx, req.Email, ft, req.Code); err != nil {
		h.writeError(w, err)
		return
	}

	lead := models.Lead{
		FormType: ft,
		Name:     strings.TrimSpace(req.Name),
		Email:    models.NormalizeEmail(req.Email),
		Phone:    strings.TrimSpace(req.Phone),
		Company:  strings.TrimSpace(req.Company),
		Message:  strings.TrimSpace(req.Message),
	}

	content, err := email.RenderConfirmation(email.LeadMailParams{
		SiteName:      h.SiteName,
		Lead:          lead,
		RecipientName: lead.Name,
		ReceivedAt:    h.Now(),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	id, err := h.Queue.Enqueue(ctx, queue.EnqueueRequest{
		To:             lead.Email,
		Subject:        content.Subject,
		HTML:           content.HTML,
		Text:           content.Text,
		SenderName:     lead.Name,
		SenderEmail:    lead.Email,
		SenderPhone:    lead.Phone,
		MessageContent: lead.Message,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	// A confirmation that cannot be scheduled now is picked up by the next sweep.
	if err := h.Tasks.Submit(worker.ProcessTask(h.Queue, id)); err != nil {
		h.Log.Warn("confirmation left for sweep", zap.String("queue_id", id), zap.Error(err))
	}
	if ft.Broadcasts() {
		h.broadcast(ctx, lead)
	}

	if err := h.Issuer.Discard(ctx, lead.Email, ft); err != nil {
		h.Log.Warn("failed to discard used verification code", zap.Error(err))
	}

	h.Log.Info("form submission accepted",
		zap.String("form_type", string(ft)),
		zap.String("queue_id", id),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "id": id})
}

// broadcast schedules the live broadcast. If that is not possible every
// notification is queued for the sweeper instead.
func (h *Handler) broadcast(ctx context.Context, lead models.Lead) {
	err := h.Tasks.Spawn(worker.BroadcastTask(h.Broadcaster, lead))
	if err == nil {
		return
	}
	h.Log.Warn("lead broadcast not scheduled, queueing notifications",
		zap.String("form_type", string(lead.FormType)),
		zap.Error(err),
	)

	n, err := h.Broadcaster.QueueAll(ctx, lead)
	if err != nil {
		h.Log.Error("lead notifications not queued",
			zap.String("form_type", string(lead.FormType)),
			zap.String("lead_email", lead.Email),
			zap.Int("queued", n),
			zap.Error(err),
		)
	}
}

// ----------------------------
// Admin queue endpoints
// ----------------------------

func (h *Handler) admin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.AdminToken == "" || !ok ||
			subtle.ConstantTimeCompare([]byte(token), []byte(h.AdminToken)) != 1 {
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "admin token required")
			return
		}
		next(w, r)
	})
}

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	status := models.EmailStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeProblem(w, http.StatusBadRequest, "invalid_status", "status must be pending, sent or failed")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeProblem(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	items, err := h.Queue.List(r.Context(), status, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if items == nil {
		items = []models.QueueItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) GetQueueItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Queue.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) RemoveQueueItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Queue.Remove(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProcessQueueItem dispatches one item synchronously and reports the outcome.
func (h *Handler) ProcessQueueItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	procErr := h.Queue.Process(r.Context(), id)
	if errors.Is(procErr, db.ErrNotFound) || errors.Is(procErr, queue.ErrAttemptsExhausted) {
		h.writeError(w, procErr)
		return
	}

	item, err := h.Queue.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := map[string]any{"success": procErr == nil, "item": item}
	if procErr != nil {
		resp["error"] = procErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if err := h.Tasks.Spawn(h.Tasks.SweepTask(h.Queue)); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "busy", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"scheduled": true})
}

// ----------------------------
// Helpers
// ----------------------------

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[lowerFirst(fe.Field())] = fe.Tag()
			}
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":   "validation_failed",
				"message": "request has invalid fields",
				"fields":  fields,
			})
			return false
		}
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verification.ErrTooSoon):
		writeProblem(w, http.StatusTooManyRequests, "too_soon", err.Error())
	case errors.Is(err, verification.ErrInvalidOrExpired):
		writeProblem(w, http.StatusBadRequest, "code_invalid_or_expired", err.Error())
	case errors.Is(err, verification.ErrInvalidCode):
		writeProblem(w, http.StatusBadRequest, "code_invalid", err.Error())
	case errors.Is(err, verification.ErrTooManyAttempts):
		writeProblem(w, http.StatusBadRequest, "too_many_attempts", err.Error())
	case errors.Is(err, verification.ErrInvalidEmail), errors.Is(err, verification.ErrInvalidFormType),
		errors.Is(err, queue.ErrInvalidRequest):
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, db.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, queue.ErrAttemptsExhausted):
		writeProblem(w, http.StatusConflict, "attempts_exhausted", err.Error())
	case errors.Is(err, email.ErrNotConfigured):
		h.Log.Error("email is not configured", zap.Error(err))
		writeProblem(w, http.StatusServiceUnavailable, "email_unavailable", "email delivery is not configured")
	case errors.Is(err, email.ErrDelivery):
		h.Log.Error("email delivery failed", zap.Error(err))
		writeProblem(w, http.StatusBadGateway, "email_failed", "the email could not be sent, please try again")
	default:
		h.Log.Error("request failed", zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func writeProblem(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"error": code, "message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
