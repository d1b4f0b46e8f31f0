// Package api exposes the gateway's HTTP surface: the chat endpoint,
// health probes, Prometheus metrics, and the optional quota admin API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtuomik/chatgate/internal/audit"
	"github.com/mtuomik/chatgate/internal/dispatch"
	"github.com/mtuomik/chatgate/internal/domain"
	"github.com/mtuomik/chatgate/internal/metrics"
	"github.com/mtuomik/chatgate/internal/notifications"
	"github.com/mtuomik/chatgate/internal/quota"
	"github.com/mtuomik/chatgate/internal/telemetry"
)

const version = "0.1.0"

// maxBodyBytes caps the request body; chat histories are small and
// anything past this is abuse.
const maxBodyBytes = 1 << 20

const auditTimeout = 5 * time.Second

// Outcome labels shared by metrics and audit events.
const (
	statusSuccess       = "success"
	statusBadRequest    = "bad_request"
	statusQuotaExceeded = "quota_exceeded"
	statusUnavailable   = "unavailable"
	statusInternal      = "internal"
	statusCanceled      = "canceled"
)

// Dispatcher runs the credential failover loop for one request.
type Dispatcher interface {
	Dispatch(ctx context.Context, messages []domain.Message, maxTokens int) (*dispatch.Result, error)
}

type HandlerConfig struct {
	Tracker      quota.Tracker
	Dispatcher   Dispatcher
	Audit        audit.Sink
	Alerter      *notifications.Alerter
	SystemPrompt string
	HistoryLimit int
	ChatModel    string
	QuotaLimit   int
	PoolSize     int
	AdminToken   string
	Checkers     []HealthChecker
}

type Handler struct {
	tracker      quota.Tracker
	dispatcher   Dispatcher
	audit        audit.Sink
	alerter      *notifications.Alerter
	systemPrompt string
	historyLimit int
	chatModel    string
	quotaLimit   int
	poolSize     int
	mux          *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		tracker:      cfg.Tracker,
		dispatcher:   cfg.Dispatcher,
		audit:        cfg.Audit,
		alerter:      cfg.Alerter,
		systemPrompt: cfg.SystemPrompt,
		historyLimit: cfg.HistoryLimit,
		chatModel:    cfg.ChatModel,
		quotaLimit:   cfg.QuotaLimit,
		poolSize:     cfg.PoolSize,
		mux:          http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /chat", h.handleChat)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReady(cfg.Checkers, 5*time.Second))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	if cfg.AdminToken != "" {
		h.mux.Handle("/admin/", NewAdminHandler(cfg.Tracker, cfg.AdminToken))
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	clientID := clientAddress(r)

	ctx, span := telemetry.StartSpan(r.Context(), "chat.request")
	defer span.End()
	telemetry.AddRequestAttributes(span, requestID, clientID)

	w.Header().Set("X-Request-ID", requestID)

	ev := audit.Event{
		RequestID: requestID,
		ClientID:  clientID,
		Model:     h.chatModel,
	}
	status := statusInternal
	defer func() {
		metrics.RecordRequest(status, time.Since(start).Seconds())
		ev.Status = status
		ev.LatencyMs = time.Since(start).Milliseconds()
		ev.CreatedAt = time.Now()
		h.recordAudit(ev)
	}()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = statusBadRequest
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		status = statusBadRequest
		msg := "Invalid message role"
		if errors.Is(err, domain.ErrNoMessages) {
			msg = "No messages provided"
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	maxTokens := 0
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	decision, err := h.tracker.CheckAndReserve(ctx, clientID)
	if err != nil {
		slog.Error("quota check failed", "error", err, "client_id", clientID, "request_id", requestID)
		metrics.RecordQuotaStoreError()
		telemetry.AddErrorAttribute(span, err)
		h.alerter.Alert(notifications.Notification{
			Type:     notifications.NotificationQuotaStoreError,
			ClientID: clientID,
			Message:  "quota store unreachable, refusing requests",
		})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	telemetry.AddQuotaAttributes(span, decision.Allowed, decision.NewWindow, decision.Remaining)

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.quotaLimit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", decision.ResetAt.Format(time.RFC3339))

	if !decision.Allowed {
		status = statusQuotaExceeded
		slog.Warn("quota exceeded", "client_id", clientID, "request_id", requestID)
		metrics.RecordQuotaRejection()
		writeError(w, http.StatusTooManyRequests, "Request limit reached. Try again later.")
		return
	}

	conversation := shapeConversation(req.Messages, h.systemPrompt, h.historyLimit)

	result, err := h.dispatcher.Dispatch(ctx, conversation, maxTokens)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)

		if ctx.Err() != nil {
			status = statusCanceled
			slog.Info("client went away mid-request", "client_id", clientID, "request_id", requestID)
			return
		}

		var exhausted *domain.ExhaustedError
		switch {
		case errors.Is(err, domain.ErrNoCredentials):
			status = statusUnavailable
			slog.Error("no credentials configured", "request_id", requestID)
			h.alerter.Alert(notifications.Notification{
				Type:    notifications.NotificationNoCredentials,
				Message: "request arrived with an empty credential pool",
			})
			writeError(w, http.StatusServiceUnavailable, "Service not configured")
		case errors.As(err, &exhausted):
			status = statusUnavailable
			ev.Attempts = len(exhausted.Causes)
			slog.Error("all credentials exhausted",
				"client_id", clientID,
				"request_id", requestID,
				"attempts", len(exhausted.Causes),
				"error", err,
			)
			h.alerter.Alert(notifications.Notification{
				Type:     notifications.NotificationCredentialsExhausted,
				ClientID: clientID,
				Message:  "every upstream credential failed",
				Data:     map[string]interface{}{"attempts": len(exhausted.Causes)},
			})
			writeError(w, http.StatusServiceUnavailable, "Upstream service unavailable. Try again later.")
		default:
			slog.Error("dispatch failed", "error", err, "request_id", requestID)
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	if ctx.Err() != nil {
		// reply arrived but nobody is listening; delivery failed, so the
		// quota stays untouched
		status = statusCanceled
		slog.Info("client went away before delivery", "client_id", clientID, "request_id", requestID)
		return
	}

	if err := h.tracker.Commit(ctx, clientID, decision.NewWindow); err != nil {
		slog.Warn("usage commit failed after delivery", "error", err, "client_id", clientID, "request_id", requestID)
		metrics.RecordQuotaStoreError()
		h.alerter.Alert(notifications.Notification{
			Type:     notifications.NotificationQuotaCommitError,
			ClientID: clientID,
			Message:  "reply delivered but usage commit failed",
		})
	}

	status = statusSuccess
	ev.Credential = result.Credential
	ev.Attempts = result.Attempts
	ev.PromptTokens = result.Usage.PromptTokens
	ev.CompletionTokens = result.Usage.CompletionTokens

	metrics.RecordTokens(result.Usage.PromptTokens, result.Usage.CompletionTokens)
	telemetry.AddDispatchAttributes(span, result.Credential, result.Attempts)
	telemetry.AddTokenAttributes(span, result.Usage.PromptTokens, result.Usage.CompletionTokens)

	slog.Info("request completed",
		"request_id", requestID,
		"client_id", clientID,
		"credential", result.Credential,
		"attempts", result.Attempts,
		"total_tokens", result.Usage.TotalTokens,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result.Message)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if h.poolSize == 0 {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      status,
		"version":     version,
		"credentials": h.poolSize,
	})
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// recordAudit hands the event to the sink off the request path. The
// request is already answered by the time this runs.
func (h *Handler) recordAudit(ev audit.Event) {
	if h.audit == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if err := h.audit.Record(ctx, ev); err != nil {
			slog.Warn("audit record failed", "error", err, "request_id", ev.RequestID)
		}
	}()
}

// shapeConversation keeps the most recent limit messages and prepends
// the gateway's system instruction. Truncation runs first so the
// instruction survives even on long histories.
func shapeConversation(messages []domain.Message, systemPrompt string, limit int) []domain.Message {
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	shaped := make([]domain.Message, 0, len(messages)+1)
	if systemPrompt != "" {
		shaped = append(shaped, domain.Message{Role: domain.RoleSystem, Content: systemPrompt})
	}
	return append(shaped, messages...)
}

// clientAddress resolves the quota identity for a request: the first
// X-Forwarded-For hop when a proxy set one, then X-Real-IP, then the
// socket peer address.
func clientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return strings.TrimSpace(rip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(domain.Message{
		Role:    domain.RoleError,
		Content: message,
	})
}
