package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/echoposthq/echopost/internal/chatwoot"
	"github.com/echoposthq/echopost/internal/observability/metrics"
	"github.com/echoposthq/echopost/pkg/logging"
)

const (
	webhookTokenHeader = "X-Echopost-Token"
	webhookTokenQuery  = "token"
)

type inboundPipeline interface {
	Handle(ctx context.Context, msg *chatwoot.InboundMessage) (string, error)
}

// ChatwootWebhookHandler receives Chatwoot message_created webhooks and
// feeds them into the intake pipeline. Chatwoot retries on non-2xx, so
// every valid-but-irrelevant event is answered 200 with a skip reason.
type ChatwootWebhookHandler struct {
	pipeline inboundPipeline
	token    string
	metrics  *metrics.PipelineMetrics
	logger   *logging.Logger
}

type ChatwootWebhookConfig struct {
	Pipeline inboundPipeline
	// Token guards the endpoint; Chatwoot does not sign webhook bodies,
	// so the shared token rides in the URL or a header. Empty disables
	// the check.
	Token   string
	Metrics *metrics.PipelineMetrics
	Logger  *logging.Logger
}

func NewChatwootWebhookHandler(cfg ChatwootWebhookConfig) *ChatwootWebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &ChatwootWebhookHandler{
		pipeline: cfg.Pipeline,
		token:    strings.TrimSpace(cfg.Token),
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.Component("webhook"),
	}
}

// Handle processes one webhook delivery.
func (h *ChatwootWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		jsonError(w, "intake not configured", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()

	if h.token != "" && !h.authorized(r) {
		h.logger.Warn("webhook rejected, bad token", "remote_ip", r.RemoteAddr)
		jsonError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		jsonError(w, "invalid body", http.StatusBadRequest)
		return
	}
	msg, skip, err := chatwoot.ParseInbound(body, time.Now().UTC())
	if err != nil {
		h.logger.Warn("webhook payload rejected", "error", err)
		jsonError(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if skip != "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped", "reason": skip})
		return
	}

	status, err := h.pipeline.Handle(r.Context(), msg)
	h.metrics.ObserveInbound("message_created", status)
	h.metrics.ObserveWebhookLatency("message_created", time.Since(start).Seconds())
	if err != nil {
		h.logger.Error("webhook handling failed",
			"conversation_id", msg.ConversationID, "message_id", msg.MessageID, "error", err)
		jsonError(w, "processing error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"conversation_id": msg.ConversationID,
	})
}

func (h *ChatwootWebhookHandler) authorized(r *http.Request) bool {
	token := strings.TrimSpace(r.Header.Get(webhookTokenHeader))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get(webhookTokenQuery))
	}
	return token == h.token
}
