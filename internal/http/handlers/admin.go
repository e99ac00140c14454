package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/echoposthq/echopost/internal/buffer"
	"github.com/echoposthq/echopost/internal/conversation"
	"github.com/echoposthq/echopost/internal/notes"
	"github.com/echoposthq/echopost/internal/orders"
	"github.com/echoposthq/echopost/pkg/logging"
	"github.com/go-chi/chi/v5"
)

// Manual sweep settings. The worker loop uses its own cadence; these
// only bound a single admin-triggered pass.
const (
	sweepRetryGrace = 2 * time.Minute
	sweepRetryLimit = 50
)

type orderDirectory interface {
	ByID(ctx context.Context, id string) (*orders.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]orders.Order, error)
}

type noteDirectory interface {
	ListBySubject(ctx context.Context, subjectID string, limit int) ([]notes.Note, error)
}

type bufferSweeper interface {
	RunOnce(ctx context.Context, now time.Time) (int, error)
}

type orderRetrier interface {
	RetryPending(ctx context.Context, grace time.Duration, limit int) (int, error)
}

// AdminHandler exposes read-only inspection of buffers, dialogs, orders
// and notes, plus a manual sweep trigger for operators.
type AdminHandler struct {
	buffers buffer.Buffers
	states  conversation.States
	orders  orderDirectory
	notes   noteDirectory
	sweeper bufferSweeper
	retrier orderRetrier
	logger  *logging.Logger
}

type AdminConfig struct {
	Buffers buffer.Buffers
	States  conversation.States
	Orders  orderDirectory
	Notes   noteDirectory
	Sweeper bufferSweeper
	Retrier orderRetrier
	Logger  *logging.Logger
}

func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &AdminHandler{
		buffers: cfg.Buffers,
		states:  cfg.States,
		orders:  cfg.Orders,
		notes:   cfg.Notes,
		sweeper: cfg.Sweeper,
		retrier: cfg.Retrier,
		logger:  cfg.Logger.Component("admin"),
	}
}

type conversationInspection struct {
	ConversationID int                 `json:"conversation_id"`
	Buffer         *buffer.State       `json:"buffer,omitempty"`
	Dialog         *conversation.State `json:"dialog,omitempty"`
}

// GetConversation returns the buffer and dialog state of a conversation.
// GET /admin/conversations/{conversationID}
func (h *AdminHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID, err := strconv.Atoi(chi.URLParam(r, "conversationID"))
	if err != nil {
		jsonError(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	buf, err := h.buffers.Get(r.Context(), conversationID)
	if err != nil {
		h.logger.Error("failed to load buffer", "error", err, "conversation_id", conversationID)
		jsonError(w, "failed to load conversation", http.StatusInternalServerError)
		return
	}
	dialog, err := h.states.Get(r.Context(), conversationID)
	if err != nil {
		h.logger.Error("failed to load dialog state", "error", err, "conversation_id", conversationID)
		jsonError(w, "failed to load conversation", http.StatusInternalServerError)
		return
	}
	if buf == nil && dialog == nil {
		jsonError(w, "conversation not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, conversationInspection{
		ConversationID: conversationID,
		Buffer:         buf,
		Dialog:         dialog,
	})
}

// ListOrders returns a user's newest content orders.
// GET /admin/orders?user_id=...&limit=...
func (h *AdminHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		jsonError(w, "missing user_id", http.StatusBadRequest)
		return
	}

	list, err := h.orders.ListByUser(r.Context(), userID, queryLimit(r))
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "user_id", userID)
		jsonError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orders": list,
		"count":  len(list),
	})
}

// GetOrder returns one content order.
// GET /admin/orders/{orderID}
func (h *AdminHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		jsonError(w, "missing orderID", http.StatusBadRequest)
		return
	}

	order, err := h.orders.ByID(r.Context(), orderID)
	if err != nil {
		h.logger.Error("failed to fetch order", "error", err, "order_id", orderID)
		jsonError(w, "failed to fetch order", http.StatusInternalServerError)
		return
	}
	if order == nil {
		jsonError(w, "order not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// ListNotes returns a subject's newest notes.
// GET /admin/notes?subject_id=...&limit=...
func (h *AdminHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subject_id")
	if subjectID == "" {
		jsonError(w, "missing subject_id", http.StatusBadRequest)
		return
	}

	list, err := h.notes.ListBySubject(r.Context(), subjectID, queryLimit(r))
	if err != nil {
		h.logger.Error("failed to list notes", "error", err, "subject_id", subjectID)
		jsonError(w, "failed to list notes", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []notes.Note{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"notes": list,
		"count": len(list),
	})
}

// RunSweep flushes every overdue buffer and re-enqueues stuck orders.
// The worker does this on a timer; the endpoint exists for operators
// who do not want to wait for the next tick.
// POST /admin/sweep
func (h *AdminHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil || h.retrier == nil {
		jsonError(w, "sweep not configured", http.StatusServiceUnavailable)
		return
	}

	flushed, err := h.sweeper.RunOnce(r.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Error("manual sweep failed", "error", err)
		jsonError(w, "sweep failed", http.StatusInternalServerError)
		return
	}
	requeued, err := h.retrier.RetryPending(r.Context(), sweepRetryGrace, sweepRetryLimit)
	if err != nil {
		h.logger.Error("manual order retry failed", "error", err, "flushed", flushed)
		jsonError(w, "order retry failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info("manual sweep completed", "flushed", flushed, "requeued", requeued)
	writeJSON(w, http.StatusOK, map[string]int{
		"flushed":  flushed,
		"requeued": requeued,
	})
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}
