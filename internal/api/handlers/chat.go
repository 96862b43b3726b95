package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opshift/ragrelay/internal/chat"
	"github.com/opshift/ragrelay/internal/models"
	"github.com/opshift/ragrelay/internal/notify"
	"github.com/opshift/ragrelay/internal/pipeline"
	"github.com/opshift/ragrelay/internal/tenant"
)

type ChatService interface {
	Send(ctx context.Context, tenantID uuid.UUID, req chat.SendRequest) (*models.ChatExchange, error)
	Get(ctx context.Context, messageID, tenantID uuid.UUID) (*models.ChatExchange, error)
	ListStuck(ctx context.Context, tenantID uuid.UUID, minAge time.Duration) ([]models.ChatExchange, error)
}

type Streams interface {
	Subscribe(tenantID, conversationID uuid.UUID) (<-chan notify.Event, func())
}

type ChatHandler struct {
	chats   ChatService
	streams Streams
}

func NewChatHandler(chats ChatService, streams Streams) *ChatHandler {
	return &ChatHandler{chats: chats, streams: streams}
}

type sendMessageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// SendMessage accepts a user turn and returns 202 once the processing
// request is on its way. The answer arrives later via the callback and is
// read back through Get or the SSE stream.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.IDFromContext(r.Context())
	if !ok {
		writeErr(w, pipeline.ErrUnauthorized)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, pipeline.ErrBadRequest)
		return
	}

	var conversationID uuid.UUID
	if req.ConversationID != "" {
		var err error
		conversationID, err = uuid.Parse(req.ConversationID)
		if err != nil {
			writeErr(w, fmt.Errorf("%w: invalid conversation_id", pipeline.ErrBadRequest))
			return
		}
	}

	ex, err := h.chats.Send(r.Context(), tenantID, chat.SendRequest{
		ConversationID: conversationID,
		Message:        req.Message,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, ex)
}

func (h *ChatHandler) GetExchange(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.IDFromContext(r.Context())
	if !ok {
		writeErr(w, pipeline.ErrUnauthorized)
		return
	}

	messageID, err := uuid.Parse(chi.URLParam(r, "message_id"))
	if err != nil {
		writeErr(w, pipeline.ErrNotFound)
		return
	}

	ex, err := h.chats.Get(r.Context(), messageID, tenantID)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ex)
}

// ListStuck surfaces exchanges awaiting a response for longer than min_age
// (default 5m). Monitoring only; nothing here mutates state.
func (h *ChatHandler) ListStuck(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.IDFromContext(r.Context())
	if !ok {
		writeErr(w, pipeline.ErrUnauthorized)
		return
	}

	minAge := 5 * time.Minute
	if raw := r.URL.Query().Get("min_age"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeErr(w, fmt.Errorf("%w: invalid min_age", pipeline.ErrBadRequest))
			return
		}
		minAge = d
	}

	stuck, err := h.chats.ListStuck(r.Context(), tenantID, minAge)
	if err != nil {
		writeErr(w, err)
		return
	}
	if stuck == nil {
		stuck = []models.ChatExchange{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exchanges": stuck,
		"count":     len(stuck),
	})
}

// Stream pushes resolved exchanges for one conversation over SSE. Clients
// that connect after the resolution landed read it back via GetExchange;
// the stream only carries events from now on.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.IDFromContext(r.Context())
	if !ok {
		writeErr(w, pipeline.ErrUnauthorized)
		return
	}

	conversationID, err := uuid.Parse(chi.URLParam(r, "conversation_id"))
	if err != nil {
		writeErr(w, pipeline.ErrNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, fmt.Errorf("streaming unsupported"))
		return
	}

	events, cancel := h.streams.Subscribe(tenantID, conversationID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: connected\ndata: {\"conversation_id\":%q}\n\n", conversationID)
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
