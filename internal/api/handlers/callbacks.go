// Callback receivers for the external processing service. These routes sit
// outside the JWT surface: document and chat callbacks carry the tenant's
// callback token as a Bearer credential, vector routes carry it in the
// X-Callback-Token header. The header split is a fixed external protocol.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opshift/ragrelay/internal/chat"
	"github.com/opshift/ragrelay/internal/dispatch"
	"github.com/opshift/ragrelay/internal/models"
	"github.com/opshift/ragrelay/internal/pipeline"
	"github.com/opshift/ragrelay/internal/vectorstore"
)

type DocumentRegistry interface {
	ApplyMarkdown(ctx context.Context, documentID, tenantID uuid.UUID, token, markdown string) (*models.Document, error)
	ApplyVectors(ctx context.Context, callbackID, documentID, tenantID uuid.UUID, token string, chunks []vectorstore.Chunk) (int, []vectorstore.RejectedChunk, *models.Document, error)
	MarkFailed(ctx context.Context, documentID, tenantID uuid.UUID, token, reason string) error
}

type ChatResolver interface {
	Resolve(ctx context.Context, messageID, tenantID uuid.UUID, token string, res chat.Resolution) (*models.ChatExchange, error)
}

type VectorSearcher interface {
	Search(ctx context.Context, query []float32, opts vectorstore.SearchOptions) ([]vectorstore.SearchResult, error)
}

type TokenValidator interface {
	Validate(ctx context.Context, tenantID uuid.UUID, token string) error
}

type CallbackHandler struct {
	registry DocumentRegistry
	chats    ChatResolver
	search   VectorSearcher
	tokens   TokenValidator
	traffic  dispatch.TrafficRecorder
}

func NewCallbackHandler(registry DocumentRegistry, chats ChatResolver, search VectorSearcher, tokens TokenValidator, traffic dispatch.TrafficRecorder) *CallbackHandler {
	return &CallbackHandler{registry: registry, chats: chats, search: search, tokens: tokens, traffic: traffic}
}

// respond writes the outcome and captures the inbound exchange once the
// tenant is known. Requests rejected before the tenant id parses are not
// worth a traffic row.
func (h *CallbackHandler) respond(w http.ResponseWriter, r *http.Request, tenantID uuid.UUID, status int, data interface{}) {
	h.record(r, tenantID, status)
	writeJSON(w, status, data)
}

func (h *CallbackHandler) fail(w http.ResponseWriter, r *http.Request, tenantID uuid.UUID, err error) {
	h.record(r, tenantID, errStatus(err))
	writeErr(w, err)
}

func (h *CallbackHandler) record(r *http.Request, tenantID uuid.UUID, status int) {
	if h.traffic != nil {
		h.traffic.RecordTraffic(tenantID, models.TrafficInbound, r.URL.Path, status, "")
	}
}

type markdownCallbackRequest struct {
	TenantID     string `json:"tenant_id"`
	Markdown     string `json:"markdown"`
	Status       string `json:"status,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// DocumentCallback receives the markdown result for a document, or an
// explicit failure signal when the processor gave up on it.
func (h *CallbackHandler) DocumentCallback(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(chi.URLParam(r, "document_id"))
	if err != nil {
		writeErr(w, pipeline.ErrNotFound)
		return
	}

	token := bearerToken(r)
	if token == "" {
		writeErr(w, pipeline.ErrUnauthorized)
		return
	}

	var req markdownCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, pipeline.ErrBadRequest)
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		writeErr(w, pipeline.ErrBadRequest)
		return
	}

	if req.Status == "failed" {
		if err := h.registry.MarkFailed(r.Context(), documentID, tenantID, token, req.ErrorMessage); err != nil {
			h.fail(w, r, tenantID, err)
			return
		}
		h.respond(w, r, tenantID, http.StatusOK, map[string]interface{}{"success": true, "status": models.DocStatusFailed})
		return
	}

	if req.Markdown == "" {
		h.fail(w, r, tenantID, pipeline.ErrBadRequest)
		return
	}

	doc, err := h.registry.ApplyMarkdown(r.Context(), documentID, tenantID, token, req.Markdown)
	if err != nil {
		h.fail(w, r, tenantID, err)
		return
	}

	h.respond(w, r, tenantID, http.StatusOK, map[string]interface{}{"success": true, "status": doc.Status})
}

type vectorEntry struct {
	ChunkText  string          `json:"chunk_text"`
	ChunkIndex int             `json:"chunk_index"`
	Embedding  []float32       `json:"embedding"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

type vectorCallbackRequest struct {
	DocumentID string        `json:"document_id"`
	TenantID   string        `json:"tenant_id"`
	Vectors    []vectorEntry `json:"vectors"`
}

// VectorCallback stores an embedding batch for the document behind the
// opaque callback id. Entries are validated individually; a bad entry is
// reported back without sinking its siblings.
func (h *CallbackHandler) VectorCallback(w http.ResponseWriter, r *http.Request) {
	callbackID, err := uuid.Parse(chi.URLParam(r, "callback_id"))
	if err != nil {
		writeErr(w, pipeline.ErrNotFound)
		return
	}

	token := r.Header.Get("X-Callback-Token")
	if token == "" {
		writeErr(w, pipeline.ErrUnauthorized)
		return
	}

	var req vectorCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, pipeline.ErrBadRequest)
		return
	}
	documentID, err := uuid.Parse(req.DocumentID)
	if err != nil {
		writeErr(w, pipeline.ErrBadRequest)
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		writeErr(w, pipeline.ErrBadRequest)
		return
	}
	if len(req.Vectors) == 0 {
		h.fail(w, r, tenantID, pipeline.ErrBadRequest)
		return
	}

	chunks := make([]vectorstore.Chunk, len(req.Vectors))
	for i, v := range req.Vectors {
		chunks[i] = vectorstore.Chunk{
			ChunkIndex: v.ChunkIndex,
			ChunkText:  v.ChunkText,
			Embedding:  v.Embedding,
			Metadata:   v.Metadata,
		}
	}

	stored, rejected, doc, err := h.registry.ApplyVectors(r.Context(), callbackID, documentID, tenantID, token, chunks)
	if err != nil {
		h.fail(w, r, tenantID, err)
		return
	}

	resp := map[string]interface{}{
		"success":        true,
		"vectors_stored": stored,
		"status":         doc.Status,
	}
	if len(rejected) > 0 {
		resp["vectors_rejected"] = len(rejected)
		resp["rejected"] = rejected
	}
	h.respond(w, r, tenantID, http.StatusOK, resp)
}

type chatCallbackRequest struct {
	ConversationID   string          `json:"conversation_id"`
	TenantID         string          `json:"tenant_id"`
	AIResponse       string          `json:"ai_response"`
	Sources          json.RawMessage `json:"sources,omitempty"`
	ProcessingTimeMs int64           `json:"processing_time_ms,omitempty"`
}

// ChatCallback resolves an awaiting chat exchange with the processor's
// answer. Only the first valid resolution per message lands.
func (h *CallbackHandler) ChatCallback(w http.ResponseWriter, r *http.Request) {
	messageID, err := uuid.Parse(chi.URLParam(r, "message_id"))
	if err != nil {
		writeErr(w, pipeline.ErrNotFound)
		return
	}

	token := bearerToken(r)
	if token == "" {
		writeErr(w, pipeline.ErrUnauthorized)
		return
	}

	var req chatCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, pipeline.ErrBadRequest)
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		writeErr(w, pipeline.ErrBadRequest)
		return
	}
	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		h.fail(w, r, tenantID, pipeline.ErrBadRequest)
		return
	}
	if req.AIResponse == "" {
		h.fail(w, r, tenantID, pipeline.ErrBadRequest)
		return
	}

	ex, err := h.chats.Resolve(r.Context(), messageID, tenantID, token, chat.Resolution{
		ConversationID:   conversationID,
		AIResponse:       req.AIResponse,
		Sources:          req.Sources,
		ProcessingTimeMs: req.ProcessingTimeMs,
	})
	if err != nil {
		h.fail(w, r, tenantID, err)
		return
	}

	h.respond(w, r, tenantID, http.StatusOK, map[string]interface{}{
		"success":    true,
		"message_id": ex.MessageID,
		"status":     ex.Status,
	})
}

type vectorSearchRequest struct {
	TenantID       string    `json:"tenant_id"`
	QueryEmbedding []float32 `json:"query_embedding"`
	Limit          int       `json:"limit,omitempty"`
	Threshold      *float64  `json:"threshold,omitempty"`
}

// VectorSearch runs a similarity query on behalf of the external processor
// mid-chat. Same X-Callback-Token credential as the vector callback.
func (h *CallbackHandler) VectorSearch(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	token := r.Header.Get("X-Callback-Token")
	if token == "" {
		writeErr(w, pipeline.ErrUnauthorized)
		return
	}

	var req vectorSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, pipeline.ErrBadRequest)
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		writeErr(w, pipeline.ErrBadRequest)
		return
	}
	if len(req.QueryEmbedding) == 0 {
		h.fail(w, r, tenantID, pipeline.ErrBadRequest)
		return
	}

	if err := h.tokens.Validate(r.Context(), tenantID, token); err != nil {
		h.fail(w, r, tenantID, err)
		return
	}

	threshold := 0.7
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	results, err := h.search.Search(r.Context(), req.QueryEmbedding, vectorstore.SearchOptions{
		TenantID:  tenantID,
		Limit:     req.Limit,
		Threshold: threshold,
	})
	if err != nil {
		h.fail(w, r, tenantID, err)
		return
	}
	if results == nil {
		results = []vectorstore.SearchResult{}
	}

	h.respond(w, r, tenantID, http.StatusOK, map[string]interface{}{
		"success":           true,
		"results":           results,
		"result_count":      len(results),
		"execution_time_ms": time.Since(started).Milliseconds(),
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
