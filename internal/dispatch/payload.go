package dispatch

import "github.com/google/uuid"

const (
	ActionDocumentProcessing = "document-processing"
	ActionProcessChatMessage = "process-chat-message"
)

// ProcessingRequest is the outbound webhook payload sent to the external
// processing service. Document and chat dispatches share the envelope and
// fill in their own callback URLs.
type ProcessingRequest struct {
	Source        string `json:"source"`
	Action        string `json:"action"`
	TenantID      string `json:"tenant_id"`
	CallbackToken string `json:"callback_token"`

	// document-processing
	DocumentURL         string `json:"document_url,omitempty"`
	MarkdownCallbackURL string `json:"markdown_callback_url,omitempty"`
	VectorCallbackURL   string `json:"vector_callback_url,omitempty"`
	FileName            string `json:"file_name,omitempty"`
	FileType            string `json:"file_type,omitempty"`
	FileSizeBytes       int64  `json:"file_size_bytes,omitempty"`

	// process-chat-message
	MessageID       string `json:"message_id,omitempty"`
	ConversationID  string `json:"conversation_id,omitempty"`
	CustomerMessage string `json:"customer_message,omitempty"`
	ChatCallbackURL string `json:"chat_callback_url,omitempty"`
	VectorSearchURL string `json:"vector_search_url,omitempty"`
}

// Delivery is one outbound send. RefKind/RefID tie the delivery back to the
// document or chat exchange that gets marked failed if retries exhaust.
type Delivery struct {
	TargetURL  string
	AuthScheme string
	Token      string
	TenantID   uuid.UUID
	RefKind    string
	RefID      uuid.UUID
	Payload    ProcessingRequest
}
