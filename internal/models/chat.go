package models

// HistoryEntry is one prior turn supplied by the client.
// Type "user" marks a user turn; anything else is treated as an assistant turn.
type HistoryEntry struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ChatRequest is the payload sent to POST /api/chat.
type ChatRequest struct {
	Message string         `json:"message"`
	History []HistoryEntry `json:"history"`
}

// PromptRequest is the payload sent to POST /api/completions.
type PromptRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stream      *bool    `json:"stream,omitempty"` // accepted, never honoured
}

// ChatResponse is the wrapped reply returned on success.
type ChatResponse struct {
	Response string `json:"response"`
}

// ErrorResponse is the client-facing failure envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
