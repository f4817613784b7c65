package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"chatrelay-backend/internal/config"
	"chatrelay-backend/internal/models"
)

const maxUpstreamBodyBytes = 8 << 20

// RelayRequest is the validated input shared by every relay route.
type RelayRequest struct {
	Message     string
	History     []models.HistoryEntry
	Temperature *float64
}

// RelayResult is a successful upstream answer.
type RelayResult struct {
	Body             []byte
	Reply            string
	UpstreamStatus   int
	PromptTokens     int
	CompletionTokens int
}

type RelayService struct {
	upstream     config.Upstream
	systemPrompt string
	historyLimit int
	httpClient   *http.Client
}

func NewRelayService(cfg *config.Config) *RelayService {
	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second
	return &RelayService{
		upstream:     cfg.Upstream,
		systemPrompt: cfg.SystemPrompt,
		historyLimit: cfg.HistoryLimit,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// Model returns the single upstream model identifier.
func (s *RelayService) Model() string {
	return s.upstream.Model
}

// BuildMessages lays out the upstream conversation: the system prompt, the
// newest `limit` history entries in their original order, then the new user message.
func BuildMessages(systemPrompt string, history []models.HistoryEntry, message string, limit int) []openai.ChatCompletionMessage {
	if limit >= 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, entry := range history {
		role := openai.ChatMessageRoleAssistant
		if entry.Type == "user" {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: entry.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})
	return messages
}

// buildBody renders the chat-completion payload. temperature and stream are
// pinned with sjson because the go-openai request omits zero values.
func (s *RelayService) buildBody(req RelayRequest) ([]byte, error) {
	temperature := s.upstream.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	messages := BuildMessages(s.systemPrompt, req.History, req.Message, s.historyLimit)
	body, err := json.Marshal(openai.ChatCompletionRequest{
		Model:     s.upstream.Model,
		Messages:  messages,
		MaxTokens: s.upstream.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat completion request: %w", err)
	}
	// go-openai drops empty content; upstreams reject messages without it.
	for i, m := range messages {
		if m.Content != "" {
			continue
		}
		if body, err = sjson.SetBytes(body, fmt.Sprintf("messages.%d.content", i), ""); err != nil {
			return nil, fmt.Errorf("set empty content: %w", err)
		}
	}
	if body, err = sjson.SetBytes(body, "temperature", temperature); err != nil {
		return nil, fmt.Errorf("set temperature: %w", err)
	}
	if body, err = sjson.SetBytes(body, "stream", false); err != nil {
		return nil, fmt.Errorf("set stream: %w", err)
	}
	return body, nil
}

// Complete performs one upstream call. With ShapeWrapped the answer must carry
// choices[0].message.content; with ShapePassthrough any 2xx body is accepted.
func (s *RelayService) Complete(ctx context.Context, req RelayRequest, shape config.ResponseShape) (*RelayResult, error) {
	if s.upstream.APIKey == "" {
		return nil, &InternalError{Message: "upstream API key is not configured"}
	}

	payload, err := s.buildBody(req)
	if err != nil {
		return nil, &InternalError{Message: "failed to build upstream request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.upstream.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &InternalError{Message: "failed to create upstream request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.upstream.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, &InternalError{Message: "upstream request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodyBytes+1))
	if err != nil {
		return nil, &InternalError{Message: "failed to read upstream response", Err: err}
	}
	if len(body) > maxUpstreamBodyBytes {
		return nil, &InternalError{Message: fmt.Sprintf("upstream response exceeds %d bytes", maxUpstreamBodyBytes)}
	}

	log.WithFields(log.Fields{
		"model":           s.upstream.Model,
		"upstream_status": resp.StatusCode,
		"upstream_ms":     time.Since(start).Milliseconds(),
	}).Debug("upstream call finished")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: body}
	}

	result := &RelayResult{
		Body:             body,
		UpstreamStatus:   resp.StatusCode,
		PromptTokens:     int(gjson.GetBytes(body, "usage.prompt_tokens").Int()),
		CompletionTokens: int(gjson.GetBytes(body, "usage.completion_tokens").Int()),
	}

	if shape == config.ShapeWrapped {
		if !gjson.ValidBytes(body) {
			return nil, &MalformedResponseError{Reason: "body is not valid JSON"}
		}
		content := gjson.GetBytes(body, "choices.0.message.content")
		if content.Type != gjson.String {
			return nil, &MalformedResponseError{Reason: "choices[0].message.content is missing"}
		}
		result.Reply = content.String()
	}

	return result, nil
}
