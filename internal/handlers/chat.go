package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"chatrelay-backend/internal/config"
	"chatrelay-backend/internal/middleware"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/services"
)

const failedMessage = "failed to process request"

type relayService interface {
	Model() string
	Complete(ctx context.Context, req services.RelayRequest, shape config.ResponseShape) (*services.RelayResult, error)
}

type exchangeRecorder interface {
	Submit(ex models.Exchange) bool
}

// decodeFunc turns a request body into a validated relay request.
type decodeFunc func(body io.Reader) (services.RelayRequest, error)

type ChatHandler struct {
	relay        relayService
	recorder     exchangeRecorder
	chat         config.Profile
	completions  config.Profile
	maxBodyBytes int64
}

func NewChatHandler(relay relayService, recorder exchangeRecorder, cfg *config.Config) *ChatHandler {
	return &ChatHandler{
		relay:        relay,
		recorder:     recorder,
		chat:         cfg.Chat,
		completions:  cfg.Completions,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// Chat handles POST /api/chat with {message, history}.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "chat", h.chat, decodeChatRequest)
}

// Complete handles /api/completions with {prompt, temperature, stream}.
// Only POST is accepted.
func (h *ChatHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, models.ErrorResponse{Error: "Method Not Allowed. Use POST."})
		return
	}
	h.serve(w, r, "completions", h.completions, decodePromptRequest)
}

func (h *ChatHandler) serve(w http.ResponseWriter, r *http.Request, route string, profile config.Profile, decode decodeFunc) {
	start := time.Now()

	req, err := decode(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	var res *services.RelayResult
	if err == nil {
		res, err = h.relay.Complete(r.Context(), req, profile.Shape)
	}

	var status int
	var outcome models.Outcome
	if err == nil {
		status, outcome = writeSuccess(w, profile, res)
	} else {
		status, outcome = handleRelayError(w, r, profile, err)
	}
	elapsed := time.Since(start)

	ex := models.Exchange{
		ID:        uuid.New(),
		RequestID: middleware.GetRequestID(r.Context()),
		Route:     route,
		Shape:     string(profile.Shape),
		Model:     h.relay.Model(),
		Status:    status,
		Outcome:   outcome,
		LatencyMS: elapsed.Milliseconds(),
		CreatedAt: start.UTC(),
	}
	if res != nil {
		ex.UpstreamStatus = res.UpstreamStatus
		ex.PromptTokens = res.PromptTokens
		ex.CompletionTokens = res.CompletionTokens
		middleware.RecordTokenUsage(route, res.PromptTokens, res.CompletionTokens)
	}
	var upstreamErr *services.UpstreamError
	if errors.As(err, &upstreamErr) {
		ex.UpstreamStatus = upstreamErr.Status
	}

	middleware.RecordRelayOutcome(route, outcome, elapsed)
	if h.recorder != nil {
		h.recorder.Submit(ex)
	}
}

func writeSuccess(w http.ResponseWriter, profile config.Profile, res *services.RelayResult) (int, models.Outcome) {
	if profile.Shape == config.ShapePassthrough {
		writeRaw(w, http.StatusOK, res.Body)
	} else {
		writeJSON(w, http.StatusOK, models.ChatResponse{Response: res.Reply})
	}
	return http.StatusOK, models.OutcomeSuccess
}

// handleRelayError maps a relay failure onto the client envelope. The profile
// decides whether upstream failures keep their status and raw body.
func handleRelayError(w http.ResponseWriter, r *http.Request, profile config.Profile, err error) (int, models.Outcome) {
	entry := log.WithFields(log.Fields{
		"request_id": middleware.GetRequestID(r.Context()),
		"path":       r.URL.Path,
	}).WithError(err)

	var (
		validationErr *services.ValidationError
		upstreamErr   *services.UpstreamError
		malformedErr  *services.MalformedResponseError
	)
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: validationErr.Message})
		return http.StatusBadRequest, models.OutcomeValidation

	case errors.As(err, &upstreamErr):
		status := http.StatusInternalServerError
		if profile.Status == config.StatusPassthrough {
			status = passthroughStatus(upstreamErr.Status)
		}
		entry.WithField("upstream_status", upstreamErr.Status).Warn("upstream rejected relay request")
		if profile.Shape == config.ShapePassthrough {
			writeRaw(w, status, upstreamErr.Body)
		} else {
			writeJSON(w, status, models.ErrorResponse{Error: failedMessage, Details: upstreamErr.Error()})
		}
		return status, models.OutcomeUpstream

	case errors.As(err, &malformedErr):
		entry.Error("upstream answered with an unexpected shape")
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: failedMessage, Details: malformedErr.Error()})
		return http.StatusInternalServerError, models.OutcomeMalformed

	default:
		entry.Error("relay request failed")
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: failedMessage, Details: err.Error()})
		return http.StatusInternalServerError, models.OutcomeInternal
	}
}

// passthroughStatus keeps upstream 4xx/5xx codes; anything else becomes 502.
func passthroughStatus(upstream int) int {
	if upstream >= 400 && upstream <= 599 {
		return upstream
	}
	return http.StatusBadGateway
}

// decodeJSONBody requires the body to hold exactly one JSON value.
func decodeJSONBody(body io.Reader, v interface{}) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		return &services.InternalError{Message: "invalid JSON body", Err: err}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			err = errors.New("unexpected data after JSON value")
		}
		return &services.InternalError{Message: "invalid JSON body", Err: err}
	}
	return nil
}

func decodeChatRequest(body io.Reader) (services.RelayRequest, error) {
	var req models.ChatRequest
	if err := decodeJSONBody(body, &req); err != nil {
		return services.RelayRequest{}, err
	}
	if strings.TrimSpace(req.Message) == "" {
		return services.RelayRequest{}, &services.ValidationError{Message: "message required"}
	}
	return services.RelayRequest{Message: req.Message, History: req.History}, nil
}

func decodePromptRequest(body io.Reader) (services.RelayRequest, error) {
	var req models.PromptRequest
	if err := decodeJSONBody(body, &req); err != nil {
		return services.RelayRequest{}, err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return services.RelayRequest{}, &services.ValidationError{Message: "Missing prompt"}
	}
	if req.Stream != nil && *req.Stream {
		log.Debug("stream requested on /api/completions; streaming is disabled, answering in one piece")
	}
	return services.RelayRequest{Message: req.Prompt, Temperature: req.Temperature}, nil
}
