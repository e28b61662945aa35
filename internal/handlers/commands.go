package handlers

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"coldwatch/internal/command"
	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
)

// CommandHandler accepts command text over HTTP and queues it for the
// ingestion pool, the same path messages from the brokers and modem take
type CommandHandler struct {
	queue       chan<- models.InboundMessage
	maxBodySize int64
}

// CommandConfig holds configuration for the command handler
type CommandConfig struct {
	Queue       chan<- models.InboundMessage
	MaxBodySize int64
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(cfg CommandConfig) *CommandHandler {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize <= 0 {
		maxBodySize = models.MaxInboundLength
	}
	return &CommandHandler{queue: cfg.Queue, maxBodySize: maxBodySize}
}

// CommandRequest is the JSON form of a command submission
type CommandRequest struct {
	Text string `json:"text"`
}

// CommandResponse is returned to clients
type CommandResponse struct {
	Success    bool     `json:"success"`
	MessageID  string   `json:"message_id,omitempty"`
	Directives []string `json:"directives"`
	Error      string   `json:"error,omitempty"`
}

// ServeHTTP handles POST /commands. The body is either raw text or
// {"text": "..."} with a JSON content type.
func (h *CommandHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	text := body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
		var req CommandRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		text = []byte(req.Text)
	}

	if len(text) == 0 {
		writeError(w, http.StatusBadRequest, "empty command")
		return
	}

	msg := models.NewInboundMessage(models.SourceHTTP, text)

	// preview only; the worker parses again when it applies the message
	var preview []string
	for _, d := range command.Parse(msg.Text) {
		preview = append(preview, d.String())
	}
	if preview == nil {
		preview = []string{}
	}

	select {
	case h.queue <- msg:
		metrics.InboundMessagesTotal.WithLabelValues(string(models.SourceHTTP), "queued").Inc()
	default:
		metrics.InboundMessagesTotal.WithLabelValues(string(models.SourceHTTP), "dropped").Inc()
		log := logger.WithComponent("handlers")
		log.Warn().Str("message_id", msg.ID).Msg("command queue full")
		writeError(w, http.StatusServiceUnavailable, "internal queue full, try again later")
		return
	}

	writeJSON(w, http.StatusAccepted, CommandResponse{
		Success:    true,
		MessageID:  msg.ID,
		Directives: preview,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false) // limits read ">30.0", not "\u003e30.0"
	_ = enc.Encode(v)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
