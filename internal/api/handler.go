package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/embedchat/chatd/internal/chat"
	"github.com/embedchat/chatd/internal/extract"
	"github.com/embedchat/chatd/internal/models"
	"go.uber.org/zap"
)

// Handler exposes the widget-facing JSON API. Responses are either the
// success payload or {"error": "..."}; the widget runs on arbitrary
// third-party origins so CORS is wide open (see middleware.go).
type Handler struct {
	svc       *chat.Service
	extractor *extract.Client
	logger    *zap.Logger

	// defaultGreeting seeds new conversations when the bootstrap request
	// does not carry a greeting of its own.
	defaultGreeting string
}

func NewHandler(svc *chat.Service, extractor *extract.Client, logger *zap.Logger, defaultGreeting string) *Handler {
	return &Handler{
		svc:             svc,
		extractor:       extractor,
		logger:          logger,
		defaultGreeting: defaultGreeting,
	}
}

// Routes assembles the API surface with logging and CORS applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/api/bootstrap", h.HandleBootstrap)
	mux.HandleFunc("/api/messages", h.HandleMessages)
	mux.HandleFunc("/api/extract", h.HandleExtract)
	return chain(mux, withCORS, h.withLogging)
}

type bootstrapRequest struct {
	PropertyID  string `json:"propertyId"`
	SessionID   string `json:"sessionId"`
	CurrentPage string `json:"currentPage,omitempty"`
	BrowserInfo string `json:"browserInfo,omitempty"`
	GCLID       string `json:"gclid,omitempty"`
	Greeting    string `json:"greeting,omitempty"`
}

type visitorProfile struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type bootstrapResponse struct {
	VisitorID      string         `json:"visitorId"`
	ConversationID string         `json:"conversationId"`
	Visitor        visitorProfile `json:"visitor"`
}

type messageResponse struct {
	ID             string `json:"id"`
	Content        string `json:"content"`
	SenderType     string `json:"senderType"`
	SenderID       string `json:"senderId"`
	SequenceNumber int64  `json:"sequenceNumber"`
	CreatedAt      string `json:"createdAt"`
}

type listMessagesResponse struct {
	Messages []messageResponse `json:"messages"`
}

type appendRequest struct {
	ConversationID string `json:"conversationId"`
	VisitorID      string `json:"visitorId"`
	SessionID      string `json:"sessionId"`
	SenderType     string `json:"senderType"`
	Content        string `json:"content"`
}

type appendResponse struct {
	SequenceNumber int64 `json:"sequenceNumber"`
}

type extractRequest struct {
	VisitorID           string         `json:"visitorId"`
	ConversationHistory []extract.Turn `json:"conversationHistory"`
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) HandleBootstrap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req bootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.PropertyID == "" {
		badRequest(w, "propertyId is required")
		return
	}
	if req.SessionID == "" {
		badRequest(w, "sessionId is required")
		return
	}

	greeting := req.Greeting
	if greeting == "" {
		greeting = h.defaultGreeting
	}

	result, err := h.svc.Bootstrap(r.Context(), chat.BootstrapInput{
		PropertyID:  req.PropertyID,
		SessionID:   req.SessionID,
		CurrentPage: req.CurrentPage,
		BrowserInfo: req.BrowserInfo,
		GCLID:       req.GCLID,
		Greeting:    greeting,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bootstrapResponse{
		VisitorID:      result.VisitorID,
		ConversationID: result.ConversationID,
		Visitor:        visitorProfile{Name: result.Name, Email: result.Email},
	})
}

// HandleMessages serves the two sides of the poll loop: GET lists messages
// past the caller's cursor, POST appends one.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listMessages(w, r)
	case http.MethodPost:
		h.appendMessage(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conversationID := q.Get("conversationId")
	visitorID := q.Get("visitorId")
	sessionID := q.Get("sessionId")
	if conversationID == "" || visitorID == "" || sessionID == "" {
		badRequest(w, "conversationId, visitorId and sessionId are required")
		return
	}

	var afterSeq int64
	if after := q.Get("after"); after != "" {
		n, err := strconv.ParseInt(after, 10, 64)
		if err != nil || n < 0 {
			badRequest(w, "invalid after cursor")
			return
		}
		afterSeq = n
	}

	msgs, err := h.svc.ListSince(r.Context(), conversationID, visitorID, sessionID, afterSeq)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listMessagesResponse{Messages: toMessageResponses(msgs)})
}

func (h *Handler) appendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.ConversationID == "" || req.VisitorID == "" || req.SessionID == "" {
		badRequest(w, "conversationId, visitorId and sessionId are required")
		return
	}

	msg, err := h.svc.Append(r.Context(), chat.AppendInput{
		ConversationID: req.ConversationID,
		VisitorID:      req.VisitorID,
		SessionID:      req.SessionID,
		SenderType:     req.SenderType,
		Content:        req.Content,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, appendResponse{SequenceNumber: msg.SequenceNumber})
}

// HandleExtract runs profile extraction over the supplied history. The
// outcome is informational: once the input parses this always answers 200
// and the widget ignores the result.
func (h *Handler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.VisitorID == "" {
		badRequest(w, "visitorId is required")
		return
	}

	result := h.extractor.Extract(r.Context(), req.VisitorID, req.ConversationHistory)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrContentRequired),
		errors.Is(err, chat.ErrInvalidSenderType),
		errors.Is(err, chat.ErrInvalidProperty),
		errors.Is(err, chat.ErrInvalidVisitor):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, chat.ErrUnauthorized):
		// Mismatched session tokens can mean a stale tab or tampering;
		// keep the response generic and the details server-side.
		h.logger.Warn("authorization mismatch",
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, chat.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func toMessageResponses(msgs []models.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			ID:             m.ID,
			Content:        m.Content,
			SenderType:     m.SenderType,
			SenderID:       m.SenderID,
			SequenceNumber: m.SequenceNumber,
			CreatedAt:      m.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
