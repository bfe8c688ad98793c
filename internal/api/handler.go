package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zenith-chat/zenith/internal/auth"
	"github.com/zenith-chat/zenith/internal/db"
	"github.com/zenith-chat/zenith/internal/files"
	"github.com/zenith-chat/zenith/internal/llm"
	"github.com/zenith-chat/zenith/internal/models"
	"github.com/zenith-chat/zenith/internal/session"
)

const maxUploadBytes = 32 << 20

type Handler struct {
	db       *db.Database
	auth     *auth.Service
	sessions *session.Manager
	llm      *llm.Service
	logger   *zap.Logger
}

func NewHandler(database *db.Database, authService *auth.Service, sessions *session.Manager, llmService *llm.Service, logger *zap.Logger) *Handler {
	return &Handler{
		db:       database,
		auth:     authService,
		sessions: sessions,
		llm:      llmService,
		logger:   logger,
	}
}

// Register wires all routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/register", h.HandleRegister)
	mux.HandleFunc("/api/login", h.HandleLogin)
	mux.HandleFunc("/api/logout", h.HandleLogout)
	mux.HandleFunc("/api/conversations", h.HandleConversations)
	mux.HandleFunc("/api/conversations/select", h.SelectConversation)
	mux.HandleFunc("/api/conversations/update", h.UpdateConversation)
	mux.HandleFunc("/api/conversations/delete", h.DeleteConversation)
	mux.HandleFunc("/api/model", h.SelectModel)
	mux.HandleFunc("/api/messages", h.GetMessages)
	mux.HandleFunc("/api/chat", h.HandleChat)
	mux.HandleFunc("/api/analyze", h.HandleAnalyze)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createConversationRequest struct {
	Name string `json:"name"`
}

type selectConversationRequest struct {
	ConversationID int64 `json:"conversation_id"`
}

type updateConversationRequest struct {
	ConversationID int64  `json:"conversation_id"`
	Name           string `json:"name"`
}

type selectModelRequest struct {
	Model string `json:"model"`
}

type chatRequest struct {
	Content string `json:"content"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sessionFromRequest resolves the bearer token to its session. The session is
// then passed explicitly into the handler logic rather than living in any
// ambient state.
func (h *Handler) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return nil, false
	}
	sess, ok := h.sessions.Get(token)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired session")
		return nil, false
	}
	return sess, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func defaultConversationName() string {
	return "New Chat " + time.Now().Format("2006-01-02 15:04")
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	userID, err := h.auth.Register(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrDuplicateUsername) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to register user", zap.Error(err), zap.String("username", req.Username))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int64{"user_id": userID})
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := h.auth.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to authenticate user", zap.Error(err), zap.String("username", req.Username))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	convID, err := h.currentConversationID(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to bootstrap conversation", zap.Error(err), zap.Int64("userID", userID))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	token, _ := h.sessions.Create(userID, convID, llm.ModelDefault)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":           token,
		"conversation_id": convID,
	})
}

// currentConversationID returns the user's most recent conversation, creating
// the first one when none exist.
func (h *Handler) currentConversationID(ctx context.Context, userID int64) (int64, error) {
	conversations, err := h.db.ListConversations(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(conversations) > 0 {
		return conversations[0].ID, nil
	}
	conv, err := h.db.CreateConversation(ctx, userID, defaultConversationName())
	if err != nil {
		return 0, err
	}
	return conv.ID, nil
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := h.sessionFromRequest(w, r); !ok {
		return
	}
	h.sessions.Delete(bearerToken(r))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) HandleConversations(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		conversations, err := h.db.ListConversations(r.Context(), sess.UserID)
		if err != nil {
			h.logger.Error("failed to list conversations", zap.Error(err), zap.Int64("userID", sess.UserID))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, conversations)

	case http.MethodPost:
		var req createConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		name := req.Name
		if strings.TrimSpace(name) == "" {
			name = defaultConversationName()
		}

		conv, err := h.db.CreateConversation(r.Context(), sess.UserID, name)
		if err != nil {
			h.logger.Error("failed to create conversation", zap.Error(err), zap.Int64("userID", sess.UserID))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		sess.SelectConversation(conv.ID)
		writeJSON(w, http.StatusCreated, conv)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// ownedConversation loads the conversation and verifies the session user owns
// it. Missing and foreign conversations are both reported as not found.
func (h *Handler) ownedConversation(ctx context.Context, sess *session.Session, id int64) (*models.Conversation, error) {
	conv, err := h.db.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.UserID != sess.UserID {
		return nil, nil
	}
	return conv, nil
}

func (h *Handler) SelectConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req selectConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.ownedConversation(r.Context(), sess, req.ConversationID)
	if err != nil {
		h.logger.Error("failed to get conversation", zap.Error(err), zap.Int64("conversationID", req.ConversationID))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	sess.SelectConversation(conv.ID)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req updateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.ownedConversation(r.Context(), sess, req.ConversationID)
	if err != nil {
		h.logger.Error("failed to get conversation", zap.Error(err), zap.Int64("conversationID", req.ConversationID))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	if err := h.db.RenameConversation(r.Context(), conv.ID, req.Name); err != nil {
		if errors.Is(err, db.ErrEmptyName) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to rename conversation", zap.Error(err), zap.Int64("conversationID", conv.ID))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	convID, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	conv, err := h.db.GetConversation(r.Context(), convID)
	if err != nil {
		h.logger.Error("failed to get conversation", zap.Error(err), zap.Int64("conversationID", convID))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if conv != nil && conv.UserID != sess.UserID {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	// Deleting an id that no longer exists is a no-op.
	if err := h.db.DeleteConversation(r.Context(), convID); err != nil {
		h.logger.Error("failed to delete conversation", zap.Error(err), zap.Int64("conversationID", convID))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Fall back to the most recent remaining conversation, creating a fresh
	// one when none remain.
	if sess.ConversationID() == convID {
		nextID, err := h.currentConversationID(r.Context(), sess.UserID)
		if err != nil {
			h.logger.Error("failed to reselect conversation", zap.Error(err), zap.Int64("userID", sess.UserID))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		sess.SelectConversation(nextID)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) SelectModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req selectModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !llm.ValidModel(req.Model) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown model %q", req.Model))
		return
	}

	sess.SelectModel(req.Model)
	w.WriteHeader(http.StatusOK)
}

// GetMessages always reads through to the store; the history has no
// client-side cache to go stale.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	messages, err := h.db.ListMessages(r.Context(), sess.ConversationID())
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err), zap.Int64("conversationID", sess.ConversationID()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// HandleChat persists the user's message, then streams the assistant reply as
// server-sent events: one "chunk" event per fragment, a "done" event carrying
// the full reply once it has been persisted, or an "error" event. A failed
// completion leaves the user message in place without a paired reply.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	convID := sess.ConversationID()
	userMsg := &models.Message{
		ConvID:  convID,
		Role:    models.RoleUser,
		Content: req.Content,
	}
	if err := h.db.SaveMessage(r.Context(), userMsg); err != nil {
		h.logger.Error("failed to save user message", zap.Error(err), zap.Int64("conversationID", convID))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	response, err := h.llm.ChatStream(r.Context(), convID, sess.Model(), func(fragment string) error {
		writeSSE(w, flusher, "chunk", map[string]string{"text": fragment})
		return nil
	})
	if err != nil {
		h.logger.Error("failed to stream completion", zap.Error(err), zap.Int64("conversationID", convID))
		writeSSE(w, flusher, "error", map[string]string{"message": err.Error()})
		return
	}

	writeSSE(w, flusher, "done", map[string]any{
		"response":        response.Content,
		"conversation_id": response.ConvID,
	})
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, _ := json.Marshal(payload)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// HandleAnalyze runs the one-shot file analysis. Unsupported uploads are
// rejected with a warning before anything touches the store; the analysis
// result itself is never persisted.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	att, err := files.Detect(header.Filename, data)
	if errors.Is(err, files.ErrUnsupportedType) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to inspect upload", zap.Error(err), zap.String("file", header.Filename))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	prompt := r.FormValue("prompt")
	if prompt == "" {
		prompt = "Describe the contents of this file."
	}

	result, err := h.llm.AnalyzeFile(r.Context(), sess.Model(), att, prompt)
	if err != nil {
		h.logger.Error("failed to analyze file", zap.Error(err), zap.String("file", header.Filename))
		writeError(w, http.StatusBadGateway, "failed to analyze file")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"result": result})
}
