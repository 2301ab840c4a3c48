package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"termchat/internal/chat"
	"termchat/internal/user"
)

const (
	minUsername = 3
	maxUsername = 32
	minPassword = 8
)

type Handler struct {
	store  Store
	issuer *Issuer
	hub    *Hub
	cost   int
	log    *zap.Logger
}

func NewHandler(store Store, issuer *Issuer, hub *Hub, bcryptCost int, logger *zap.Logger) *Handler {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Handler{store: store, issuer: issuer, hub: hub, cost: bcryptCost, log: logger.Named("api")}
}

// ---------------------------------------------
// 🔐 Auth
// ---------------------------------------------

// Login takes form fields, like an OAuth2 password grant.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed form")
		return
	}
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")

	a, err := h.store.UserByUsername(r.Context(), username)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			h.log.Error("login lookup", zap.Error(err))
		}
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}
	h.issue(w, http.StatusOK, a.User())
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req user.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	if problems := validateRegistration(req); len(problems) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": problems})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.cost)
	if err != nil {
		h.log.Error("hash password", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "registration failed")
		return
	}
	a, err := h.store.CreateUser(r.Context(), req.Username, string(hash))
	if errors.Is(err, ErrUsernameTaken) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"errors": map[string]string{"username": "Username is already taken"},
		})
		return
	}
	if err != nil {
		h.log.Error("create user", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "registration failed")
		return
	}
	h.log.Info("user registered", zap.String("user_id", a.ID), zap.String("username", a.Username))
	h.issue(w, http.StatusCreated, a.User())
}

func validateRegistration(req user.RegisterRequest) map[string]string {
	problems := map[string]string{}
	if n := utf8.RuneCountInString(req.Username); n < minUsername || n > maxUsername {
		problems["username"] = "Username must be between 3 and 32 characters"
	}
	if utf8.RuneCountInString(req.Password) < minPassword {
		problems["password"] = "Password must be at least 8 characters"
	}
	return problems
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req user.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}
	u, err := h.issuer.ValidateRefresh(req.RefreshToken)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	h.issue(w, http.StatusOK, u)
}

func (h *Handler) issue(w http.ResponseWriter, status int, u user.User) {
	res, err := h.issuer.Issue(u)
	if err != nil {
		h.log.Error("issue tokens", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "could not issue tokens")
		return
	}
	writeJSON(w, status, res)
}

// ---------------------------------------------
// 👥 Users
// ---------------------------------------------

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.SearchUsers(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user.ListResponse{Users: users})
}

func (h *Handler) BatchQueryUsers(w http.ResponseWriter, r *http.Request) {
	var req user.BatchQuery
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}
	users, err := h.store.UsersByIDs(r.Context(), req.IDs)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user.ListResponse{Users: users})
}

// ---------------------------------------------
// 💬 Chats
// ---------------------------------------------

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	me, _ := CurrentUser(r.Context())
	chats, err := h.store.ChatsFor(r.Context(), me.ID, r.URL.Query().Get("name"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat.ListResponse{Chats: chats})
}

func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	me, _ := CurrentUser(r.Context())
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	record, err := h.store.Chat(r.Context(), id, me.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// CreateChat finds or creates a chat. A direct chat that already exists is
// returned as is; first_message, when set, is stored and announced.
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	me, _ := CurrentUser(r.Context())
	var req chat.NewChatRecord
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}

	members := withMember(req.MemberIDs, me.ID)
	if req.Name == nil && len(members) != 2 {
		writeDetail(w, http.StatusBadRequest, "an unnamed chat needs exactly one other member")
		return
	}

	ctx := r.Context()
	id, found := 0, false
	if req.Name == nil {
		var err error
		id, found, err = h.store.DirectChat(ctx, members[0], members[1])
		if err != nil {
			h.fail(w, err)
			return
		}
	}
	if !found {
		var err error
		if id, err = h.store.CreateChat(ctx, req.Name, members); err != nil {
			h.fail(w, err)
			return
		}
		h.log.Info("chat created", zap.Int("chat_id", id), zap.Strings("members", members))
	}

	if req.FirstMessage != "" {
		msg, err := h.store.SaveMessage(ctx, id, me.ID, req.FirstMessage)
		if err != nil {
			h.fail(w, err)
			return
		}
		if err := h.hub.Announce(ctx, msg, members); err != nil {
			h.log.Error("announce first message", zap.Int("chat_id", id), zap.Error(err))
		}
	}

	record, err := h.store.Chat(ctx, id, me.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	me, _ := CurrentUser(r.Context())
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	if err := h.store.MarkRead(r.Context(), id, me.ID); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeWs upgrades an authenticated request and hands the connection to the hub.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	me, ok := CurrentUser(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	h.hub.serve(conn, me)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Not found")
	case errors.Is(err, ErrNotMember):
		writeDetail(w, http.StatusForbidden, "Not a member of this chat")
	default:
		h.log.Error("request failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

func chatID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "chat id must be an integer")
		return 0, false
	}
	return id, true
}

// withMember returns ids with me added, without duplicates, me first.
func withMember(ids []string, me string) []string {
	out := []string{me}
	seen := map[string]bool{me: true}
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
