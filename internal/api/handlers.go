package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"palaver/internal/auth"
	"palaver/internal/content"
	"palaver/internal/filestore"
	"palaver/internal/hub"
	"palaver/internal/models"
	"palaver/internal/push"
	"palaver/internal/storage"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const maxUploadSize = 25 << 20

type API struct {
	auth     *auth.AuthService
	hub      *hub.Hub
	store    storage.MessageStore
	files    filestore.FileStore
	notifier *push.Notifier
	baseURL  string
}

func New(
	authService *auth.AuthService,
	h *hub.Hub,
	store storage.MessageStore,
	files filestore.FileStore,
	notifier *push.Notifier,
	baseURL string,
) *API {
	return &API{
		auth:     authService,
		hub:      h,
		store:    store,
		files:    files,
		notifier: notifier,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

func (a *API) identity(r *http.Request) (models.Identity, error) {
	return a.auth.GetIdentity(a.getToken(r))
}

// RequireAuth rejects requests without a live token.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := a.identity(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// RequireSameOrigin rejects state-changing requests whose Origin does not
// match the request host. Requests without an Origin header pass (CLI and
// same-origin form posts).
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	}
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest

	// Support both JSON and form bodies.
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	resp := a.auth.Login(req)
	if !resp.Success {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, resp)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    resp.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(resp.TokenExpiry, 0),
	})

	writeJSON(w, resp)
}

func (a *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := a.auth.Register(req.Username, req.Password); err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			http.Error(w, "Username already exists", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Log the fresh account in right away so the client gets a token.
	resp := a.auth.Login(req)
	writeJSON(w, resp)
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := a.getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

// MessagesHandler serves a room's history page: up to limit messages
// strictly older than before, oldest-first.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	room := hub.NormalizeRoom(r.URL.Query().Get("room"))
	before, limit, err := pageParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msgs, err := a.store.Page(storage.Filter{Room: room}, before, limit)
	if err != nil {
		log.Printf("failed to fetch messages for room %s: %v", room, err)
		http.Error(w, "Failed to fetch messages", http.StatusInternalServerError)
		return
	}

	writeJSON(w, renderBodies(msgs))
}

// PrivateMessagesHandler serves the private history between the caller
// and a peer, same cursor contract as room history.
func (a *API) PrivateMessagesHandler(w http.ResponseWriter, r *http.Request) {
	me, err := a.identity(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	peer := strings.TrimSpace(r.URL.Query().Get("peer"))
	if peer == "" {
		writeJSON(w, []models.Message{})
		return
	}

	before, limit, err := pageParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msgs, err := a.store.Page(storage.Filter{PrivatePair: [2]string{me.Username, peer}}, before, limit)
	if err != nil {
		log.Printf("failed to fetch private messages: %v", err)
		http.Error(w, "Failed to fetch private messages", http.StatusInternalServerError)
		return
	}

	writeJSON(w, renderBodies(msgs))
}

func (a *API) SearchHandler(w http.ResponseWriter, r *http.Request) {
	room := hub.NormalizeRoom(r.URL.Query().Get("room"))
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, []models.Message{})
		return
	}

	msgs, err := a.store.Search(room, query)
	if err != nil {
		log.Printf("search failed for room %s: %v", room, err)
		http.Error(w, "Failed to search messages", http.StatusInternalServerError)
		return
	}

	writeJSON(w, renderBodies(msgs))
}

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.hub.Roster())
}

func (a *API) RoomsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.hub.Rooms())
}

type uploadResponse struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// UploadHandler accepts one multipart file, stores it under a generated
// id and returns the attachment metadata tuple. The mimetype is sniffed
// from content and falls back to the client-declared one.
func (a *API) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	head := make([]byte, 261)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return
	}
	head = head[:n]

	mimeType := header.Header.Get("Content-Type")
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		mimeType = kind.MIME.Value
	}

	id := uuid.NewString()
	if err := a.files.Save(io.MultiReader(bytes.NewReader(head), file), id); err != nil {
		log.Printf("failed to save upload: %v", err)
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}

	writeJSON(w, uploadResponse{
		URL:  a.baseURL + "/api/uploads/" + id,
		Name: header.Filename,
		Size: header.Size,
		Type: mimeType,
	})
}

func (a *API) GetUploadHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	f, err := a.files.Get(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(w, f); err != nil {
		log.Printf("failed to serve upload %s: %v", id, err)
	}
}

// PushSubscribeHandler registers the caller's web push subscription.
func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	if a.notifier == nil {
		http.Error(w, "Push notifications are not configured", http.StatusServiceUnavailable)
		return
	}

	me, err := a.identity(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var sub webpush.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || sub.Endpoint == "" {
		http.Error(w, "Invalid subscription", http.StatusBadRequest)
		return
	}

	a.notifier.Subscribe(me.UserID, sub)
	writeJSON(w, models.APIResponse{Success: true})
}

func pageParams(r *http.Request) (time.Time, int, error) {
	var before time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return time.Time{}, 0, errors.New("invalid before timestamp")
		}
		before = parsed
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return time.Time{}, 0, errors.New("invalid limit")
		}
		limit = parsed
	}

	return before, storage.ClampLimit(limit), nil
}

func renderBodies(msgs []models.Message) []models.Message {
	if msgs == nil {
		return []models.Message{}
	}
	for i := range msgs {
		msgs[i].HTML = content.RenderMarkdown(msgs[i].Body)
	}
	return msgs
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
