package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"crosspost/pkg/config"
	"crosspost/pkg/queue"
	"crosspost/pkg/store"
	"crosspost/pkg/tiktok"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The event stream is an operator surface on a trusted network.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventStream is what /admin/events needs from the monitor: attach an
// upgraded connection, detach it when the peer goes away.
type EventStream interface {
	Attach(id string, conn *websocket.Conn)
	Detach(id string)
}

// Server is the HTTP surface of the bridge: Telegram webhook ingress, the
// TikTok OAuth pair, and the admin endpoints.
type Server struct {
	cfg    *config.Settings
	store  *store.Store
	tasks  *queue.Tasks
	oauth  *tiktok.OAuth
	events EventStream

	httpServer *http.Server
}

func New(cfg *config.Settings, s *store.Store, tasks *queue.Tasks, oauth *tiktok.OAuth, events EventStream) *Server {
	srv := &Server{
		cfg:    cfg,
		store:  s,
		tasks:  tasks,
		oauth:  oauth,
		events: events,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/tg/webhook/{secret}", srv.handleTelegramWebhook)
	r.Get("/tiktok/auth/start", srv.handleAuthStart)
	r.Get("/tiktok/auth/callback", srv.handleAuthCallback)
	r.Get("/admin/tiktok/accounts", srv.handleListAccounts)
	r.Get("/admin/events", srv.handleEventStream)
	r.Get("/health", srv.handleHealth)

	srv.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	slog.Info("HTTP server listening", "addr", s.cfg.ListenAddr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for httptest-driven tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleTelegramWebhook is the push ingress. Anything past the secret check
// must receive 200, otherwise Telegram retries the update forever; malformed
// bodies and processing failures are logged and absorbed.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "secret") != s.cfg.TGWebhookSecret || s.cfg.TGWebhookSecret == "" {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"ok": false, "error": "forbidden"})
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		slog.Warn("webhook update body malformed", "error", err)
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
		return
	}

	if err := s.tasks.IngestUpdate(r.Context(), &update); err != nil {
		slog.Error("webhook update ingestion failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	accountLabel := r.URL.Query().Get("account_label")
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = s.cfg.PostingMode
	}

	authURL, err := s.oauth.BuildAuthorizationURL(r.Context(), accountLabel, mode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "code and state are required"})
		return
	}

	account, err := s.oauth.HandleCallback(r.Context(), code, state)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, tiktok.ErrValidation) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]interface{}{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "authorized",
		"account_label": account.AccountLabel,
		"posting_mode":  account.PostingMode,
		"scopes":        account.GrantedScopes,
	})
}

// handleListAccounts returns account status with credentials masked down to
// presence booleans.
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context(), nil)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}

	summaries := make([]map[string]interface{}, 0, len(accounts))
	for _, account := range accounts {
		summary := map[string]interface{}{
			"account_label": account.AccountLabel,
			"open_id":       account.OpenID,
			"posting_mode":  account.PostingMode,
			"scopes":        account.GrantedScopes,
			"token_present": account.AccessToken != "",
			"needs_reauth":  account.NeedsReauth,
		}
		if account.ExpiresAt != nil {
			summary["expires_at"] = account.ExpiresAt.UTC().Format(time.RFC3339)
		}
		summaries = append(summaries, summary)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": summaries})
}

// handleEventStream upgrades the request and hands the socket to the
// websocket monitor. The read loop only detects peer disconnect; all frames
// flow server to client.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("event stream upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	s.events.Attach(id, conn)

	go func() {
		defer s.events.Detach(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
