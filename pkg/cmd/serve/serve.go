package serve

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/KrishKoria/HarmonAI/pkg/auth"
	"github.com/KrishKoria/HarmonAI/pkg/billing"
	"github.com/KrishKoria/HarmonAI/pkg/event"
	"github.com/KrishKoria/HarmonAI/pkg/filestore"
	"github.com/KrishKoria/HarmonAI/pkg/song"
	"github.com/KrishKoria/HarmonAI/pkg/storage"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string
	FSType string
	FSConn string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Addr          string
	WebhookSecret string

	DispatchInterval time.Duration
}

const sessionCookie = "harmonai_session"

// Serve starts the API server and the outbox dispatcher.
func Serve(ctx context.Context, cfg *Config) error {
	log.Println("serve: server started")
	defer log.Println("serve: server ended")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("serve: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("serve: couldn't start orm store: %w", err)
	}

	fs, err := filestore.New(cfg.FSType, cfg.FSConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("serve: couldn't create file storage: %w", err)
	}

	broker := event.NewRedisBroker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Debug)
	if err := broker.Start(ctx); err != nil {
		return fmt.Errorf("serve: couldn't start event broker: %w", err)
	}
	defer func() {
		if err := broker.Stop(); err != nil {
			log.Printf("serve: couldn't stop event broker: %v\n", err)
		}
	}()

	gate := auth.New(store)
	songs := song.New(store, fs)
	ledger := billing.New(store, cfg.Debug)

	// Drain the outbox alongside the server.
	dispatcher := event.NewDispatcher(store, broker, cfg.DispatchInterval, cfg.Debug)
	go func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("serve: %v\n", err)
		}
	}()

	h := &handler{
		gate:          gate,
		songs:         songs,
		ledger:        ledger,
		store:         store,
		webhookSecret: cfg.WebhookSecret,
	}

	// Create router
	mux := chi.NewRouter()

	// Add middleware
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.Timeout(60 * time.Second))
	if cfg.Debug {
		mux.Use(middleware.Logger)
	}

	mux.Post("/api/auth/sign-up", h.signUp)
	mux.Post("/api/auth/sign-in", h.signIn)
	mux.Post("/api/auth/sign-out", h.signOut)
	mux.Post("/api/webhooks/payment", h.paymentWebhook)

	// Authenticated routes
	mux.Group(func(r chi.Router) {
		r.Use(h.requireSession)
		r.Get("/api/me", h.me)
		r.Get("/api/songs", h.listSongs)
		r.Get("/api/songs/mine", h.listMine)
		r.Post("/api/songs", h.generate)
		r.Post("/api/songs/{id}/play", h.play)
		r.Put("/api/songs/{id}/publish", h.setPublished(true))
		r.Put("/api/songs/{id}/unpublish", h.setPublished(false))
		r.Put("/api/songs/{id}/like", h.like)
	})

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	go func() {
		log.Printf("Starting server on http://%s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v\n", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("serve: couldn't shutdown server: %w", err)
	}
	return nil
}

type handler struct {
	gate          *auth.Service
	songs         *song.Service
	ledger        *billing.Ledger
	store         *storage.Store
	webhookSecret string
}

type ctxKey int

const sessionKey ctxKey = 0

// requireSession resolves the caller's session before any handler side
// effect and rejects unauthenticated calls with a sign-in redirect hint.
func (h *handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := h.gate.Resolve(r.Context(), sessionToken(r))
		if errors.Is(err, auth.ErrUnauthenticated) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"redirect": "/auth/sign-in"})
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("couldn't resolve session: %v", err), http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, session)))
	})
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimPrefix(v, "Bearer ")
	}
	return ""
}

func callerSession(r *http.Request) *auth.Session {
	session, _ := r.Context().Value(sessionKey).(*auth.Session)
	return session
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("couldn't encode response:", err)
	}
}

func setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (h *handler) signUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("couldn't decode request: %v", err), http.StatusBadRequest)
		return
	}
	session, err := h.gate.SignUp(r.Context(), req.Email, req.Name, req.Password)
	if errors.Is(err, auth.ErrEmailTaken) {
		http.Error(w, "email already registered", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("couldn't sign up: %v", err), http.StatusInternalServerError)
		return
	}
	setSessionCookie(w, session.Token, time.Now().Add(7*24*time.Hour))
	writeJSON(w, http.StatusCreated, map[string]string{"token": session.Token})
}

func (h *handler) signIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("couldn't decode request: %v", err), http.StatusBadRequest)
		return
	}
	session, err := h.gate.SignIn(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrUnauthenticated) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("couldn't sign in: %v", err), http.StatusInternalServerError)
		return
	}
	setSessionCookie(w, session.Token, time.Now().Add(7*24*time.Hour))
	writeJSON(w, http.StatusOK, map[string]string{"token": session.Token})
}

func (h *handler) signOut(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token != "" {
		if err := h.gate.SignOut(r.Context(), token); err != nil {
			http.Error(w, fmt.Sprintf("couldn't sign out: %v", err), http.StatusInternalServerError)
			return
		}
	}
	setSessionCookie(w, "", time.Unix(0, 0))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	session := callerSession(r)
	user, err := h.store.GetUser(r.Context(), session.UserID)
	if err != nil {
		http.Error(w, fmt.Sprintf("couldn't get user: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      user.ID,
		"email":   user.Email,
		"name":    user.Name,
		"credits": user.Credits,
	})
}

func pageParams(r *http.Request) (int, int) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil {
		page = 1
	}
	size, err := strconv.Atoi(r.URL.Query().Get("size"))
	if err != nil {
		size = 100
	}
	return page, size
}

func (h *handler) listSongs(w http.ResponseWriter, r *http.Request) {
	session := callerSession(r)
	page, size := pageParams(r)
	infos, err := h.songs.ListPublished(r.Context(), page, size, session.UserID)
	if err != nil {
		log.Println("couldn't list songs:", err)
		http.Error(w, fmt.Sprintf("couldn't list songs: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *handler) listMine(w http.ResponseWriter, r *http.Request) {
	session := callerSession(r)
	page, size := pageParams(r)
	infos, err := h.songs.ListMine(r.Context(), page, size, session.UserID)
	if err != nil {
		log.Println("couldn't list songs:", err)
		http.Error(w, fmt.Sprintf("couldn't list songs: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

type generateRequest struct {
	Prompt            string `json:"prompt"`
	Lyrics            string `json:"lyrics"`
	DescribedLyrics   string `json:"describedLyrics"`
	FullDescribedSong string `json:"fullDescribedSong"`
	Instrumental      bool   `json:"instrumental"`
}

func (h *handler) generate(w http.ResponseWriter, r *http.Request) {
	session := callerSession(r)
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("couldn't decode request: %v", err), http.StatusBadRequest)
		return
	}
	if err := h.songs.GenerateNewSong(r.Context(), song.Request{
		Prompt:            req.Prompt,
		Lyrics:            req.Lyrics,
		DescribedLyrics:   req.DescribedLyrics,
		FullDescribedSong: req.FullDescribedSong,
		Instrumental:      req.Instrumental,
	}, session.UserID); err != nil {
		log.Println("couldn't queue songs:", err)
		http.Error(w, fmt.Sprintf("couldn't queue songs: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) play(w http.ResponseWriter, r *http.Request) {
	session := callerSession(r)
	id := chi.URLParam(r, "id")
	u, err := h.songs.PlaybackURL(r.Context(), id, session.UserID)
	if errors.Is(err, song.ErrNotFound) {
		http.Error(w, "song not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Println("couldn't get playback url:", err)
		http.Error(w, fmt.Sprintf("couldn't get playback url: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (h *handler) setPublished(published bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := callerSession(r)
		id := chi.URLParam(r, "id")
		err := h.songs.SetPublished(r.Context(), id, session.UserID, published)
		if errors.Is(err, song.ErrNotFound) {
			http.Error(w, "song not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("couldn't update song: %v", err), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handler) like(w http.ResponseWriter, r *http.Request) {
	session := callerSession(r)
	id := chi.URLParam(r, "id")
	liked, err := h.songs.ToggleLike(r.Context(), id, session.UserID)
	if errors.Is(err, song.ErrNotFound) {
		http.Error(w, "song not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("couldn't toggle like: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"liked": liked})
}

type paymentWebhookRequest struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ProductID string `json:"productId"`
		Customer  struct {
			ExternalID string `json:"externalId"`
		} `json:"customer"`
	} `json:"data"`
}

func (h *handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret != "" {
		got := r.Header.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			http.Error(w, "invalid webhook secret", http.StatusUnauthorized)
			return
		}
	}
	var req paymentWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("couldn't decode payload: %v", err), http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "payload missing event id", http.StatusBadRequest)
		return
	}
	err := h.ledger.ApplyPayment(r.Context(), req.ID, req.Data.Customer.ExternalID, req.Data.ProductID)
	if errors.Is(err, billing.ErrMissingCustomer) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Println("couldn't apply payment:", err)
		http.Error(w, fmt.Sprintf("couldn't apply payment: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
