package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"trivia-host/internal/app"
)

const ownerHeader = "X-Owner-ID"

// Handler exposes the host service over REST and websockets.
type Handler struct {
	service      *app.HostService
	observerBase string
	upgrader     websocket.Upgrader
}

// NewHandler builds a Handler. observerBase is the public URL encoded in the
// observer QR code; when empty it is derived from the request.
func NewHandler(service *app.HostService, observerBase string) *Handler {
	return &Handler{
		service:      service,
		observerBase: observerBase,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes returns the full router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", ownerHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/ws", h.ServeHost)
	r.Get("/observe", h.ServeObserver)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Use(requireOwner)

		r.Route("/questions", func(r chi.Router) {
			r.Get("/", h.listQuestions)
			r.Post("/", h.createQuestion)
			r.Put("/{id}", h.updateQuestion)
			r.Delete("/{id}", h.deleteQuestion)
		})

		r.Post("/sessions", h.startSession)
		r.Route("/sessions/current", func(r chi.Router) {
			r.Get("/", h.currentSession)
			r.Delete("/", h.abandonSession)
			r.Post("/scores", h.submitScores)
			r.Get("/persistence", h.persistence)
			r.Get("/qr", h.observerQR)
			r.Post("/{action}", h.sessionAction)
		})

		r.Get("/history", h.listHistory)
		r.Delete("/history/{id}", h.deleteHistory)
		r.Get("/history/{id}/stats", h.historyStats)
		r.Get("/teams", h.listTeamArchives)
	})
	return r
}

// ownerID identifies the host. Authentication happens upstream.
func ownerID(r *http.Request) string {
	if id := r.Header.Get(ownerHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("owner")
}

func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ownerID(r) == "" {
			http.Error(w, "missing owner", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}
