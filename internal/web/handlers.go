package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"echoweaver/server/internal/config"
	"echoweaver/server/internal/interfaces"
	webui "echoweaver/server/web"
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// DreamSession is the slice of the controller the handlers consume.
type DreamSession interface {
	Snapshot() interfaces.DreamSnapshot
	SubmitFragment(ctx context.Context, fragment string)
}

// ImagePaths resolves stored illustration names to files on disk.
type ImagePaths interface {
	Path(name string) (string, error)
}

type Handlers struct {
	config *config.Config
	dream  DreamSession
	images ImagePaths
	hub    *SnapshotHub
}

func NewHandlers(cfg *config.Config, dream DreamSession, images ImagePaths, hub *SnapshotHub) *Handlers {
	return &Handlers{
		config: cfg,
		dream:  dream,
		images: images,
		hub:    hub,
	}
}

// NewRouter wires all routes for the dream server
func NewRouter(cfg *config.Config, dream DreamSession, images ImagePaths, hub *SnapshotHub) *chi.Mux {
	r := chi.NewRouter()

	// Request logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("REQUEST: %s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	})

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	handlers := NewHandlers(cfg, dream, images, hub)

	r.Get("/health", handlers.HealthCheck)
	r.Get("/images/{name}", handlers.ServeImage)

	r.Route("/api/v1/dream", func(r chi.Router) {
		r.Get("/state", handlers.GetState)
		r.Post("/fragment", handlers.SubmitFragment)
		r.Get("/stream", handlers.StreamSnapshots)
	})

	// Embedded browser view
	r.NotFound(webui.ViewHandler().ServeHTTP)

	return r
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "echoweaver",
	})
}

// GetState returns the current session snapshot
func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(h.dream.Snapshot())
}

// SubmitFragmentRequest represents a fragment submission
type SubmitFragmentRequest struct {
	Fragment string `json:"fragment"`
}

// SubmitFragment runs one weave chain and responds with the settled
// snapshot. Precondition violations (blocked, busy, blank fragment) are
// silent no-ops inside the controller, so the response is simply the
// unchanged state.
func (h *Handlers) SubmitFragment(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req SubmitFragmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "Invalid request body"})
		return
	}

	// Detached from the request context: once a chain starts it runs to
	// completion even if the browser gives up waiting.
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Server.GenerateTimeout)
	defer cancel()

	h.dream.SubmitFragment(ctx, req.Fragment)

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(h.dream.Snapshot())
}

// ServeImage serves a stored illustration
func (h *Handlers) ServeImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	path, err := h.images.Path(name)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "Image not found"})
		return
	}

	http.ServeFile(w, r, path)
}

// StreamSnapshots upgrades to a WebSocket and feeds the view one
// snapshot per controller change, starting with the current state.
func (h *Handlers) StreamSnapshots(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		ID:   generateClientID(),
		Conn: conn,
		Send: make(chan []byte, 16),
		Hub:  h.hub,
	}

	h.hub.register <- client

	// Seed the view with the current state so it renders immediately
	snapshot, err := json.Marshal(map[string]interface{}{
		"type": "snapshot",
		"data": h.dream.Snapshot(),
		"time": time.Now().Unix(),
	})
	if err == nil {
		select {
		case client.Send <- snapshot:
		default:
		}
	}

	go client.readPump()
}

// generateClientID generates a unique client ID
func generateClientID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))[:16]
	}
	return hex.EncodeToString(b)
}
