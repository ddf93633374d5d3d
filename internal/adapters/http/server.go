// Package http exposes the engine to Twilio webhooks and admin tooling.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/pitch"
	"github.com/aretw0/pitch/internal/logging"
	"github.com/aretw0/pitch/internal/metrics"
	"github.com/aretw0/pitch/internal/presentation/graph"
	"github.com/aretw0/pitch/internal/sms"
	"github.com/aretw0/pitch/pkg/domain"
	pgraph "github.com/aretw0/pitch/pkg/graph"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Engine is the part of pitch.Engine the server drives.
type Engine interface {
	Run(ctx context.Context, identity, text string) (domain.Session, error)
	Reset(ctx context.Context, identity string) error
	History(ctx context.Context, identity string) (*domain.History, error)
	Users(ctx context.Context) ([]domain.User, error)
	Graph() *pgraph.Graph
	Script() *domain.Script
}

var _ Engine = (*pitch.Engine)(nil)

// Server holds the handlers' dependencies.
type Server struct {
	Engine  Engine
	Streams *StreamManager

	validator *sms.Validator
	publicURL string
	region    string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithSignatureValidation rejects webhook calls whose X-Twilio-Signature does
// not match. publicURL is the scheme and host Twilio is configured to call.
func WithSignatureValidation(v *sms.Validator, publicURL string) Option {
	return func(s *Server) {
		s.validator = v
		s.publicURL = strings.TrimRight(publicURL, "/")
	}
}

// WithRegion sets the default region for parsing sender numbers.
func WithRegion(region string) Option {
	return func(s *Server) { s.region = region }
}

// WithMetrics times runs and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	return NewServer(engine, opts...).Routes()
}

// NewServer creates a server without mounting routes.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		Engine:  engine,
		Streams: NewStreamManager(),
		region:  sms.DefaultRegion,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams.logger = s.logger
	return s
}

// Routes mounts every endpoint on a chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/", s.Empty)
	r.Post("/twilio", s.Twilio)
	r.Post("/message", s.Message)
	r.Post("/reset", s.Reset)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/users", s.ListUsers)
		r.Get("/users/{identity}/history", s.GetHistory)
	})
	r.Get("/events", s.SubscribeEvents)

	r.Get("/validate", s.Validate)
	r.Get("/graph", s.GetGraph)
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Empty answers with an empty TwiML document, so a misrouted webhook stays silent.
func (s *Server) Empty(w http.ResponseWriter, r *http.Request) {
	s.writeTwiML(w, "")
}

// Twilio handles the inbound SMS webhook (form fields From and Body).
func (s *Server) Twilio(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form body", http.StatusBadRequest)
		return
	}
	if s.validator != nil && !s.validator.ValidateRequest(r, s.publicURL+r.URL.RequestURI()) {
		s.logger.Warn("Rejected webhook with bad signature", "remote", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	identity, err := sms.Normalize(r.PostForm.Get("From"), s.region)
	if err != nil {
		s.logger.Warn("Twilio: bad sender number", "from", r.PostForm.Get("From"), "err", err)
		http.Error(w, "Invalid From number", http.StatusBadRequest)
		return
	}
	text, err := sms.Sanitize(r.PostForm.Get("Body"))
	if err != nil {
		s.logger.Warn("Twilio: input rejected", "identity", identity, "err", err)
		http.Error(w, fmt.Sprintf("Invalid input: %v", err), http.StatusBadRequest)
		return
	}

	session, ok := s.run(w, r, "twilio", identity, text)
	if !ok {
		return
	}
	s.writeTwiML(w, session.Reply())
}

type messageRequest struct {
	PhoneNumber string `json:"phone_number"`
	Content     string `json:"content"`
}

// Message dispatches a message for an identity without going through Twilio
// and returns the produced session as JSON.
func (s *Server) Message(w http.ResponseWriter, r *http.Request) {
	req, err := decodeMessage(r)
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PhoneNumber == "" {
		http.Error(w, "phone_number is required", http.StatusBadRequest)
		return
	}
	text, err := sms.Sanitize(req.Content)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid input: %v", err), http.StatusBadRequest)
		return
	}

	session, ok := s.run(w, r, "message", req.PhoneNumber, text)
	if !ok {
		return
	}
	writeJSON(w, s.logger, session)
}

// Reset deletes a user, their visits and their messages.
func (s *Server) Reset(w http.ResponseWriter, r *http.Request) {
	req, err := decodeMessage(r)
	if err != nil || req.PhoneNumber == "" {
		http.Error(w, "phone_number is required", http.StatusBadRequest)
		return
	}
	if err := s.Engine.Reset(r.Context(), req.PhoneNumber); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			http.Error(w, "Unknown user", http.StatusNotFound)
			return
		}
		s.logger.Error("Reset failed", "identity", req.PhoneNumber, "err", err)
		http.Error(w, "Reset failed", http.StatusInternalServerError)
		return
	}
	s.logger.Info("User reset", "identity", req.PhoneNumber)
	w.WriteHeader(http.StatusNoContent)
}

// ListUsers handles GET /admin/users.
func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Engine.Users(r.Context())
	if err != nil {
		s.logger.Error("List users failed", "err", err)
		http.Error(w, "List users failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.logger, users)
}

// GetHistory handles GET /admin/users/{identity}/history.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	h, err := s.Engine.History(r.Context(), identity)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			http.Error(w, "Unknown user", http.StatusNotFound)
			return
		}
		s.logger.Error("History failed", "identity", identity, "err", err)
		http.Error(w, "History failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.logger, h)
}

type nodeView struct {
	Name  string   `json:"name"`
	Kind  string   `json:"kind"`
	Edges []string `json:"edges,omitempty"`
}

type validateView struct {
	Start     string            `json:"start"`
	Locations []domain.Location `json:"locations"`
	Nodes     []nodeView        `json:"nodes"`
}

// Validate dumps the loaded script and the compiled nodes.
func (s *Server) Validate(w http.ResponseWriter, r *http.Request) {
	g := s.Engine.Graph()
	view := validateView{
		Start:     g.StartName(),
		Locations: s.Engine.Script().Locations,
	}
	for _, n := range g.Nodes() {
		view.Nodes = append(view.Nodes, nodeView{Name: n.Name(), Kind: string(n.Kind()), Edges: n.Edges()})
	}
	writeJSON(w, s.logger, view)
}

// GetGraph renders the graph as Mermaid. With ?identity= the user's path is highlighted.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	var overlay *graph.GraphOverlay
	if identity := r.URL.Query().Get("identity"); identity != "" {
		h, err := s.Engine.History(r.Context(), identity)
		if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Error("Graph overlay failed", "identity", identity, "err", err)
			http.Error(w, "History failed", http.StatusInternalServerError)
			return
		}
		overlay = graph.OverlayFromHistory(h)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, graph.GenerateMermaid(s.Engine.Graph(), overlay))
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, map[string]string{
		"app":     "pitch-http",
		"version": strings.TrimSpace(pitch.Version),
	})
}

// SubscribeEvents streams the sessions produced for ?identity= as SSE.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		http.Error(w, "identity is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(identity)
	defer cancel()
	s.logger.Info("SSE: Subscribing to user", "identity", identity)

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE Client Disconnected", "identity", identity)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// run dispatches and broadcasts. It writes the error response itself.
func (s *Server) run(w http.ResponseWriter, r *http.Request, source, identity, text string) (domain.Session, bool) {
	started := time.Now()
	s.logger.Info("Dispatching", "source", source, "identity", identity, "text_len", len(text))
	s.logger.Debug("Inbound text", "identity", identity, "text", text)
	session, err := s.Engine.Run(r.Context(), identity, text)
	if s.metrics != nil {
		s.metrics.ObserveRun(source, started)
	}
	if err != nil {
		s.logger.Error("Run failed", "identity", identity, "err", err)
		http.Error(w, "Run failed", http.StatusInternalServerError)
		return session, false
	}
	if data, err := json.Marshal(session); err == nil {
		s.Streams.Broadcast(identity, string(data))
	}
	return session, true
}

func (s *Server) writeTwiML(w http.ResponseWriter, body string) {
	doc, err := sms.Reply(body)
	if err != nil {
		s.logger.Error("TwiML render failed", "err", err)
		http.Error(w, "Reply failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, doc)
}

// decodeMessage reads phone_number and content from JSON or form bodies.
func decodeMessage(r *http.Request) (messageRequest, error) {
	var req messageRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&req)
		req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
		return req, err
	}
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.PhoneNumber = strings.TrimSpace(r.PostForm.Get("phone_number"))
	req.Content = r.PostForm.Get("content")
	return req, nil
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Response encode failed", "err", err)
	}
}
