package app

import (
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roman-kulish/radarscope/internal/scope"
	"github.com/roman-kulish/radarscope/internal/telemetry"
)

const requestTimeout = 15 * time.Second

// PanelService is the telemetry panel as seen by the HTTP surface.
type PanelService interface {
	telemetry.Provider
	Log() []telemetry.LogEntry
	Command(name string) error
}

// WithServerLogger sets the logger for the server
func WithServerLogger(logger *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "server"))
	}
}

// WithServerPalette sets the colors of the control page
func WithServerPalette(p scope.Palette) func(*Server) {
	return func(s *Server) {
		s.palette = p
	}
}

// WithJPEGQuality sets the quality of JPEG frames and of the stream
func WithJPEGQuality(q int) func(*Server) {
	return func(s *Server) {
		s.jpegQuality = q
	}
}

// Server exposes the rendered scope and the telemetry panel over HTTP.
type Server struct {
	panel  PanelService
	frames *scope.FrameBuffer

	palette     scope.Palette
	jpegQuality int

	logger *slog.Logger
}

// NewServer creates a new Server
func NewServer(panel PanelService, frames *scope.FrameBuffer, options ...func(*Server)) *Server {
	s := Server{
		panel:       panel,
		frames:      frames,
		palette:     scope.DefaultPalette,
		jpegQuality: defaultJPEGQuality,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Handler returns the router serving every route.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the routes on r. The stream route is kept out of the
// request timeout since it lives as long as the client watches.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/stream", s.stream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/", s.home)
		r.Get("/frame.png", s.frame(encodePNG, "image/png"))
		r.Get("/frame.jpg", s.frame(s.encodeJPEG, "image/jpeg"))
		r.Get("/api/status", s.status)
		r.Get("/api/log", s.log)
		r.Post("/api/commands/{command}", s.command)
	})
}

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	render(w, r, controlPage(s.panel.Get(), s.panel.Log(), s.palette))
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.panel.Get())
}

func (s *Server) log(w http.ResponseWriter, _ *http.Request) {
	entries := s.panel.Log()
	if entries == nil {
		entries = []telemetry.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) command(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "command")

	err := s.panel.Command(name)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)

	case errors.Is(err, telemetry.ErrUnknownCommand):
		writeError(w, http.StatusNotFound, err)

	case errors.Is(err, telemetry.ErrDisconnected):
		writeError(w, http.StatusConflict, err)

	default:
		s.logger.Error("command failed", slog.String("command", name), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) frame(encode func(io.Writer, image.Image) error, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		img, _ := s.frames.Frame()
		if img == nil {
			writeError(w, http.StatusServiceUnavailable, errors.New("no frame rendered yet"))
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-store")
		if err := encode(w, img); err != nil {
			s.logger.Warn("encoding frame", slog.String("error", err.Error()))
		}
	}
}

// stream pushes every published frame as one part of a multipart JPEG
// stream. Frames published while a part is being written are skipped.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	updates, unsubscribe := s.frames.Subscribe()
	defer unsubscribe()

	rc := http.NewResponseController(w)
	mw := multipart.NewWriter(w)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	header := textproto.MIMEHeader{"Content-Type": {"image/jpeg"}}

	for {
		select {
		case <-r.Context().Done():
			return

		case _, ok := <-updates:
			if !ok {
				return
			}
			img, _ := s.frames.Frame()
			if img == nil {
				continue
			}

			part, err := mw.CreatePart(header)
			if err != nil {
				return
			}
			if err = s.encodeJPEG(part, img); err != nil {
				return
			}
			if err = rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *Server) encodeJPEG(w io.Writer, img image.Image) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: s.jpegQuality})
}

func encodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

func render(w http.ResponseWriter, r *http.Request, component templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := component.Render(r.Context(), w); err != nil {
		http.Error(w, "failed to render", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
