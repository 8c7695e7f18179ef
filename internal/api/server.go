package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/config"
	"github.com/shastasprojector/projector/internal/display"
	"github.com/shastasprojector/projector/internal/logger"
	"github.com/shastasprojector/projector/internal/output"
	"github.com/shastasprojector/projector/internal/overlay"
	"github.com/shastasprojector/projector/internal/window"
)

// Version is reported by the health endpoint.
const Version = "0.2.0"

const (
	defaultPreviewWidth  = 320
	defaultPreviewHeight = 240
)

// Options wires the server to the rest of the application. Windows and
// Config may be nil; their endpoints then answer 501.
type Options struct {
	Overlays    *overlay.Manager
	Windows     *window.Manager
	Platform    capture.Platform
	Streams     *output.Streams
	Hub         *Hub
	Config      *config.Manager
	JPEGQuality int
}

// Server represents the HTTP API server
type Server struct {
	router     *mux.Router
	opts       Options
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Streams == nil {
		opts.Streams = output.NewStreams(output.Config{FPS: 20, Quality: opts.JPEGQuality})
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Streams)
	}
	s := &Server{
		router: mux.NewRouter(),
		opts:   opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Overlay control is local-only
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Window picker
	api.HandleFunc("/windows", s.handleListWindows).Methods("GET")
	api.HandleFunc("/windows/focused", s.handleFocusedWindow).Methods("GET")
	api.HandleFunc("/windows/{id:[0-9]+}/preview", s.handleWindowPreview).Methods("GET")

	// Overlays
	api.HandleFunc("/overlays", s.handleListOverlays).Methods("GET")
	api.HandleFunc("/overlays", s.handleCreateOverlay).Methods("POST")
	api.HandleFunc("/overlays/{id}", s.handleGetOverlay).Methods("GET")
	api.HandleFunc("/overlays/{id}", s.handleDeleteOverlay).Methods("DELETE")
	api.HandleFunc("/overlays/{id}/target", s.handleSetTarget).Methods("PUT")
	api.HandleFunc("/overlays/{id}/target/full", s.handleFullTargetRect).Methods("GET")
	api.HandleFunc("/overlays/{id}/crop", s.handleCropRect).Methods("GET")
	api.HandleFunc("/overlays/{id}/viewport", s.handleSetViewport).Methods("PUT")
	api.HandleFunc("/overlays/{id}/zoom", s.handleSetZoom).Methods("PUT")
	api.HandleFunc("/overlays/{id}/pan", s.handlePan).Methods("POST")
	api.HandleFunc("/overlays/{id}/fit", s.handleFit).Methods("POST")
	api.HandleFunc("/overlays/{id}/bounds", s.handleSetBounds).Methods("PUT")
	api.HandleFunc("/overlays/{id}/show", s.handleShow).Methods("POST")
	api.HandleFunc("/overlays/{id}/hide", s.handleHide).Methods("POST")
	api.HandleFunc("/overlays/{id}/snapshot", s.handleFreeze).Methods("POST")
	api.HandleFunc("/overlays/{id}/stream", s.handleStream).Methods("GET")
	api.HandleFunc("/overlays/{id}/frame.jpg", s.handleFrame).Methods("GET")

	// State events
	api.HandleFunc("/events", s.handleEvents)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.PathPrefix("/").HandlerFunc(s.handleIndex)
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.WithComponent("api").Info().Str("addr", "http://localhost"+addr).Msg("Starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Response write failed")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// captureStatus maps capture errors onto HTTP status codes.
func captureStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrTargetUnresolvable):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrTargetMinimized), errors.Is(err, overlay.ErrNotWindowTarget), errors.Is(err, overlay.ErrStopped):
		return http.StatusConflict
	case errors.Is(err, capture.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) projector(w http.ResponseWriter, r *http.Request) (overlay.Projector, bool) {
	id := mux.Vars(r)["id"]
	p, ok := s.opts.Overlays.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("overlay %s not found", id))
		return nil, false
	}
	return p, true
}

func (s *Server) captureOverlay(w http.ResponseWriter, r *http.Request) (*overlay.CaptureOverlay, bool) {
	p, ok := s.projector(w, r)
	if !ok {
		return nil, false
	}
	c, ok := p.(*overlay.CaptureOverlay)
	if !ok {
		writeError(w, http.StatusConflict, fmt.Errorf("overlay %s is a %s overlay", p.ID(), p.Kind()))
		return nil, false
	}
	return c, true
}

// Window picker

func (s *Server) handleListWindows(w http.ResponseWriter, r *http.Request) {
	if s.opts.Windows == nil {
		writeError(w, http.StatusNotImplemented, window.ErrUnsupported)
		return
	}
	if r.URL.Query().Get("refresh") == "true" {
		s.opts.Windows.Invalidate()
	}
	windows, err := s.opts.Windows.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, windows)
}

func (s *Server) handleFocusedWindow(w http.ResponseWriter, r *http.Request) {
	if s.opts.Windows == nil {
		writeError(w, http.StatusNotImplemented, window.ErrUnsupported)
		return
	}
	focused, err := s.opts.Windows.Focused()
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, focused)
}

func (s *Server) handleWindowPreview(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	width := queryInt(r, "w", defaultPreviewWidth)
	height := queryInt(r, "h", defaultPreviewHeight)

	img, err := window.Preview(s.opts.Platform, capture.WindowID(id), width, height)
	if err != nil {
		writeError(w, captureStatus(err), err)
		return
	}
	data, err := output.EncodeJPEG(img, s.opts.JPEGQuality)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

// Overlays

type createOverlayRequest struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Target *capture.Target `json:"target"`
	Width  int             `json:"width"`
	Height int             `json:"height"`
	Zoom   float64         `json:"zoom"`
	Bounds capture.Rect    `json:"bounds"`
	Hidden bool            `json:"hidden"`
}

func (s *Server) handleListOverlays(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Overlays.Snapshots())
}

func (s *Server) handleCreateOverlay(w http.ResponseWriter, r *http.Request) {
	var req createOverlayRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Target != nil {
		if err := req.Target.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	width, height := req.Width, req.Height
	if width < 1 {
		width = req.Bounds.Width
	}
	if height < 1 {
		height = req.Bounds.Height
	}
	vp := display.NewViewport(width, height)
	if req.Zoom != 0 {
		vp = vp.WithZoom(req.Zoom)
	}

	o, err := s.opts.Overlays.CreateCapture(overlay.CaptureSpec{
		ID:       req.ID,
		Name:     req.Name,
		Target:   req.Target,
		Viewport: vp,
		Bounds:   req.Bounds,
		Hidden:   req.Hidden,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, o.Snapshot())
}

func (s *Server) handleGetOverlay(w http.ResponseWriter, r *http.Request) {
	p, ok := s.projector(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (s *Server) handleDeleteOverlay(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.opts.Overlays.Remove(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	s.opts.Streams.Remove(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleSetTarget(w http.ResponseWriter, r *http.Request) {
	o, ok := s.captureOverlay(w, r)
	if !ok {
		return
	}
	var t capture.Target
	if err := decode(r, &t); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := t.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := o.SetTarget(t); err != nil {
		writeError(w, captureStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, o.Snapshot())
}

func (s *Server) handleFullTargetRect(w http.ResponseWriter, r *http.Request) {
	o, ok := s.captureOverlay(w, r)
	if !ok {
		return
	}
	rect, err := o.FullTargetRect()
	if err != nil {
		writeError(w, captureStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rect)
}

func (s *Server) handleCropRect(w http.ResponseWriter, r *http.Request) {
	o, ok := s.captureOverlay(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]*capture.Rect{"crop": o.CropRect()})
}

func (s *Server) handleSetViewport(w http.ResponseWriter, r *http.Request) {
	p, ok := s.projector(w, r)
	if !ok {
		return
	}
	var req struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Width < 1 || req.Height < 1 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid viewport size %dx%d", req.Width, req.Height))
		return
	}
	p.SetViewportSize(req.Width, req.Height)
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (s *Server) handleSetZoom(w http.ResponseWriter, r *http.Request) {
	p, ok := s.projector(w, r)
	if !ok {
		return
	}
	z, ok := p.(overlay.Zoomable)
	if !ok {
		writeError(w, http.StatusConflict, fmt.Errorf("overlay %s cannot zoom", p.ID()))
		return
	}
	var req struct {
		Zoom  *float64 `json:"zoom"`
		Steps int      `json:"steps"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Zoom != nil {
		z.SetZoom(*req.Zoom)
	} else {
		z.ZoomBy(req.Steps)
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (s *Server) handlePan(w http.ResponseWriter, r *http.Request) {
	p, ok := s.projector(w, r)
	if !ok {
		return
	}
	pan, ok := p.(overlay.Pannable)
	if !ok {
		writeError(w, http.StatusConflict, fmt.Errorf("overlay %s cannot pan", p.ID()))
		return
	}
	var req struct {
		DX int `json:"dx"`
		DY int `json:"dy"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pan.PanBy(req.DX, req.DY)
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	p, ok := s.projector(w, r)
	if !ok {
		return
	}
	pan, ok := p.(overlay.Pannable)
	if !ok {
		writeError(w, http.StatusConflict, fmt.Errorf("overlay %s cannot pan", p.ID()))
		return
	}
	pan.FitToViewport()
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (s *Server) handleSetBounds(w http.ResponseWriter, r *http.Request) {
	p, ok := s.projector(w, r)
	if !ok {
		return
	}
	var rect capture.Rect
	if err := decode(r, &rect); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p.SetScreenBounds(rect)
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	p, ok := s.projector(w, r)
	if !ok {
		return
	}
	p.Show()
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (s *Server) handleHide(w http.ResponseWriter, r *http.Request) {
	p, ok := s.projector(w, r)
	if !ok {
		return
	}
	p.Hide()
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	still, err := s.opts.Overlays.Freeze(id)
	if err != nil {
		status := http.StatusConflict
		if _, ok := s.opts.Overlays.Get(id); !ok {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, still.Snapshot())
}

// handleStream serves the overlay's presented frames as MJPEG. The stream
// is created on first request and seeded with the current display.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	p, ok := s.projector(w, r)
	if !ok {
		return
	}
	out, err := s.opts.Streams.Get(p.ID())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	_ = out.WriteFrame(p.Current().Render().Image())
	out.ServeHTTP(w, r)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	p, ok := s.projector(w, r)
	if !ok {
		return
	}
	data, err := output.EncodeJPEG(p.Current().Render().Image(), s.opts.JPEGQuality)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

// handleEvents streams overlay state changes over a websocket, starting
// with one state event per existing overlay.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := s.opts.Hub.Subscribe()
	defer s.opts.Hub.Unsubscribe(updates)

	for _, snap := range s.opts.Overlays.Snapshots() {
		ev := overlay.Event{Kind: overlay.EventStateChanged, OverlayID: snap.ID, Snapshot: &snap}
		if err := conn.WriteJSON(ev); err != nil {
			log.Debug().Err(err).Msg("WebSocket write failed")
			return
		}
	}

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.opts.Config == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no configuration loaded"))
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Config.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"version":  Version,
		"overlays": len(s.opts.Overlays.All()),
		"live":     s.opts.Overlays.Registry().Len(),
		"streams":  s.opts.Streams.IDs(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Projector</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Ubuntu, sans-serif;
            max-width: 800px;
            margin: 50px auto;
            padding: 20px;
            background: #f5f5f5;
        }
        .container {
            background: white;
            padding: 30px;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        h1 { color: #333; margin-top: 0; }
        .info { color: #666; line-height: 1.6; }
        a { color: #1976d2; text-decoration: none; }
        code {
            background: #f5f5f5;
            padding: 2px 6px;
            border-radius: 3px;
            font-family: 'Courier New', monospace;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>Projector</h1>
        <div class="info">
            <p>Live mirrors of windows and screen regions.</p>
            <h3>API Endpoints:</h3>
            <ul>
                <li><a href="/api/health">/api/health</a> - Server health check</li>
                <li><a href="/api/windows">/api/windows</a> - Pickable windows</li>
                <li><a href="/api/overlays">/api/overlays</a> - Open overlays</li>
                <li><a href="/api/config">/api/config</a> - View configuration</li>
            </ul>
            <p>Each overlay streams at <code>/api/overlays/{id}/stream</code>.</p>
        </div>
    </div>
</body>
</html>`
