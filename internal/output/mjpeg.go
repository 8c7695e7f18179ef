package output

import (
	"fmt"
	"image"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-mjpeg"
	"github.com/shastasprojector/projector/internal/logger"
)

// MJPEGOutput streams one overlay's presented frames as Motion JPEG over
// HTTP. Frames are encoded on the output's own goroutine at no more than
// the configured rate; frames arriving faster replace the pending one.
type MJPEGOutput struct {
	name   string
	config Config

	mu      sync.RWMutex
	running bool
	stream  *mjpeg.Stream
	pending chan image.Image
	stop    chan struct{}
	done    chan struct{}

	lastMu     sync.RWMutex
	lastJPEG   []byte
	lastUpdate time.Time

	frames    atomic.Uint64
	dropped   atomic.Uint64
	startTime time.Time
}

// Stats summarizes an output's activity.
type Stats struct {
	Frames     uint64        `json:"frames"`
	Dropped    uint64        `json:"dropped"`
	Uptime     time.Duration `json:"uptime_ns"`
	LastUpdate time.Time     `json:"last_update"`
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(name string, config Config) *MJPEGOutput {
	return &MJPEGOutput{
		name:   name,
		config: config.normalized(),
	}
}

// Start creates the stream and its encoder goroutine.
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output %s already running", m.name)
	}

	interval := time.Second / time.Duration(m.config.FPS)
	m.stream = mjpeg.NewStreamWithInterval(interval)
	m.pending = make(chan image.Image, 1)
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true
	m.startTime = time.Now()
	m.frames.Store(0)
	m.dropped.Store(0)

	go m.encodeLoop(m.stream, m.pending, m.stop, m.done, interval)

	logger.WithOverlay("mjpeg", m.name).Info().
		Int("fps", m.config.FPS).
		Int("quality", m.config.Quality).
		Msg("MJPEG output started")
	return nil
}

// Stop ends the encoder and disconnects all clients
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	stream, stop, done := m.stream, m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
	err := stream.Close()

	logger.WithOverlay("mjpeg", m.name).Info().
		Uint64("frames", m.frames.Load()).
		Uint64("dropped", m.dropped.Load()).
		Msg("MJPEG output stopped")
	return err
}

// WriteFrame queues a frame for encoding. An unread pending frame is
// replaced.
func (m *MJPEGOutput) WriteFrame(frame image.Image) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.running {
		return fmt.Errorf("MJPEG output %s not running", m.name)
	}

	select {
	case <-m.pending:
		m.dropped.Add(1)
	default:
	}
	select {
	case m.pending <- frame:
	default:
		m.dropped.Add(1)
	}
	return nil
}

func (m *MJPEGOutput) encodeLoop(stream *mjpeg.Stream, pending <-chan image.Image, stop <-chan struct{}, done chan<- struct{}, interval time.Duration) {
	defer close(done)

	log := logger.WithOverlay("mjpeg", m.name)
	limiter := time.NewTicker(interval)
	defer limiter.Stop()

	for {
		select {
		case <-stop:
			return
		case img := <-pending:
			data, err := EncodeJPEG(img, m.config.Quality)
			if err != nil {
				log.Warn().Err(err).Msg("Dropping frame")
				continue
			}
			if err := stream.Update(data); err != nil {
				log.Debug().Err(err).Msg("Stream update failed")
			}

			m.lastMu.Lock()
			m.lastJPEG = data
			m.lastUpdate = time.Now()
			m.lastMu.Unlock()
			m.frames.Add(1)

			select {
			case <-stop:
				return
			case <-limiter.C:
			}
		}
	}
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream (" + m.name + ")"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Snapshot returns the most recently encoded JPEG, or nil.
func (m *MJPEGOutput) Snapshot() []byte {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	return m.lastJPEG
}

// Stats reports frame counters.
func (m *MJPEGOutput) Stats() Stats {
	m.lastMu.RLock()
	last := m.lastUpdate
	m.lastMu.RUnlock()

	m.mu.RLock()
	var uptime time.Duration
	if m.running {
		uptime = time.Since(m.startTime)
	}
	m.mu.RUnlock()

	return Stats{
		Frames:     m.frames.Load(),
		Dropped:    m.dropped.Load(),
		Uptime:     uptime,
		LastUpdate: last,
	}
}

// ServeHTTP streams multipart JPEG frames until the client disconnects.
func (m *MJPEGOutput) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	stream, running := m.stream, m.running
	m.mu.RUnlock()

	if !running {
		http.Error(w, "stream not running", http.StatusServiceUnavailable)
		return
	}

	log := logger.WithOverlay("mjpeg", m.name)
	log.Info().Str("remote", r.RemoteAddr).Msg("Client connected")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	stream.ServeHTTP(w, r)
	log.Info().Str("remote", r.RemoteAddr).Msg("Client disconnected")
}
