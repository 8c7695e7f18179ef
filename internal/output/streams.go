package output

import (
	"image"
	"sort"
	"sync"

	"github.com/shastasprojector/projector/internal/logger"
)

// Streams holds one MJPEG output per overlay, created on first use.
type Streams struct {
	config  Config
	mu      sync.RWMutex
	outputs map[string]*MJPEGOutput
}

// NewStreams creates an empty stream set.
func NewStreams(config Config) *Streams {
	return &Streams{
		config:  config.normalized(),
		outputs: make(map[string]*MJPEGOutput),
	}
}

// Get returns the running stream for an overlay, starting one if needed.
func (s *Streams) Get(id string) (*MJPEGOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if out, ok := s.outputs[id]; ok {
		return out, nil
	}
	out := NewMJPEGOutput(id, s.config)
	if err := out.Start(); err != nil {
		return nil, err
	}
	s.outputs[id] = out
	return out, nil
}

// Lookup returns an existing stream without creating one.
func (s *Streams) Lookup(id string) (*MJPEGOutput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.outputs[id]
	return out, ok
}

// Publish feeds a frame to the overlay's stream. render is only called
// when somebody asked for that stream.
func (s *Streams) Publish(id string, render func() image.Image) {
	out, ok := s.Lookup(id)
	if !ok {
		return
	}
	if err := out.WriteFrame(render()); err != nil {
		logger.WithOverlay("mjpeg", id).Debug().Err(err).Msg("Frame not written")
	}
}

// Remove stops and drops an overlay's stream.
func (s *Streams) Remove(id string) {
	s.mu.Lock()
	out, ok := s.outputs[id]
	delete(s.outputs, id)
	s.mu.Unlock()

	if ok {
		_ = out.Stop()
	}
}

// IDs lists overlays that currently have a stream.
func (s *Streams) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.outputs))
	for id := range s.outputs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Close stops every stream.
func (s *Streams) Close() {
	s.mu.Lock()
	outputs := s.outputs
	s.outputs = make(map[string]*MJPEGOutput)
	s.mu.Unlock()

	for _, out := range outputs {
		_ = out.Stop()
	}
}
