// Package display hands rendered buffers to something a person can see.
package display

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"canvas-studio/tools/dsl"
	"canvas-studio/tools/render"
)

// EventKind names an input event.
type EventKind string

const (
	EventClick EventKind = "click"
	EventKey   EventKind = "key"
	EventClose EventKind = "close"
)

// InputEvent is user input from a surface, in logical canvas coordinates.
type InputEvent struct {
	Kind     EventKind `json:"kind"`
	TargetID string    `json:"target_id,omitempty"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Key      string    `json:"key,omitempty"`
}

// JSON encodes the event for a follow-up model request.
func (e InputEvent) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

// Surface presents buffers and reports input. The buffer passed to Present
// belongs to the surface afterwards.
type Surface interface {
	Present(ctx context.Context, canvas dsl.CanvasSpec, buf *render.PixelBuffer) error
	Events() <-chan InputEvent
}

func checkCanvas(canvas dsl.CanvasSpec, buf *render.PixelBuffer) error {
	if buf == nil {
		return fmt.Errorf("display: nil buffer")
	}
	if buf.Canvas != canvas {
		return fmt.Errorf("display: buffer was rendered for %s, surface canvas is %s", buf.Canvas, canvas)
	}
	return nil
}

// PNGSurface writes each presented buffer to a PNG file. It has no input.
type PNGSurface struct {
	Path string

	once   sync.Once
	events chan InputEvent
}

// NewPNGSurface creates a surface writing to path.
func NewPNGSurface(path string) *PNGSurface {
	return &PNGSurface{Path: path}
}

func (s *PNGSurface) Present(ctx context.Context, canvas dsl.CanvasSpec, buf *render.PixelBuffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkCanvas(canvas, buf); err != nil {
		return err
	}
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Write then rename so a reader never sees a partial image
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".present-*.png")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := buf.EncodePNG(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}

func (s *PNGSurface) Events() <-chan InputEvent {
	s.once.Do(func() {
		s.events = make(chan InputEvent)
		close(s.events)
	})
	return s.events
}

// Presentation is one call to MemorySurface.Present.
type Presentation struct {
	Canvas dsl.CanvasSpec
	Buffer *render.PixelBuffer
}

// MemorySurface records presentations and replays injected input.
type MemorySurface struct {
	mu        sync.Mutex
	presented []Presentation
	events    chan InputEvent
	// Err, when set, is returned by Present after recording the call.
	Err error
}

// NewMemorySurface creates a surface buffering up to backlog input events.
func NewMemorySurface(backlog int) *MemorySurface {
	return &MemorySurface{events: make(chan InputEvent, backlog)}
}

func (s *MemorySurface) Present(_ context.Context, canvas dsl.CanvasSpec, buf *render.PixelBuffer) error {
	if err := checkCanvas(canvas, buf); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presented = append(s.presented, Presentation{Canvas: canvas, Buffer: buf})
	return s.Err
}

// Presented returns every presentation so far.
func (s *MemorySurface) Presented() []Presentation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Presentation(nil), s.presented...)
}

// Inject queues an input event. It reports false when the backlog is full.
func (s *MemorySurface) Inject(ev InputEvent) bool {
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *MemorySurface) Events() <-chan InputEvent {
	return s.events
}
