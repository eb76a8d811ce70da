package view

import (
	"context"
	"sync"
	"time"
)

// Section is a long text panel of a procedure that can be read in scrub view.
type Section string

const (
	SectionDraping     Section = "draping"
	SectionInstruments Section = "instruments"
	SectionWorkflow    Section = "workflow"
)

// ParseSection accepts the panel names used in routes and flags.
func ParseSection(s string) (Section, bool) {
	switch Section(s) {
	case SectionDraping, SectionInstruments, SectionWorkflow:
		return Section(s), true
	case "instruments_trays":
		return SectionInstruments, true
	case "workflow_notes":
		return SectionWorkflow, true
	}
	return "", false
}

// Speed is a scroll rate in pixels (or lines) per second.
type Speed float64

const (
	SpeedSlow   Speed = 10
	SpeedNormal Speed = 18
	SpeedFast   Speed = 28
)

// WrapDelay is how long the panel rests at the bottom before jumping back
// to the top.
const WrapDelay = 700 * time.Millisecond

// Frame is what a renderer needs to draw the panel.
type Frame struct {
	Section Section
	Offset  float64
	Max     float64
	On      bool
	Hovered bool
	Speed   Speed
}

// Scroller is the auto-scroll sub-mode of a detail panel. It only moves an
// offset; it never touches data. Every Open starts from the top, switched on,
// at SpeedNormal.
type Scroller struct {
	mu      sync.Mutex
	section Section
	on      bool
	hovered bool
	speed   Speed
	offset  float64
	max     float64
	wrapAt  time.Time
	closed  chan struct{}
}

// NewScroller returns a closed scroller.
func NewScroller() *Scroller { return &Scroller{speed: SpeedNormal} }

// Open shows section with the given content and viewport heights. Opening
// while another section is open closes that one first.
func (s *Scroller) Open(section Section, contentHeight, viewportHeight float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	s.section = section
	s.on = true
	s.hovered = false
	s.speed = SpeedNormal
	s.offset = 0
	s.max = contentHeight - viewportHeight
	if s.max < 0 {
		s.max = 0
	}
	s.wrapAt = time.Time{}
	s.closed = make(chan struct{})
}

// Close hides the panel, resets the offset and stops any Run loop.
func (s *Scroller) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Scroller) closeLocked() {
	if s.closed != nil {
		close(s.closed)
		s.closed = nil
	}
	s.section = ""
	s.offset = 0
	s.wrapAt = time.Time{}
}

// Toggle flips auto-scroll on or off and returns the new setting.
func (s *Scroller) Toggle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on = !s.on
	return s.on
}

// SetSpeed changes the rate; non-positive values fall back to SpeedNormal.
func (s *Scroller) SetSpeed(v Speed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v <= 0 {
		v = SpeedNormal
	}
	s.speed = v
}

// Hover pauses scrolling while the pointer rests on the text.
func (s *Scroller) Hover(on bool) {
	s.mu.Lock()
	s.hovered = on
	s.mu.Unlock()
}

// Advance moves the offset by dt at the current speed. Reaching the bottom
// schedules a jump to the top WrapDelay later.
func (s *Scroller) Advance(now time.Time, dt time.Duration) Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.section == "" {
		return s.frameLocked()
	}
	if !s.wrapAt.IsZero() {
		if !now.Before(s.wrapAt) {
			s.offset = 0
			s.wrapAt = time.Time{}
		}
		return s.frameLocked()
	}
	if !s.on || s.hovered || s.max <= 0 || dt <= 0 {
		return s.frameLocked()
	}
	s.offset += float64(s.speed) * dt.Seconds()
	if s.offset > s.max {
		s.offset = s.max
	}
	if s.offset >= s.max-1 {
		s.wrapAt = now.Add(WrapDelay)
	}
	return s.frameLocked()
}

// Frame returns the current position without moving it.
func (s *Scroller) Frame() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameLocked()
}

func (s *Scroller) frameLocked() Frame {
	return Frame{Section: s.section, Offset: s.offset, Max: s.max, On: s.on, Hovered: s.hovered, Speed: s.speed}
}

// Run advances the scroller every interval and hands each frame to draw. It
// returns nil when the panel is closed and ctx.Err() when ctx ends.
func (s *Scroller) Run(ctx context.Context, interval time.Duration, draw func(Frame)) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed == nil {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closed:
			return nil
		case now := <-ticker.C:
			f := s.Advance(now, now.Sub(last))
			last = now
			if draw != nil {
				draw(f)
			}
		}
	}
}
