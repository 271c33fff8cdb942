package state

import (
	"image"
	"sync"

	"github.com/cjeanneret/LensGo/internal/logic/catalog"
)

// ExposureState is the current bias and the bounds of the currently selected
// device. Bounds are device-dependent and refreshed when the device changes.
type ExposureState struct {
	Bias float64 `json:"bias"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Preview is the last decoded compressed capture. Transient: replaced by the
// next non-RAW delivery, never persisted.
type Preview struct {
	Bitmap image.Image `json:"-"`
	JPEG   []byte      `json:"-"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Seq    uint64      `json:"seq"`
}

// Snapshot is the externally observable state. It is read-mostly: consumers
// receive copies and must not mutate the shared Lenses slice or Preview.
type Snapshot struct {
	CameraPermission  string         `json:"camera_permission"`
	LibraryPermission string         `json:"library_permission"`
	Configured        bool           `json:"configured"`
	Running           bool           `json:"running"`
	Position          string         `json:"position"`
	Lenses            []catalog.Lens `json:"lenses"`
	Zoom              float64        `json:"zoom"`
	Exposure          ExposureState  `json:"exposure"`
	Preview           *Preview       `json:"preview,omitempty"`
	LastError         string         `json:"last_error,omitempty"`
}

// Publisher owns the snapshot under a single-writer discipline: only the
// session controller and the capture pipeline call Update. Consumers read
// via Snapshot or Subscribe.
type Publisher struct {
	mu         sync.RWMutex
	snap       Snapshot
	previewSeq uint64
	fan        *Fanout[Snapshot]
}

// NewPublisher creates a publisher with an empty snapshot.
func NewPublisher() *Publisher {
	return &Publisher{
		snap: Snapshot{
			CameraPermission:  "undetermined",
			LibraryPermission: "undetermined",
			Position:          "back",
		},
		fan: NewFanout[Snapshot](16),
	}
}

// Snapshot returns a copy of the current state.
func (p *Publisher) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Update applies a mutation and broadcasts the result to subscribers.
func (p *Publisher) Update(mutate func(*Snapshot)) {
	p.mu.Lock()
	mutate(&p.snap)
	snap := p.snap
	p.mu.Unlock()
	p.fan.Publish(snap)
}

// SetPreview installs a new transient preview, stamping it with a sequence
// number so subscribers can tell consecutive previews apart.
func (p *Publisher) SetPreview(pv *Preview) {
	p.Update(func(s *Snapshot) {
		if pv != nil {
			p.previewSeq++
			pv.Seq = p.previewSeq
		}
		s.Preview = pv
	})
}

// SetError records a recoverable failure in the observable error slot.
// A nil error clears the slot.
func (p *Publisher) SetError(err error) {
	p.Update(func(s *Snapshot) {
		if err == nil {
			s.LastError = ""
		} else {
			s.LastError = err.Error()
		}
	})
}

// Subscribe returns a channel receiving every published snapshot and a
// cleanup function. The caller must call the cleanup when done. Slow
// subscribers miss intermediate snapshots (non-blocking, buffered).
func (p *Publisher) Subscribe() (<-chan Snapshot, func()) {
	return p.fan.Subscribe()
}
