package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // preview companions are JPEG
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/LensGo/internal/debug"
	"github.com/cjeanneret/LensGo/internal/hw/camera"
	"github.com/cjeanneret/LensGo/internal/logic/state"
)

// Sink is the persistent photo library collaborator. RAW payloads are handed
// over verbatim; the pipeline never inspects them.
type Sink interface {
	Store(ctx context.Context, id string, raw []byte) error
}

// Strober is an optional capture accessory fired just before submission.
type Strober interface {
	Fire() error
}

// pendingRequest is the metadata kept per outstanding correlation id. The
// await flags record which deliveries are still expected; the id stays
// registered until both have landed (or an error ends the request), so a
// companion arriving after its RAW payload is still routed.
type pendingRequest struct {
	submitted time.Time
	awaitRaw  bool
	awaitJPEG bool
}

// Pipeline issues capture requests and routes their asynchronous results:
// RAW payloads to the sink, compressed companions to the transient preview,
// failures to the error slot. Results are correlated by request id because
// the hardware layer does not guarantee delivery order.
type Pipeline struct {
	mu        sync.Mutex
	output    camera.Output
	sink      Sink
	pub       *state.Publisher
	strobe    Strober
	pending   map[string]pendingRequest
	currentID string
}

// NewPipeline creates a pipeline publishing into pub and persisting into
// sink. The output endpoint is bound later, at session configure time.
func NewPipeline(pub *state.Publisher, sink Sink) *Pipeline {
	return &Pipeline{
		pub:     pub,
		sink:    sink,
		pending: make(map[string]pendingRequest),
	}
}

// Bind attaches the photo output endpoint.
func (p *Pipeline) Bind(output camera.Output) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = output
}

// SetStrobe attaches an optional flash strobe.
func (p *Pipeline) SetStrobe(s Strober) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strobe = s
}

// CurrentID returns the correlation id of the most recently submitted
// request. Tracking is superseded by each new submission; earlier requests
// still resolve while their id remains registered.
func (p *Pipeline) CurrentID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentID
}

// CapturePhoto builds and submits one capture request. When the output
// advertises at least one RAW pixel format, the request pairs the first RAW
// format with a JPEG companion; otherwise it is JPEG-only. Returns the
// request's correlation id. Does not block on the result.
func (p *Pipeline) CapturePhoto() (string, error) {
	p.mu.Lock()
	output := p.output
	strobe := p.strobe
	p.mu.Unlock()

	if output == nil {
		return "", fmt.Errorf("no photo output: %w", camera.ErrNotConfigured)
	}

	s := camera.Settings{
		ID:             uuid.New().String(),
		Dimensions:     output.MaxDimensions(),
		EmbedPreview:   output.SupportsPreview(),
		MaximumQuality: true,
	}
	if raw := output.RawFormats(); len(raw) > 0 {
		s.RawFormat = raw[0]
	}

	p.mu.Lock()
	p.pending[s.ID] = pendingRequest{
		submitted: time.Now(),
		awaitRaw:  s.RawFormat != 0,
		awaitJPEG: true,
	}
	p.currentID = s.ID
	p.mu.Unlock()

	if strobe != nil {
		if err := strobe.Fire(); err != nil {
			// The shot still goes out without flash.
			debug.Error(err)
		}
	}

	debug.Capture(s.ID, s.RawFormat != 0)
	if err := output.Capture(s, p.handleResult); err != nil {
		p.mu.Lock()
		delete(p.pending, s.ID)
		p.mu.Unlock()
		wrapped := fmt.Errorf("submit capture: %w", err)
		p.pub.SetError(wrapped)
		return "", wrapped
	}
	return s.ID, nil
}

// handleResult is invoked once per delivery, possibly out of submission
// order and from arbitrary goroutines.
func (p *Pipeline) handleResult(res camera.Result) {
	p.mu.Lock()
	req, known := p.pending[res.ID]
	accepted := known
	if known {
		switch res.Kind {
		case camera.ResultCompressed:
			accepted = req.awaitJPEG
			req.awaitJPEG = false
		case camera.ResultRaw:
			accepted = req.awaitRaw
			req.awaitRaw = false
		case camera.ResultError:
			req.awaitRaw = false
			req.awaitJPEG = false
		}
		if req.awaitRaw || req.awaitJPEG {
			p.pending[res.ID] = req
		} else {
			delete(p.pending, res.ID)
		}
	}
	p.mu.Unlock()

	if !accepted {
		// Stale, duplicate, or unrecognized id.
		debug.Verbose("Capture: discarding %s result for id %s", res.Kind, res.ID)
		return
	}

	debug.Delivery(res.ID, res.Kind.String(), time.Since(req.submitted))

	switch res.Kind {
	case camera.ResultError:
		p.pub.SetError(fmt.Errorf("%w: %v", camera.ErrCaptureFailed, res.Err))

	case camera.ResultCompressed:
		p.publishPreview(res)

	case camera.ResultRaw:
		// RAW never touches the transient preview.
		if err := p.sink.Store(context.Background(), res.ID, res.Data); err != nil {
			p.pub.SetError(fmt.Errorf("%w: %v", camera.ErrPersistFailed, err))
		}
	}
}

func (p *Pipeline) publishPreview(res camera.Result) {
	img, _, err := image.Decode(bytes.NewReader(res.Data))
	if err != nil {
		p.pub.SetError(fmt.Errorf("decode preview: %w", camera.ErrCaptureFailed))
		return
	}
	b := img.Bounds()
	p.pub.SetPreview(&state.Preview{
		Bitmap: img,
		JPEG:   res.Data,
		Width:  b.Dx(),
		Height: b.Dy(),
	})
}
