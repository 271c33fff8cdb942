package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"strings"
	"sync"
	"testing"

	"github.com/cjeanneret/LensGo/internal/hw/camera"
	"github.com/cjeanneret/LensGo/internal/logic/state"
)

// fakeOutput records submitted settings and hands the completion callback to
// the test so deliveries are synchronous and deterministic.
type fakeOutput struct {
	mu         sync.Mutex
	rawFormats []camera.PixelFormat
	dims       camera.Dimensions
	preview    bool
	submitErr  error
	submitted  []camera.Settings
	done       func(camera.Result)
}

func (o *fakeOutput) RawFormats() []camera.PixelFormat { return o.rawFormats }
func (o *fakeOutput) MaxDimensions() camera.Dimensions { return o.dims }
func (o *fakeOutput) SupportsPreview() bool            { return o.preview }

func (o *fakeOutput) Capture(s camera.Settings, done func(camera.Result)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.submitErr != nil {
		return o.submitErr
	}
	o.submitted = append(o.submitted, s)
	o.done = done
	return nil
}

func (o *fakeOutput) deliver(res camera.Result) {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	done(res)
}

func (o *fakeOutput) lastSettings(t *testing.T) camera.Settings {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.submitted) == 0 {
		t.Fatal("no capture submitted")
	}
	return o.submitted[len(o.submitted)-1]
}

// fakeSink records stored RAW payloads.
type fakeSink struct {
	mu     sync.Mutex
	stores []string
	err    error
}

func (s *fakeSink) Store(ctx context.Context, id string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.stores = append(s.stores, id)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stores)
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func newTestPipeline(out *fakeOutput, sink *fakeSink) (*Pipeline, *state.Publisher) {
	pub := state.NewPublisher()
	p := NewPipeline(pub, sink)
	p.Bind(out)
	return p, pub
}

func TestCapturePhoto_RawCapableOutputPicksFirstRawFormat(t *testing.T) {
	out := &fakeOutput{
		rawFormats: []camera.PixelFormat{0x1414, 0x2020},
		dims:       camera.Dimensions{Width: 4032, Height: 3024},
		preview:    true,
	}
	p, _ := newTestPipeline(out, &fakeSink{})

	id, err := p.CapturePhoto()
	if err != nil {
		t.Fatalf("CapturePhoto: %v", err)
	}
	if id == "" {
		t.Fatal("correlation id should not be empty")
	}

	s := out.lastSettings(t)
	if s.RawFormat != 0x1414 {
		t.Errorf("RawFormat = %#x, want first advertised format %#x", s.RawFormat, 0x1414)
	}
	if s.Dimensions != out.dims {
		t.Errorf("Dimensions = %v, want output max %v", s.Dimensions, out.dims)
	}
	if !s.EmbedPreview {
		t.Error("EmbedPreview should follow output support")
	}
	if s.ID != id || p.CurrentID() != id {
		t.Errorf("correlation id mismatch: settings=%q returned=%q current=%q", s.ID, id, p.CurrentID())
	}
}

func TestCapturePhoto_NoRawFormatsFallsBackToCompressed(t *testing.T) {
	out := &fakeOutput{dims: camera.Dimensions{Width: 1920, Height: 1080}}
	p, _ := newTestPipeline(out, &fakeSink{})

	if _, err := p.CapturePhoto(); err != nil {
		t.Fatalf("CapturePhoto: %v", err)
	}
	if s := out.lastSettings(t); s.RawFormat != 0 {
		t.Errorf("RawFormat = %#x, want 0 (compressed-only)", s.RawFormat)
	}
}

func TestCapturePhoto_WithoutOutputIsNotConfigured(t *testing.T) {
	p := NewPipeline(state.NewPublisher(), &fakeSink{})
	if _, err := p.CapturePhoto(); !errors.Is(err, camera.ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}

func TestCompressedDelivery_UpdatesPreviewNotSink(t *testing.T) {
	out := &fakeOutput{preview: true}
	sink := &fakeSink{}
	p, pub := newTestPipeline(out, sink)

	id, _ := p.CapturePhoto()
	out.deliver(camera.Result{ID: id, Kind: camera.ResultCompressed, Data: testJPEG(t)})

	snap := pub.Snapshot()
	if snap.Preview == nil {
		t.Fatal("preview should be published after compressed delivery")
	}
	if snap.Preview.Width != 32 || snap.Preview.Height != 24 {
		t.Errorf("preview dims = %dx%d, want 32x24", snap.Preview.Width, snap.Preview.Height)
	}
	if sink.count() != 0 {
		t.Errorf("sink writes = %d, want 0 for compressed delivery", sink.count())
	}
	if snap.LastError != "" {
		t.Errorf("unexpected error: %q", snap.LastError)
	}
}

func TestRawDelivery_StoresOnceAndSkipsPreview(t *testing.T) {
	out := &fakeOutput{rawFormats: []camera.PixelFormat{0x1414}}
	sink := &fakeSink{}
	p, pub := newTestPipeline(out, sink)

	id, _ := p.CapturePhoto()
	out.deliver(camera.Result{ID: id, Kind: camera.ResultRaw, Data: []byte("sensor-bytes")})

	if sink.count() != 1 {
		t.Fatalf("sink writes = %d, want exactly 1", sink.count())
	}
	if pub.Snapshot().Preview != nil {
		t.Error("RAW delivery must not update the preview")
	}
}

func TestRawPlusCompressed_IndependentDeliveriesOfOneRequest(t *testing.T) {
	out := &fakeOutput{rawFormats: []camera.PixelFormat{0x1414}, preview: true}
	sink := &fakeSink{}
	p, pub := newTestPipeline(out, sink)

	id, _ := p.CapturePhoto()
	out.deliver(camera.Result{ID: id, Kind: camera.ResultCompressed, Data: testJPEG(t)})
	out.deliver(camera.Result{ID: id, Kind: camera.ResultRaw, Data: []byte("sensor-bytes")})

	if pub.Snapshot().Preview == nil {
		t.Error("compressed companion should publish a preview")
	}
	if sink.count() != 1 {
		t.Errorf("sink writes = %d, want 1", sink.count())
	}

	// Both deliveries consumed; a replay of the id is now unrecognized.
	out.deliver(camera.Result{ID: id, Kind: camera.ResultRaw, Data: []byte("replay")})
	if sink.count() != 1 {
		t.Errorf("replayed id should be discarded, sink writes = %d", sink.count())
	}
}

func TestRawArrivesFirst_LateCompanionStillPublishesPreview(t *testing.T) {
	out := &fakeOutput{rawFormats: []camera.PixelFormat{0x1414}, preview: true}
	sink := &fakeSink{}
	p, pub := newTestPipeline(out, sink)

	// Delivery order is not guaranteed: RAW may land before its companion.
	id, _ := p.CapturePhoto()
	out.deliver(camera.Result{ID: id, Kind: camera.ResultRaw, Data: []byte("sensor-bytes")})

	if sink.count() != 1 {
		t.Fatalf("sink writes = %d, want 1", sink.count())
	}

	// A duplicate RAW while the companion is outstanding is discarded.
	out.deliver(camera.Result{ID: id, Kind: camera.ResultRaw, Data: []byte("replay")})
	if sink.count() != 1 {
		t.Errorf("duplicate RAW should be discarded, sink writes = %d", sink.count())
	}

	out.deliver(camera.Result{ID: id, Kind: camera.ResultCompressed, Data: testJPEG(t)})
	if pub.Snapshot().Preview == nil {
		t.Error("companion after RAW should still publish a preview")
	}

	// The request is complete; further deliveries are unrecognized.
	out.deliver(camera.Result{ID: id, Kind: camera.ResultCompressed, Data: testJPEG(t)})
	if got := pub.Snapshot().Preview.Seq; got != 1 {
		t.Errorf("preview seq = %d, want the single accepted companion", got)
	}
}

func TestUnknownId_Discarded(t *testing.T) {
	out := &fakeOutput{preview: true}
	sink := &fakeSink{}
	p, pub := newTestPipeline(out, sink)

	p.CapturePhoto()
	out.deliver(camera.Result{ID: "never-issued", Kind: camera.ResultRaw, Data: []byte("x")})

	if sink.count() != 0 {
		t.Errorf("unknown id must not reach the sink, writes = %d", sink.count())
	}
	if got := pub.Snapshot().LastError; got != "" {
		t.Errorf("unknown id must not publish an error, got %q", got)
	}
}

func TestErrorDelivery_PublishesFailure(t *testing.T) {
	out := &fakeOutput{}
	p, pub := newTestPipeline(out, &fakeSink{})

	id, _ := p.CapturePhoto()
	out.deliver(camera.Result{ID: id, Kind: camera.ResultError, Err: errors.New("sensor timeout")})

	got := pub.Snapshot().LastError
	if !strings.Contains(got, "capture failed") || !strings.Contains(got, "sensor timeout") {
		t.Errorf("LastError = %q, want capture failure with cause", got)
	}
}

func TestSinkFailure_RelayedToErrorSlot(t *testing.T) {
	out := &fakeOutput{rawFormats: []camera.PixelFormat{0x1414}}
	sink := &fakeSink{err: errors.New("disk full")}
	p, pub := newTestPipeline(out, sink)

	id, _ := p.CapturePhoto()
	out.deliver(camera.Result{ID: id, Kind: camera.ResultRaw, Data: []byte("x")})

	got := pub.Snapshot().LastError
	if !strings.Contains(got, "persist failed") {
		t.Errorf("LastError = %q, want persist failure", got)
	}
}

func TestSubmitFailure_CleansPendingAndPublishes(t *testing.T) {
	out := &fakeOutput{submitErr: errors.New("pipeline stalled")}
	p, pub := newTestPipeline(out, &fakeSink{})

	if _, err := p.CapturePhoto(); err == nil {
		t.Fatal("expected submit error")
	}
	if got := pub.Snapshot().LastError; !strings.Contains(got, "pipeline stalled") {
		t.Errorf("LastError = %q, want submit failure", got)
	}
}

func TestNewSubmission_SupersedesTrackingButOldIdStillResolves(t *testing.T) {
	out := &fakeOutput{rawFormats: []camera.PixelFormat{0x1414}}
	sink := &fakeSink{}
	p, _ := newTestPipeline(out, sink)

	first, _ := p.CapturePhoto()
	firstDone := out.done
	second, _ := p.CapturePhoto()

	if p.CurrentID() != second {
		t.Errorf("CurrentID = %q, want latest submission %q", p.CurrentID(), second)
	}

	// The superseded request's delivery is still accepted by id.
	firstDone(camera.Result{ID: first, Kind: camera.ResultRaw, Data: []byte("late")})
	if sink.count() != 1 {
		t.Errorf("superseded request should still resolve, sink writes = %d", sink.count())
	}
}

// firingStrobe counts Fire calls.
type firingStrobe struct {
	mu    sync.Mutex
	fires int
	err   error
}

func (s *firingStrobe) Fire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fires++
	return s.err
}

func TestCapturePhoto_FiresStrobe(t *testing.T) {
	out := &fakeOutput{}
	p, _ := newTestPipeline(out, &fakeSink{})
	strobe := &firingStrobe{}
	p.SetStrobe(strobe)

	p.CapturePhoto()

	if strobe.fires != 1 {
		t.Errorf("strobe fired %d times, want 1", strobe.fires)
	}
}

func TestCapturePhoto_StrobeFailureDoesNotAbortCapture(t *testing.T) {
	out := &fakeOutput{}
	p, _ := newTestPipeline(out, &fakeSink{})
	p.SetStrobe(&firingStrobe{err: errors.New("sync line stuck")})

	if _, err := p.CapturePhoto(); err != nil {
		t.Errorf("capture should proceed without flash, got %v", err)
	}
	if len(out.submitted) != 1 {
		t.Errorf("submissions = %d, want 1", len(out.submitted))
	}
}
