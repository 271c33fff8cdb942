package camera

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"github.com/cjeanneret/LensGo/internal/debug"
)

// SimDeviceSpec describes one simulated device, typically loaded from config.
type SimDeviceSpec struct {
	ID          string
	Type        DeviceType
	Position    Position
	FormatWidth int
	BiasMin     float64
	BiasMax     float64
	FocusPOI    bool
	RawFormats  []PixelFormat
}

// SimProvider is an in-memory hardware backend for development and tests.
// It plays the role the mock GPIO driver plays for the strobe: full API,
// no hardware.
type SimProvider struct {
	devices []*SimDevice
}

// NewSimProvider builds a provider from a device table.
func NewSimProvider(specs []SimDeviceSpec) *SimProvider {
	p := &SimProvider{}
	for _, s := range specs {
		p.devices = append(p.devices, &SimDevice{spec: s, bias: 0})
	}
	debug.Info("Using SIMULATED camera backend (%d devices)", len(p.devices))
	return p
}

func (p *SimProvider) NewSession() Session {
	return &simSession{}
}

func (p *SimProvider) NewOutput() Output {
	return &SimOutput{}
}

func (p *SimProvider) DefaultDevice(pos Position) (Device, error) {
	// Wide-angle preferred, any video device as fallback.
	if d, err := p.DeviceByType(Wide, pos); err == nil {
		return d, nil
	}
	for _, d := range p.devices {
		if d.spec.Position == pos {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no device at position %s: %w", pos, ErrDeviceNotFound)
}

func (p *SimProvider) Devices(pos Position, types []DeviceType) []Device {
	var out []Device
	for _, t := range types {
		for _, d := range p.devices {
			if d.spec.Position == pos && d.spec.Type == t {
				out = append(out, d)
			}
		}
	}
	return out
}

func (p *SimProvider) DeviceByType(t DeviceType, pos Position) (Device, error) {
	for _, d := range p.devices {
		if d.spec.Position == pos && d.spec.Type == t {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no %s device at position %s: %w", t, pos, ErrDeviceNotFound)
}

// SimDevice implements Device over a static spec plus mutable exposure state.
type SimDevice struct {
	mu       sync.Mutex
	spec     SimDeviceSpec
	bias     float64
	failLock bool
}

func (d *SimDevice) ID() string         { return d.spec.ID }
func (d *SimDevice) Type() DeviceType   { return d.spec.Type }
func (d *SimDevice) Position() Position { return d.spec.Position }
func (d *SimDevice) FormatWidth() int   { return d.spec.FormatWidth }

func (d *SimDevice) ExposureBiasBounds() (min, max float64) {
	return d.spec.BiasMin, d.spec.BiasMax
}

func (d *SimDevice) SetExposureBias(bias float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failLock {
		d.failLock = false
		return fmt.Errorf("simulated lock contention: %w", ErrDeviceLocked)
	}
	d.bias = bias
	return nil
}

func (d *SimDevice) SupportsPointOfInterest() bool { return d.spec.FocusPOI }

func (d *SimDevice) SetPointOfInterest(x, y float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failLock {
		d.failLock = false
		return fmt.Errorf("simulated lock contention: %w", ErrDeviceLocked)
	}
	debug.Trace("sim device %s: point of interest (%.3f, %.3f)", d.spec.ID, x, y)
	return nil
}

// Bias returns the last applied exposure bias (test observation point).
func (d *SimDevice) Bias() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bias
}

// FailNextLock makes the next hardware configuration call fail with
// ErrDeviceLocked, simulating lock contention.
func (d *SimDevice) FailNextLock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failLock = true
}

// simSession enforces the reconfiguration bracket over a single input and a
// single output.
type simSession struct {
	mu          sync.Mutex
	configuring bool
	input       Device
	output      *SimOutput
	running     bool
	released    bool
	rejectNext  bool
}

func (s *simSession) BeginConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configuring = true
}

func (s *simSession) CommitConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configuring = false
}

func (s *simSession) AddInput(d Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configuring {
		return fmt.Errorf("input mutation outside reconfiguration bracket: %w", ErrInputRejected)
	}
	if s.rejectNext {
		s.rejectNext = false
		return fmt.Errorf("simulated rejection of %s: %w", d.ID(), ErrInputRejected)
	}
	if s.input != nil {
		return fmt.Errorf("session already has an input: %w", ErrInputRejected)
	}
	s.input = d
	return nil
}

func (s *simSession) RemoveInput(d Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.input != nil && s.input.ID() == d.ID() {
		s.input = nil
	}
}

func (s *simSession) Input() Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

func (s *simSession) AddOutput(o Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configuring {
		return fmt.Errorf("output mutation outside reconfiguration bracket: %w", ErrInputRejected)
	}
	so, ok := o.(*SimOutput)
	if !ok || s.output != nil {
		return fmt.Errorf("session cannot accept output: %w", ErrInputRejected)
	}
	s.output = so
	so.bind(s)
	return nil
}

func (s *simSession) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.running = running
}

func (s *simSession) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *simSession) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.running = false
	s.input = nil
}

// RejectNextInput makes the next AddInput fail (test injection point).
func (s *simSession) RejectNextInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext = true
}

// SimOutput produces synthetic capture deliveries: a compressed JPEG first,
// then a RAW payload when the request asked for one.
type SimOutput struct {
	mu      sync.Mutex
	session *simSession
}

func (o *SimOutput) bind(s *simSession) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session = s
}

func (o *SimOutput) currentInput() Device {
	o.mu.Lock()
	s := o.session
	o.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Input()
}

func (o *SimOutput) RawFormats() []PixelFormat {
	d, ok := o.currentInput().(*SimDevice)
	if !ok || d == nil {
		return nil
	}
	return d.spec.RawFormats
}

func (o *SimOutput) MaxDimensions() Dimensions {
	d := o.currentInput()
	if d == nil {
		return Dimensions{}
	}
	w := d.FormatWidth()
	return Dimensions{Width: w, Height: w * 3 / 4}
}

func (o *SimOutput) SupportsPreview() bool { return true }

func (o *SimOutput) Capture(s Settings, done func(Result)) error {
	d := o.currentInput()
	if d == nil {
		return fmt.Errorf("no input attached: %w", ErrCaptureFailed)
	}

	// Deliveries are asynchronous, like real hardware. The compressed
	// companion arrives before the RAW payload.
	go func() {
		done(Result{ID: s.ID, Kind: ResultCompressed, Data: simJPEG()})
		if s.RawFormat != 0 {
			done(Result{ID: s.ID, Kind: ResultRaw, Data: simRaw(s)})
		}
	}()
	return nil
}

// simJPEG encodes a small synthetic frame so the preview decode path sees
// real JPEG bytes.
func simJPEG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 96, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil
	}
	return buf.Bytes()
}

// simRaw builds an opaque sensor-dump payload: magic, format, dimensions.
// The core never inspects RAW bytes, so the shape only matters to tests.
func simRaw(s Settings) []byte {
	var buf bytes.Buffer
	buf.WriteString("SIMRAW")
	binary.Write(&buf, binary.LittleEndian, uint32(s.RawFormat))
	binary.Write(&buf, binary.LittleEndian, uint32(s.Dimensions.Width))
	binary.Write(&buf, binary.LittleEndian, uint32(s.Dimensions.Height))
	return buf.Bytes()
}
