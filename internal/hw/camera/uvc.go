package camera

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/cjeanneret/LensGo/internal/debug"
)

// UVCDeviceSpec maps a V4L2/UVC capture index to a device description.
// UVC webcams expose neither RAW formats nor multiple lenses, so every UVC
// device is a wide-angle unit and captures take the compressed-only path.
type UVCDeviceSpec struct {
	Index    int
	Position Position
	BiasMin  float64
	BiasMax  float64
}

// UVCProvider is a real hardware backend over OpenCV video capture.
type UVCProvider struct {
	devices []*UVCDevice
}

// NewUVCProvider builds a provider from a device table. Devices are opened
// lazily when attached to a session.
func NewUVCProvider(specs []UVCDeviceSpec) *UVCProvider {
	p := &UVCProvider{}
	for _, s := range specs {
		p.devices = append(p.devices, &UVCDevice{spec: s})
	}
	debug.Info("Using UVC camera backend (%d devices)", len(p.devices))
	return p
}

func (p *UVCProvider) NewSession() Session { return &uvcSession{} }
func (p *UVCProvider) NewOutput() Output   { return &uvcOutput{} }

func (p *UVCProvider) DefaultDevice(pos Position) (Device, error) {
	for _, d := range p.devices {
		if d.spec.Position == pos {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no UVC device at position %s: %w", pos, ErrDeviceNotFound)
}

func (p *UVCProvider) Devices(pos Position, types []DeviceType) []Device {
	var out []Device
	for _, t := range types {
		if t != Wide {
			continue
		}
		for _, d := range p.devices {
			if d.spec.Position == pos {
				out = append(out, d)
			}
		}
	}
	return out
}

func (p *UVCProvider) DeviceByType(t DeviceType, pos Position) (Device, error) {
	if t != Wide {
		return nil, fmt.Errorf("no %s UVC device: %w", t, ErrDeviceNotFound)
	}
	return p.DefaultDevice(pos)
}

// UVCDevice wraps one capture index. The underlying gocv handle exists only
// while the device is attached to a session.
type UVCDevice struct {
	mu   sync.Mutex
	spec UVCDeviceSpec
	cap  *gocv.VideoCapture
}

func (d *UVCDevice) ID() string         { return fmt.Sprintf("uvc-%d", d.spec.Index) }
func (d *UVCDevice) Type() DeviceType   { return Wide }
func (d *UVCDevice) Position() Position { return d.spec.Position }

func (d *UVCDevice) FormatWidth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cap != nil {
		if w := int(d.cap.Get(gocv.VideoCaptureFrameWidth)); w > 0 {
			return w
		}
	}
	return 1920
}

func (d *UVCDevice) ExposureBiasBounds() (min, max float64) {
	return d.spec.BiasMin, d.spec.BiasMax
}

func (d *UVCDevice) SetExposureBias(bias float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cap == nil {
		return fmt.Errorf("uvc-%d not open: %w", d.spec.Index, ErrDeviceLocked)
	}
	// Driver exposure units vary; the EV bias is handed through as-is.
	d.cap.Set(gocv.VideoCaptureExposure, bias)
	return nil
}

func (d *UVCDevice) SupportsPointOfInterest() bool { return false }

func (d *UVCDevice) SetPointOfInterest(x, y float64) error {
	return fmt.Errorf("uvc-%d has no focus point of interest: %w", d.spec.Index, ErrDeviceLocked)
}

func (d *UVCDevice) open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cap != nil {
		return nil
	}
	cap, err := gocv.OpenVideoCapture(d.spec.Index)
	if err != nil {
		return fmt.Errorf("open capture %d: %w", d.spec.Index, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("capture %d did not open", d.spec.Index)
	}
	// Re-enable auto exposure by default; bias adjustments override it.
	cap.Set(gocv.VideoCaptureAutoExposure, 1)
	d.cap = cap
	return nil
}

func (d *UVCDevice) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cap != nil {
		if err := d.cap.Close(); err != nil {
			debug.Error(err)
		}
		d.cap = nil
	}
}

// readJPEG grabs one frame and encodes it as JPEG.
func (d *UVCDevice) readJPEG() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cap == nil {
		return nil, fmt.Errorf("uvc-%d not open: %w", d.spec.Index, ErrCaptureFailed)
	}
	img := gocv.NewMat()
	defer img.Close()
	if ok := d.cap.Read(&img); !ok || img.Empty() {
		return nil, fmt.Errorf("uvc-%d read frame: %w", d.spec.Index, ErrCaptureFailed)
	}
	buf, err := gocv.IMEncode(".jpg", img)
	if err != nil {
		return nil, fmt.Errorf("uvc-%d encode frame: %w", d.spec.Index, ErrCaptureFailed)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

type uvcSession struct {
	mu          sync.Mutex
	configuring bool
	input       *UVCDevice
	output      *uvcOutput
	running     bool
}

func (s *uvcSession) BeginConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configuring = true
}

func (s *uvcSession) CommitConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configuring = false
}

func (s *uvcSession) AddInput(d Device) error {
	ud, ok := d.(*UVCDevice)
	if !ok {
		return fmt.Errorf("foreign device %s: %w", d.ID(), ErrInputRejected)
	}
	s.mu.Lock()
	if !s.configuring || s.input != nil {
		s.mu.Unlock()
		return fmt.Errorf("cannot attach %s: %w", d.ID(), ErrInputRejected)
	}
	s.mu.Unlock()

	if err := ud.open(); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInputRejected)
	}
	s.mu.Lock()
	s.input = ud
	s.mu.Unlock()
	return nil
}

func (s *uvcSession) RemoveInput(d Device) {
	s.mu.Lock()
	in := s.input
	if in != nil && in.ID() == d.ID() {
		s.input = nil
	} else {
		in = nil
	}
	s.mu.Unlock()
	if in != nil {
		in.close()
	}
}

func (s *uvcSession) Input() Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.input == nil {
		return nil
	}
	return s.input
}

func (s *uvcSession) AddOutput(o Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	uo, ok := o.(*uvcOutput)
	if !ok || !s.configuring || s.output != nil {
		return fmt.Errorf("cannot attach output: %w", ErrInputRejected)
	}
	s.output = uo
	uo.session = s
	return nil
}

func (s *uvcSession) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

func (s *uvcSession) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *uvcSession) Release() {
	s.mu.Lock()
	in := s.input
	s.input = nil
	s.running = false
	s.mu.Unlock()
	if in != nil {
		in.close()
	}
}

// uvcOutput captures by grabbing a frame from the current input. UVC reports
// no RAW formats, so the pipeline always builds compressed-only requests.
type uvcOutput struct {
	session *uvcSession
}

func (o *uvcOutput) RawFormats() []PixelFormat { return nil }

func (o *uvcOutput) MaxDimensions() Dimensions {
	if o.session == nil {
		return Dimensions{}
	}
	if d := o.session.Input(); d != nil {
		w := d.FormatWidth()
		return Dimensions{Width: w, Height: w * 9 / 16}
	}
	return Dimensions{}
}

func (o *uvcOutput) SupportsPreview() bool { return true }

func (o *uvcOutput) Capture(s Settings, done func(Result)) error {
	if o.session == nil {
		return fmt.Errorf("output not attached: %w", ErrCaptureFailed)
	}
	d, _ := o.session.Input().(*UVCDevice)
	if d == nil {
		return fmt.Errorf("no input attached: %w", ErrCaptureFailed)
	}
	go func() {
		data, err := d.readJPEG()
		if err != nil {
			done(Result{ID: s.ID, Kind: ResultError, Err: err})
			return
		}
		done(Result{ID: s.ID, Kind: ResultCompressed, Data: data})
	}()
	return nil
}
