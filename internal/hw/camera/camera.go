package camera

import "errors"

// Sentinel errors for the capture stack. Operations wrap these with context
// via fmt.Errorf("...: %w", err); callers match with errors.Is.
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrDeviceLocked     = errors.New("device configuration locked")
	ErrInputRejected    = errors.New("session rejected input")
	ErrCaptureFailed    = errors.New("capture failed")
	ErrPersistFailed    = errors.New("persist failed")
	ErrNotConfigured    = errors.New("session not configured")
)

// DeviceType identifies a physical lens kind.
type DeviceType int

const (
	UltraWide DeviceType = iota
	Wide
	Telephoto
)

func (t DeviceType) String() string {
	switch t {
	case UltraWide:
		return "ultra-wide"
	case Wide:
		return "wide"
	case Telephoto:
		return "telephoto"
	default:
		return "unknown"
	}
}

// Position is the facing of a device.
type Position int

const (
	Back Position = iota
	Front
)

func (p Position) String() string {
	if p == Front {
		return "front"
	}
	return "back"
}

// Flip returns the opposite facing.
func (p Position) Flip() Position {
	if p == Back {
		return Front
	}
	return Back
}

// PixelFormat identifies an uncompressed sensor pixel layout advertised by a
// photo output. The zero value means "none".
type PixelFormat uint32

// Dimensions is a pixel extent.
type Dimensions struct {
	Width  int
	Height int
}

// Device is one physical optical unit. Implementations must be safe for use
// from a single logical caller; the session controller serializes access.
type Device interface {
	// ID is stable across enumerations for the process lifetime.
	ID() string
	Type() DeviceType
	Position() Position

	// FormatWidth is the pixel width of the active capture format. Used to
	// disambiguate telephoto zoom factors.
	FormatWidth() int

	// ExposureBiasBounds returns the supported EV bias range [min, max].
	ExposureBiasBounds() (min, max float64)

	// SetExposureBias applies an EV bias. The caller is responsible for
	// clamping into bounds. May fail with ErrDeviceLocked under hardware
	// configuration lock contention.
	SetExposureBias(bias float64) error

	// SupportsPointOfInterest reports whether tap-to-focus is available.
	SupportsPointOfInterest() bool

	// SetPointOfInterest sets both the focus and exposure point of interest
	// (normalized [0,1]x[0,1]) and re-arms continuous autofocus/autoexposure.
	SetPointOfInterest(x, y float64) error
}

// Settings describes one capture request. ID is the correlation identifier;
// results are matched back to their request by it.
type Settings struct {
	ID             string
	RawFormat      PixelFormat // zero when compressed-only
	Dimensions     Dimensions
	EmbedPreview   bool
	MaximumQuality bool
}

// ResultKind classifies a single delivery for a capture request.
type ResultKind int

const (
	ResultRaw ResultKind = iota
	ResultCompressed
	ResultError
)

func (k ResultKind) String() string {
	switch k {
	case ResultRaw:
		return "raw"
	case ResultCompressed:
		return "compressed"
	default:
		return "error"
	}
}

// Result is one asynchronous delivery for a submitted request. A single
// request may produce several deliveries (a compressed companion and a RAW
// payload are independent deliveries sharing the same ID). Deliveries across
// requests are not ordered.
type Result struct {
	ID   string
	Kind ResultKind
	Data []byte // raw sensor bytes or compressed image bytes
	Err  error  // set when Kind == ResultError
}

// Output is the photo-output endpoint attached to a session.
type Output interface {
	// RawFormats lists the RAW pixel formats the output supports for the
	// current input. Empty means compressed-only capture.
	RawFormats() []PixelFormat

	// MaxDimensions is the largest supported photo extent for the current
	// input.
	MaxDimensions() Dimensions

	// SupportsPreview reports whether a fast preview-image format can be
	// attached to a request.
	SupportsPreview() bool

	// Capture submits a request. It must not block; deliveries arrive on the
	// done callback, possibly from another goroutine, once per delivery. A
	// request whose hardware link is lost may never produce a delivery.
	Capture(s Settings, done func(Result)) error
}

// Session is the live aggregate of at most one input device and one photo
// output. All graph mutations must happen between BeginConfiguration and
// CommitConfiguration.
type Session interface {
	BeginConfiguration()
	CommitConfiguration()

	// AddInput attaches a device as the sole input. Fails with
	// ErrInputRejected when the session cannot accept it.
	AddInput(d Device) error
	RemoveInput(d Device)
	Input() Device

	// AddOutput attaches the photo output. Fails with ErrInputRejected when
	// the session cannot accept it.
	AddOutput(o Output) error

	// SetRunning starts or stops the session data flow. Orthogonal to
	// configuration; may block briefly and should be called off the UI-affine
	// goroutine.
	SetRunning(running bool)
	Running() bool

	// Release tears the session down. The session must not be used after.
	Release()
}

// Provider discovers devices and creates sessions for one hardware backend.
type Provider interface {
	// NewSession creates the (single) capture session.
	NewSession() Session

	// DefaultDevice resolves the preferred device at a position: wide-angle
	// when present, else any video device. ErrDeviceNotFound when none.
	DefaultDevice(pos Position) (Device, error)

	// Devices enumerates devices of the given types at a position, in
	// discovery order. Unknown types are skipped. May be empty.
	Devices(pos Position, types []DeviceType) []Device

	// DeviceByType resolves one device of an exact type at a position.
	DeviceByType(t DeviceType, pos Position) (Device, error)

	// NewOutput creates the photo output for this backend.
	NewOutput() Output
}
