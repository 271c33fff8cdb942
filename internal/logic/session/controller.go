package session

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/LensGo/internal/debug"
	"github.com/cjeanneret/LensGo/internal/hw/camera"
	"github.com/cjeanneret/LensGo/internal/logic/capture"
	"github.com/cjeanneret/LensGo/internal/logic/catalog"
	"github.com/cjeanneret/LensGo/internal/logic/state"
	"github.com/cjeanneret/LensGo/internal/perm"
)

// Controller owns the single capture session and mediates every mutation
// against it. A mutex serializes all operations that open a reconfiguration
// bracket or submit a capture, so lens switches, facing switches, and
// captures cannot interleave destructively. None of the failures below are
// fatal: each leaves the session in a previously-valid state, or in the
// pre-configuration state.
type Controller struct {
	mu       sync.Mutex
	provider camera.Provider
	gate     *perm.Gate
	pub      *state.Publisher
	pipe     *capture.Pipeline
	policy   catalog.ZoomPolicy

	sess       camera.Session
	output     camera.Output
	device     camera.Device
	position   camera.Position
	lenses     []catalog.Lens
	bias       float64
	configured bool
	runGen     uint64
}

// NewController wires the controller. Configure must still be called once
// camera permission is granted.
func NewController(provider camera.Provider, gate *perm.Gate, pub *state.Publisher, pipe *capture.Pipeline, policy catalog.ZoomPolicy) *Controller {
	return &Controller{
		provider: provider,
		gate:     gate,
		pub:      pub,
		pipe:     pipe,
		policy:   policy,
		position: camera.Back,
	}
}

// Configure builds the session: default back wide-angle input, photo output
// at maximum quality, lens catalog for the back position, exposure bounds
// from the selected device. Idempotent: a second call after success is a
// no-op. Requires camera permission.
func (c *Controller) Configure() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.configured {
		return nil
	}
	if !c.gate.CameraGranted() {
		err := fmt.Errorf("configure: %w", camera.ErrPermissionDenied)
		c.pub.SetError(err)
		return err
	}

	dev, err := c.provider.DefaultDevice(camera.Back)
	if err != nil {
		err = fmt.Errorf("configure: %w", err)
		c.pub.SetError(err)
		return err
	}

	sess := c.provider.NewSession()
	out := c.provider.NewOutput()

	sess.BeginConfiguration()
	if err := sess.AddInput(dev); err != nil {
		sess.CommitConfiguration()
		sess.Release()
		err = fmt.Errorf("configure input: %w", err)
		c.pub.SetError(err)
		return err
	}
	if err := sess.AddOutput(out); err != nil {
		sess.CommitConfiguration()
		sess.Release()
		err = fmt.Errorf("configure output: %w", err)
		c.pub.SetError(err)
		return err
	}
	sess.CommitConfiguration()

	c.sess = sess
	c.output = out
	c.device = dev
	c.position = camera.Back
	c.lenses = catalog.Enumerate(c.provider, camera.Back, c.policy)
	c.configured = true
	c.pipe.Bind(out)

	zoom := c.zoomOf(dev)
	min, max := dev.ExposureBiasBounds()
	c.bias = clamp(c.bias, min, max)

	debug.Session("configured")
	debug.Value("Input device", dev.ID())
	debug.Value("Lenses", len(c.lenses))

	bias := c.bias
	lenses := c.lenses
	c.pub.Update(func(s *state.Snapshot) {
		s.Configured = true
		s.Position = camera.Back.String()
		s.Lenses = lenses
		s.Zoom = zoom
		s.Exposure = state.ExposureState{Bias: bias, Min: min, Max: max}
		s.LastError = ""
	})
	return nil
}

// Start toggles the session into the running state. Never blocks the caller:
// the transition happens on a background goroutine and the resulting running
// flag is published back. No-op if already running.
func (c *Controller) Start() { c.requestRunning(true) }

// Stop is the counterpart of Start. No-op if already stopped.
func (c *Controller) Stop() { c.requestRunning(false) }

// requestRunning stamps the transition with a generation before handing it to
// a background goroutine. Only the latest generation touches the session, so
// rapid Start/Stop sequences settle on the last call regardless of goroutine
// scheduling.
func (c *Controller) requestRunning(target bool) {
	c.mu.Lock()
	c.runGen++
	gen := c.runGen
	c.mu.Unlock()
	go c.setRunning(gen, target)
}

func (c *Controller) setRunning(gen uint64, target bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.runGen {
		return
	}
	if !c.configured || c.sess.Running() == target {
		return
	}
	c.sess.SetRunning(target)
	running := c.sess.Running()
	debug.Session(fmt.Sprintf("running=%v", running))
	c.pub.Update(func(s *state.Snapshot) { s.Running = running })
}

// SwitchLens replaces the session input with a device matching the target
// lens's type at the back position. Either fully succeeds (new input active,
// zoom published, exposure bounds refreshed) or fully fails with the prior
// input restored — the session never ends up with zero inputs.
func (c *Controller) SwitchLens(l catalog.Lens) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.configured {
		err := fmt.Errorf("switch lens: %w", camera.ErrNotConfigured)
		c.pub.SetError(err)
		return err
	}

	prev := c.device
	dev, err := c.provider.DeviceByType(l.Type, camera.Back)
	if err != nil {
		err = fmt.Errorf("switch lens %s: %w", l.Label, err)
		c.pub.SetError(err)
		return err
	}

	c.sess.BeginConfiguration()
	c.sess.RemoveInput(prev)
	if addErr := c.sess.AddInput(dev); addErr != nil {
		// Best-effort restore so the session keeps exactly one input; the
		// published zoom stays at the previous value.
		if restoreErr := c.sess.AddInput(prev); restoreErr != nil {
			debug.Error(restoreErr)
		}
		c.sess.CommitConfiguration()
		addErr = fmt.Errorf("switch lens %s: %w", l.Label, addErr)
		c.pub.SetError(addErr)
		return addErr
	}
	c.sess.CommitConfiguration()

	c.device = dev
	min, max := dev.ExposureBiasBounds()
	c.bias = clamp(c.bias, min, max)
	bias := c.bias

	debug.Lens(l.Label, l.Zoom)
	c.pub.Update(func(s *state.Snapshot) {
		s.Zoom = l.Zoom
		s.Exposure = state.ExposureState{Bias: bias, Min: min, Max: max}
		s.LastError = ""
	})
	return nil
}

// SwitchPosition flips the facing and replaces the input with the default
// device at the new facing. The lens catalog and exposure bounds are not
// refreshed here; only SwitchLens refreshes bounds.
func (c *Controller) SwitchPosition() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.configured {
		err := fmt.Errorf("switch position: %w", camera.ErrNotConfigured)
		c.pub.SetError(err)
		return err
	}

	next := c.position.Flip()
	prev := c.device
	dev, err := c.provider.DefaultDevice(next)
	if err != nil {
		err = fmt.Errorf("switch position to %s: %w", next, err)
		c.pub.SetError(err)
		return err
	}

	c.sess.BeginConfiguration()
	c.sess.RemoveInput(prev)
	if addErr := c.sess.AddInput(dev); addErr != nil {
		if restoreErr := c.sess.AddInput(prev); restoreErr != nil {
			debug.Error(restoreErr)
		}
		c.sess.CommitConfiguration()
		addErr = fmt.Errorf("switch position to %s: %w", next, addErr)
		c.pub.SetError(addErr)
		return addErr
	}
	c.sess.CommitConfiguration()

	c.device = dev
	c.position = next
	zoom := c.zoomOf(dev)

	debug.Session("position " + next.String())
	c.pub.Update(func(s *state.Snapshot) {
		s.Position = next.String()
		s.Zoom = zoom
		s.LastError = ""
	})
	return nil
}

// SetExposureBias clamps bias into the currently selected device's range,
// applies it to hardware, and publishes the clamped value. Silently ignored
// when no device is selected.
func (c *Controller) SetExposureBias(bias float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyBias(bias)
}

// AdjustExposureBias shifts the current bias by delta, clamped into the
// device's range. This is the slider-step form of SetExposureBias.
func (c *Controller) AdjustExposureBias(delta float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyBias(c.bias + delta)
}

// applyBias implements both exposure operations. Callers hold c.mu.
func (c *Controller) applyBias(bias float64) error {
	if c.device == nil {
		return nil
	}
	min, max := c.device.ExposureBiasBounds()
	clamped := clamp(bias, min, max)

	if err := c.device.SetExposureBias(clamped); err != nil {
		err = fmt.Errorf("set exposure bias: %w", err)
		c.pub.SetError(err)
		return err
	}

	c.bias = clamped
	debug.Verbose("Exposure bias %.2f (bounds [%.2f, %.2f])", clamped, min, max)
	c.pub.Update(func(s *state.Snapshot) {
		s.Exposure = state.ExposureState{Bias: clamped, Min: min, Max: max}
	})
	return nil
}

// FocusAt performs point-of-interest autofocus at normalized coordinates.
// As a deliberate UX policy, tapping to focus forces the exposure bias back
// to 0 (auto) and publishes 0 as the new bias. No-op on devices without
// point-of-interest support.
func (c *Controller) FocusAt(x, y float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil || !c.device.SupportsPointOfInterest() {
		return nil
	}

	x = clamp(x, 0, 1)
	y = clamp(y, 0, 1)
	if err := c.device.SetPointOfInterest(x, y); err != nil {
		err = fmt.Errorf("focus: %w", err)
		c.pub.SetError(err)
		return err
	}

	debug.Live("Focus at (%.3f, %.3f)", x, y)
	return c.applyBias(0)
}

// CapturePhoto submits one capture through the pipeline, serialized against
// reconfigurations by the controller mutex.
func (c *Controller) CapturePhoto() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.configured {
		err := fmt.Errorf("capture: %w", camera.ErrNotConfigured)
		c.pub.SetError(err)
		return "", err
	}
	return c.pipe.CapturePhoto()
}

// Close stops and releases the session. The controller is done after this.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		c.sess.Release()
	}
	c.configured = false
	c.device = nil
	debug.Session("released")
}

// Lenses returns the last enumerated catalog.
func (c *Controller) Lenses() []catalog.Lens {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lenses
}

func (c *Controller) zoomOf(d camera.Device) float64 {
	switch d.Type() {
	case camera.UltraWide:
		return 0.5
	case camera.Telephoto:
		return c.policy.TelephotoZoom(d.FormatWidth())
	default:
		return 1.0
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
