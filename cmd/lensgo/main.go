package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cjeanneret/LensGo/internal/config"
	"github.com/cjeanneret/LensGo/internal/debug"
	"github.com/cjeanneret/LensGo/internal/hw/camera"
	"github.com/cjeanneret/LensGo/internal/hw/gpio"
	"github.com/cjeanneret/LensGo/internal/hw/strobe"
	"github.com/cjeanneret/LensGo/internal/library"
	"github.com/cjeanneret/LensGo/internal/logic/capture"
	"github.com/cjeanneret/LensGo/internal/logic/session"
	"github.com/cjeanneret/LensGo/internal/logic/state"
	"github.com/cjeanneret/LensGo/internal/perm"
	"github.com/cjeanneret/LensGo/internal/web"
)

func main() {
	// Optional .env for deployment overrides (LENSGO_* variables).
	godotenv.Load()

	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	shotWait := flag.Duration("wait", 5*time.Second, "one-shot mode: how long to wait for capture deliveries")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	// Initialize camera backend
	debug.Step(2, "Initializing camera backend")
	debug.Value("Backend", cfg.Camera.Backend)
	provider, err := newProviderFromConfig(cfg)
	if err != nil {
		log.Fatalf("init camera backend failed: %v", err)
	}

	// Published state and permission gate
	debug.Step(3, "Initializing permission gate")
	pub := state.NewPublisher()
	gate := perm.NewGate(newAuthorizerFromConfig(cfg), func(r perm.Resource, s perm.Status) {
		pub.Update(func(snap *state.Snapshot) {
			switch r {
			case perm.Camera:
				snap.CameraPermission = s.String()
			case perm.Library:
				snap.LibraryPermission = s.String()
			}
		})
	})
	gate.Refresh()
	waitDetermined(gate, 2*time.Second)

	// Photo library and capture pipeline
	debug.Step(4, "Opening photo library")
	debug.Value("Library dir", cfg.Library.Dir)
	lib, err := library.Open(cfg.Library.Dir, gate.LibraryGranted)
	if err != nil {
		log.Fatalf("open photo library failed: %v", err)
	}
	defer lib.Close()

	pipe := capture.NewPipeline(pub, lib)
	if cfg.Strobe.Enabled {
		debug.Value("Strobe pin", cfg.Strobe.Pin)
		pipe.SetStrobe(strobe.New(gpioDriver, cfg.Strobe.Pin, cfg.StrobePulse()))
	}

	// Session controller
	debug.Step(5, "Creating session controller")
	ctrl := session.NewController(provider, gate, pub, pipe, cfg.ZoomPolicy())
	defer ctrl.Close()

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		// A failed configure still serves the UI; the snapshot carries
		// the reason and a permission change can fix it later.
		if err := ctrl.Configure(); err != nil {
			debug.Error(fmt.Errorf("configure failed: %w", err))
		} else {
			ctrl.Start()
		}

		srv := web.NewServer(webAddr, broadcaster, pub, ctrl)
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	// One-shot mode: configure, run, take a single photo, wait for the
	// deliveries to land, stop.
	if err := runOnce(ctx, ctrl, pub, *shotWait); err != nil {
		log.Fatalf("capture failed: %v", err)
	}
}

// runOnce drives a single capture end to end without the web surface.
func runOnce(ctx context.Context, ctrl *session.Controller, pub *state.Publisher, wait time.Duration) error {
	if err := ctrl.Configure(); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	ctrl.Start()

	debug.Section("One-shot capture")
	id, err := ctrl.CapturePhoto()
	if err != nil {
		return fmt.Errorf("submit capture: %w", err)
	}
	debug.Value("Request id", id)

	if err := waitForPreview(ctx, pub, wait); err != nil {
		return err
	}

	ctrl.Stop()
	debug.Section("Capture Complete")
	return nil
}

// waitForPreview blocks until a preview frame is published, the wait budget
// is spent, or ctx is cancelled. RAW persistence shares the delivery path,
// so a published preview is a good proxy for "the capture came back".
func waitForPreview(ctx context.Context, pub *state.Publisher, wait time.Duration) error {
	ch, unsub := pub.Subscribe()
	defer unsub()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case snap := <-ch:
			if snap.Preview != nil {
				return nil
			}
			if snap.LastError != "" {
				return fmt.Errorf("capture error: %s", snap.LastError)
			}
		case <-timer.C:
			return fmt.Errorf("no delivery within %s", wait)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitDetermined polls the gate until neither permission is undetermined.
// Authorizer resolution is asynchronous; startup needs a settled verdict.
func waitDetermined(gate *perm.Gate, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if gate.Status(perm.Camera) != perm.Undetermined && gate.Status(perm.Library) != perm.Undetermined {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	debug.Error(fmt.Errorf("permission state still undetermined after %s", timeout))
}

// newProviderFromConfig selects a camera backend based on configuration.
func newProviderFromConfig(cfg *config.Config) (camera.Provider, error) {
	switch cfg.Camera.Backend {
	case "sim":
		return camera.NewSimProvider(cfg.SimSpecs()), nil
	case "uvc":
		return camera.NewUVCProvider(cfg.UVCSpecs()), nil
	default:
		return nil, fmt.Errorf("unsupported camera backend: %s", cfg.Camera.Backend)
	}
}

// newAuthorizerFromConfig maps the permissions section onto an authorizer:
// "auto" probes the host, "granted"/"denied" are fixed verdicts.
func newAuthorizerFromConfig(cfg *config.Config) perm.Authorizer {
	probe := &perm.ProbeAuthorizer{
		DeviceGlob: "/dev/video*",
		LibraryDir: cfg.Library.Dir,
	}
	static := perm.NewStaticAuthorizer(
		cfg.Permissions.Camera == "granted",
		cfg.Permissions.Library == "granted",
	)

	cameraAuto := cfg.Permissions.Camera == "auto"
	libraryAuto := cfg.Permissions.Library == "auto"
	switch {
	case cameraAuto && libraryAuto:
		return probe
	case !cameraAuto && !libraryAuto:
		return static
	default:
		split := &splitAuthorizer{camera: static, library: static}
		if cameraAuto {
			split.camera = probe
		}
		if libraryAuto {
			split.library = probe
		}
		return split
	}
}

// splitAuthorizer routes each resource to its own authorizer, so one
// permission can be probed while the other is pinned by config.
type splitAuthorizer struct {
	camera  perm.Authorizer
	library perm.Authorizer
}

func (a *splitAuthorizer) pick(r perm.Resource) perm.Authorizer {
	if r == perm.Library {
		return a.library
	}
	return a.camera
}

func (a *splitAuthorizer) Status(r perm.Resource) perm.Status {
	return a.pick(r).Status(r)
}

func (a *splitAuthorizer) Request(r perm.Resource, done func(granted bool)) {
	a.pick(r).Request(r, done)
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
