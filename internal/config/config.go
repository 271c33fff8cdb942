package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/LensGo/internal/hw/camera"
	"github.com/cjeanneret/LensGo/internal/logic/catalog"
)

// CameraConfig selects the hardware backend.
type CameraConfig struct {
	Backend string `yaml:"backend"` // "sim" or "uvc"
}

// SimDeviceConfig describes one simulated device.
type SimDeviceConfig struct {
	ID          string   `yaml:"id"`
	Type        string   `yaml:"type"`     // ultra-wide | wide | telephoto
	Position    string   `yaml:"position"` // back | front
	FormatWidth int      `yaml:"format_width"`
	BiasMin     float64  `yaml:"bias_min"`
	BiasMax     float64  `yaml:"bias_max"`
	FocusPOI    bool     `yaml:"focus_poi"`
	RawFormats  []uint32 `yaml:"raw_formats"`
}

// SimConfig is the simulated backend's device table.
type SimConfig struct {
	Devices []SimDeviceConfig `yaml:"devices"`
}

// UVCDeviceConfig maps a capture index to a facing and exposure range.
type UVCDeviceConfig struct {
	Index    int     `yaml:"index"`
	Position string  `yaml:"position"`
	BiasMin  float64 `yaml:"bias_min"`
	BiasMax  float64 `yaml:"bias_max"`
}

// UVCConfig is the UVC backend's device table.
type UVCConfig struct {
	Devices []UVCDeviceConfig `yaml:"devices"`
}

// TeleBucketConfig is one width threshold of the telephoto zoom table.
type TeleBucketConfig struct {
	MinWidth int     `yaml:"min_width"`
	Zoom     float64 `yaml:"zoom"`
}

// CatalogConfig overrides the zoom inference policy.
type CatalogConfig struct {
	TeleBuckets []TeleBucketConfig `yaml:"tele_buckets,omitempty"`
}

// PermissionsConfig selects the authorizer behavior per resource:
// "auto" probes the host, "granted"/"denied" force an answer.
type PermissionsConfig struct {
	Camera  string `yaml:"camera"`
	Library string `yaml:"library"`
}

// LibraryConfig locates the persistent photo sink.
type LibraryConfig struct {
	Dir string `yaml:"dir"`
}

// StrobeConfig describes the optional flash-sync line.
type StrobeConfig struct {
	Enabled bool `yaml:"enabled"`
	Pin     int  `yaml:"pin"`      // BCM pin of the sync line
	PulseMs int  `yaml:"pulse_ms"` // sync contact hold time (ms)
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Sim         SimConfig         `yaml:"sim,omitempty"`
	UVC         UVCConfig         `yaml:"uvc,omitempty"`
	Catalog     CatalogConfig     `yaml:"catalog,omitempty"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Library     LibraryConfig     `yaml:"library"`
	Strobe      StrobeConfig      `yaml:"strobe,omitempty"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Basic validation
	if cfg.Camera.Backend == "" {
		cfg.Camera.Backend = "sim"
	}
	if cfg.Camera.Backend != "sim" && cfg.Camera.Backend != "uvc" {
		return nil, fmt.Errorf("camera.backend must be \"sim\" or \"uvc\", got %q", cfg.Camera.Backend)
	}
	if cfg.Camera.Backend == "sim" && len(cfg.Sim.Devices) == 0 {
		return nil, fmt.Errorf("sim backend requires at least one device in sim.devices")
	}
	for i, d := range cfg.Sim.Devices {
		if d.ID == "" {
			return nil, fmt.Errorf("sim.devices[%d]: id is required", i)
		}
		if _, err := ParseDeviceType(d.Type); err != nil {
			return nil, fmt.Errorf("sim.devices[%d]: %w", i, err)
		}
		if _, err := ParsePosition(d.Position); err != nil {
			return nil, fmt.Errorf("sim.devices[%d]: %w", i, err)
		}
		if d.FormatWidth <= 0 {
			return nil, fmt.Errorf("sim.devices[%d]: format_width must be > 0, got %d", i, d.FormatWidth)
		}
		if d.BiasMin > d.BiasMax {
			return nil, fmt.Errorf("sim.devices[%d]: bias_min %g > bias_max %g", i, d.BiasMin, d.BiasMax)
		}
	}
	for i, d := range cfg.UVC.Devices {
		if d.Index < 0 {
			return nil, fmt.Errorf("uvc.devices[%d]: index must be >= 0, got %d", i, d.Index)
		}
		if _, err := ParsePosition(d.Position); err != nil {
			return nil, fmt.Errorf("uvc.devices[%d]: %w", i, err)
		}
	}
	for _, p := range []struct{ name, val string }{
		{"permissions.camera", cfg.Permissions.Camera},
		{"permissions.library", cfg.Permissions.Library},
	} {
		switch p.val {
		case "", "auto", "granted", "denied":
		default:
			return nil, fmt.Errorf("%s must be auto, granted or denied, got %q", p.name, p.val)
		}
	}
	if cfg.Permissions.Camera == "" {
		cfg.Permissions.Camera = "auto"
	}
	if cfg.Permissions.Library == "" {
		cfg.Permissions.Library = "auto"
	}
	if cfg.Library.Dir == "" {
		cfg.Library.Dir = "photos"
	}
	if cfg.Strobe.Enabled && cfg.Strobe.Pin <= 0 {
		return nil, fmt.Errorf("strobe.pin is required when strobe is enabled")
	}
	if cfg.Strobe.PulseMs <= 0 {
		cfg.Strobe.PulseMs = 30 // reasonable sync hold
	}
	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}

	return &cfg, nil
}

// ParseDeviceType maps a config string to a device type.
func ParseDeviceType(s string) (camera.DeviceType, error) {
	switch s {
	case "ultra-wide":
		return camera.UltraWide, nil
	case "wide":
		return camera.Wide, nil
	case "telephoto":
		return camera.Telephoto, nil
	default:
		return 0, fmt.Errorf("unknown device type %q", s)
	}
}

// ParsePosition maps a config string to a facing. Empty means back.
func ParsePosition(s string) (camera.Position, error) {
	switch s {
	case "", "back":
		return camera.Back, nil
	case "front":
		return camera.Front, nil
	default:
		return 0, fmt.Errorf("unknown position %q", s)
	}
}

// SimSpecs converts the sim device table. Call only after Load validated it.
func (c *Config) SimSpecs() []camera.SimDeviceSpec {
	specs := make([]camera.SimDeviceSpec, 0, len(c.Sim.Devices))
	for _, d := range c.Sim.Devices {
		typ, _ := ParseDeviceType(d.Type)
		pos, _ := ParsePosition(d.Position)
		var formats []camera.PixelFormat
		for _, f := range d.RawFormats {
			formats = append(formats, camera.PixelFormat(f))
		}
		specs = append(specs, camera.SimDeviceSpec{
			ID:          d.ID,
			Type:        typ,
			Position:    pos,
			FormatWidth: d.FormatWidth,
			BiasMin:     d.BiasMin,
			BiasMax:     d.BiasMax,
			FocusPOI:    d.FocusPOI,
			RawFormats:  formats,
		})
	}
	return specs
}

// UVCSpecs converts the UVC device table.
func (c *Config) UVCSpecs() []camera.UVCDeviceSpec {
	specs := make([]camera.UVCDeviceSpec, 0, len(c.UVC.Devices))
	for _, d := range c.UVC.Devices {
		pos, _ := ParsePosition(d.Position)
		specs = append(specs, camera.UVCDeviceSpec{
			Index:    d.Index,
			Position: pos,
			BiasMin:  d.BiasMin,
			BiasMax:  d.BiasMax,
		})
	}
	return specs
}

// ZoomPolicy returns the configured telephoto zoom table, or the built-in
// defaults when none is configured.
func (c *Config) ZoomPolicy() catalog.ZoomPolicy {
	if len(c.Catalog.TeleBuckets) == 0 {
		return catalog.DefaultZoomPolicy()
	}
	p := catalog.ZoomPolicy{}
	for _, b := range c.Catalog.TeleBuckets {
		p.TeleBuckets = append(p.TeleBuckets, catalog.TeleBucket{MinWidth: b.MinWidth, Zoom: b.Zoom})
	}
	return p.Normalize()
}

// StrobePulse returns the sync contact hold duration.
func (c *Config) StrobePulse() time.Duration {
	return time.Duration(c.Strobe.PulseMs) * time.Millisecond
}
