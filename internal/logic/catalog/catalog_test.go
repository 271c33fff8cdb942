package catalog

import (
	"fmt"
	"testing"

	"github.com/cjeanneret/LensGo/internal/hw/camera"
)

// fakeDevice is a minimal camera.Device for enumeration tests.
type fakeDevice struct {
	id    string
	typ   camera.DeviceType
	pos   camera.Position
	width int
}

func (d *fakeDevice) ID() string                             { return d.id }
func (d *fakeDevice) Type() camera.DeviceType                { return d.typ }
func (d *fakeDevice) Position() camera.Position              { return d.pos }
func (d *fakeDevice) FormatWidth() int                       { return d.width }
func (d *fakeDevice) ExposureBiasBounds() (float64, float64) { return -2, 2 }
func (d *fakeDevice) SetExposureBias(float64) error          { return nil }
func (d *fakeDevice) SupportsPointOfInterest() bool          { return false }
func (d *fakeDevice) SetPointOfInterest(x, y float64) error  { return nil }

// fakeProvider serves a fixed device table.
type fakeProvider struct {
	devices []*fakeDevice
}

func (p *fakeProvider) NewSession() camera.Session { return nil }
func (p *fakeProvider) NewOutput() camera.Output   { return nil }

func (p *fakeProvider) DefaultDevice(pos camera.Position) (camera.Device, error) {
	return nil, camera.ErrDeviceNotFound
}

func (p *fakeProvider) Devices(pos camera.Position, types []camera.DeviceType) []camera.Device {
	var out []camera.Device
	for _, t := range types {
		for _, d := range p.devices {
			if d.pos == pos && d.typ == t {
				out = append(out, d)
			}
		}
	}
	return out
}

func (p *fakeProvider) DeviceByType(t camera.DeviceType, pos camera.Position) (camera.Device, error) {
	for _, d := range p.devices {
		if d.pos == pos && d.typ == t {
			return d, nil
		}
	}
	return nil, camera.ErrDeviceNotFound
}

func TestEnumerate_UltraWideAndTelephoto(t *testing.T) {
	p := &fakeProvider{devices: []*fakeDevice{
		{id: "uw", typ: camera.UltraWide, pos: camera.Back, width: 4032},
		{id: "tele", typ: camera.Telephoto, pos: camera.Back, width: 3024},
	}}

	lenses := Enumerate(p, camera.Back, DefaultZoomPolicy())

	if len(lenses) != 2 {
		t.Fatalf("expected 2 lenses, got %d: %v", len(lenses), lenses)
	}
	wantZooms := []float64{0.5, 2.0}
	wantLabels := []string{"0.5", "2"}
	for i, l := range lenses {
		if l.Zoom != wantZooms[i] {
			t.Errorf("lens %d: zoom = %v, want %v", i, l.Zoom, wantZooms[i])
		}
		if l.Label != wantLabels[i] {
			t.Errorf("lens %d: label = %q, want %q", i, l.Label, wantLabels[i])
		}
	}
}

func TestEnumerate_SortedAscendingUniqueZooms(t *testing.T) {
	p := &fakeProvider{devices: []*fakeDevice{
		{id: "tele1", typ: camera.Telephoto, pos: camera.Back, width: 3024},
		{id: "wide", typ: camera.Wide, pos: camera.Back, width: 4032},
		{id: "tele2", typ: camera.Telephoto, pos: camera.Back, width: 3024}, // duplicate zoom
		{id: "uw", typ: camera.UltraWide, pos: camera.Back, width: 4032},
	}}

	lenses := Enumerate(p, camera.Back, DefaultZoomPolicy())

	if len(lenses) != 3 {
		t.Fatalf("expected 3 lenses after dedup, got %d: %v", len(lenses), lenses)
	}
	seen := make(map[float64]bool)
	prev := 0.0
	for i, l := range lenses {
		if seen[l.Zoom] {
			t.Errorf("duplicate zoom factor %v", l.Zoom)
		}
		seen[l.Zoom] = true
		if i > 0 && l.Zoom <= prev {
			t.Errorf("lenses not sorted ascending: %v after %v", l.Zoom, prev)
		}
		prev = l.Zoom
	}
	// First discovered telephoto wins the 2.0 slot.
	if lenses[2].ID != "tele1" {
		t.Errorf("dedup should keep first discovered device, got %q", lenses[2].ID)
	}
}

func TestEnumerate_NoDevicesIsEmptyNotError(t *testing.T) {
	p := &fakeProvider{}
	lenses := Enumerate(p, camera.Back, DefaultZoomPolicy())
	if len(lenses) != 0 {
		t.Errorf("expected empty enumeration, got %v", lenses)
	}
}

func TestTelephotoZoom_Buckets(t *testing.T) {
	policy := DefaultZoomPolicy()
	tests := []struct {
		width int
		want  float64
	}{
		{3024, 2.0},
		{4032, 2.0},
		{4600, 2.5},
		{5700, 3.0},
		{8064, 5.0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("width_%d", tt.width), func(t *testing.T) {
			if got := policy.TelephotoZoom(tt.width); got != tt.want {
				t.Errorf("TelephotoZoom(%d) = %v, want %v", tt.width, got, tt.want)
			}
		})
	}
}

func TestZoomPolicy_NormalizeSortsBuckets(t *testing.T) {
	policy := ZoomPolicy{TeleBuckets: []TeleBucket{
		{MinWidth: 0, Zoom: 2.0},
		{MinWidth: 8000, Zoom: 5.0},
		{MinWidth: 4600, Zoom: 2.5},
	}}.Normalize()

	if got := policy.TelephotoZoom(9000); got != 5.0 {
		t.Errorf("TelephotoZoom(9000) = %v, want 5.0 after Normalize", got)
	}
	if got := policy.TelephotoZoom(4700); got != 2.5 {
		t.Errorf("TelephotoZoom(4700) = %v, want 2.5 after Normalize", got)
	}
}

func TestLabel_TrimsTrailingZeros(t *testing.T) {
	tests := []struct {
		zoom float64
		want string
	}{
		{0.5, "0.5"},
		{1.0, "1"},
		{2.0, "2"},
		{2.5, "2.5"},
	}
	for _, tt := range tests {
		if got := Label(tt.zoom); got != tt.want {
			t.Errorf("Label(%v) = %q, want %q", tt.zoom, got, tt.want)
		}
	}
}
