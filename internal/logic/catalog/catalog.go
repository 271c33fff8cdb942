package catalog

import (
	"sort"
	"strconv"

	"github.com/cjeanneret/LensGo/internal/debug"
	"github.com/cjeanneret/LensGo/internal/hw/camera"
)

// Lens is a selectable physical optical unit, characterized by its zoom
// factor. Immutable once enumerated.
type Lens struct {
	ID    string            `json:"id"`
	Type  camera.DeviceType `json:"-"`
	Label string            `json:"label"`
	Zoom  float64           `json:"zoom"`
}

// TeleBucket maps a minimum active-format pixel width to a telephoto zoom
// factor.
type TeleBucket struct {
	MinWidth int
	Zoom     float64
}

// ZoomPolicy infers zoom factors from device types. The hardware does not
// expose a manufacturer zoom factor for telephoto units, so those are
// disambiguated by the active format's pixel width against bucketed
// thresholds. The cutoffs are approximate and device-model-dependent, which
// is why the table is data, not code.
type ZoomPolicy struct {
	TeleBuckets []TeleBucket
}

// DefaultZoomPolicy returns the built-in width buckets. Buckets must be
// sorted by descending MinWidth; Normalize enforces that for config-loaded
// tables.
func DefaultZoomPolicy() ZoomPolicy {
	return ZoomPolicy{
		TeleBuckets: []TeleBucket{
			{MinWidth: 8000, Zoom: 5.0},
			{MinWidth: 5700, Zoom: 3.0},
			{MinWidth: 4600, Zoom: 2.5},
			{MinWidth: 0, Zoom: 2.0},
		},
	}
}

// Normalize sorts the buckets by descending MinWidth so lookup can take the
// first match.
func (p ZoomPolicy) Normalize() ZoomPolicy {
	sort.SliceStable(p.TeleBuckets, func(i, j int) bool {
		return p.TeleBuckets[i].MinWidth > p.TeleBuckets[j].MinWidth
	})
	return p
}

// TelephotoZoom maps an active-format width to a telephoto zoom factor.
func (p ZoomPolicy) TelephotoZoom(width int) float64 {
	for _, b := range p.TeleBuckets {
		if width >= b.MinWidth {
			return b.Zoom
		}
	}
	return 2.0
}

// zoomFor returns the zoom factor for a device, or false for device types
// the catalog does not recognize.
func (p ZoomPolicy) zoomFor(t camera.DeviceType, formatWidth int) (float64, bool) {
	switch t {
	case camera.UltraWide:
		return 0.5, true
	case camera.Wide:
		return 1.0, true
	case camera.Telephoto:
		return p.TelephotoZoom(formatWidth), true
	default:
		return 0, false
	}
}

// Label formats a zoom factor the way the lens picker shows it: no trailing
// zeros ("0.5", "2").
func Label(zoom float64) string {
	return strconv.FormatFloat(zoom, 'f', -1, 64)
}

// Enumerate lists the lenses available at a position: one Lens per distinct
// zoom factor (first discovered wins), sorted ascending by zoom factor. An
// empty result is not an error; it is the valid "no auxiliary lenses" state.
func Enumerate(p camera.Provider, pos camera.Position, policy ZoomPolicy) []Lens {
	devices := p.Devices(pos, []camera.DeviceType{camera.UltraWide, camera.Wide, camera.Telephoto})

	var lenses []Lens
	seen := make(map[float64]bool)
	for _, d := range devices {
		zoom, ok := policy.zoomFor(d.Type(), d.FormatWidth())
		if !ok {
			debug.Verbose("Catalog: skipping unrecognized device %s", d.ID())
			continue
		}
		if seen[zoom] {
			continue
		}
		seen[zoom] = true
		lenses = append(lenses, Lens{
			ID:    d.ID(),
			Type:  d.Type(),
			Label: Label(zoom),
			Zoom:  zoom,
		})
	}

	sort.Slice(lenses, func(i, j int) bool { return lenses[i].Zoom < lenses[j].Zoom })

	debug.Verbose("Catalog: %d lenses at position %s", len(lenses), pos)
	return lenses
}
