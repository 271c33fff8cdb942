package perm

import (
	"sync"

	"github.com/cjeanneret/LensGo/internal/debug"
)

// Status is the outward authorization state of a resource.
// Denied and restricted platform states collapse to Denied; the distinction
// is not surfaced.
type Status int

const (
	Undetermined Status = iota
	Granted
	Denied
)

func (s Status) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "undetermined"
	}
}

// Resource identifies a permission-gated capability.
type Resource int

const (
	Camera Resource = iota
	Library
)

func (r Resource) String() string {
	if r == Library {
		return "library"
	}
	return "camera"
}

// Authorizer is the platform permission collaborator. Request must invoke
// done exactly once; it may do so from another goroutine.
type Authorizer interface {
	Status(r Resource) Status
	Request(r Resource, done func(granted bool))
}

// Gate tracks authorization for the camera and the library sink. It requests
// authorization at most once per undetermined resource; results are applied
// through onChange, which the owner uses to publish the new state.
type Gate struct {
	mu        sync.Mutex
	auth      Authorizer
	status    map[Resource]Status
	requested map[Resource]bool
	onChange  func(r Resource, s Status)
}

// NewGate wraps an authorizer. onChange may be nil.
func NewGate(a Authorizer, onChange func(Resource, Status)) *Gate {
	return &Gate{
		auth:      a,
		status:    make(map[Resource]Status),
		requested: make(map[Resource]bool),
		onChange:  onChange,
	}
}

// Refresh queries both resources and fires a request for any that is still
// undetermined. Safe to call repeatedly; each resource is requested once.
func (g *Gate) Refresh() {
	for _, r := range []Resource{Camera, Library} {
		g.refresh(r)
	}
}

func (g *Gate) refresh(r Resource) {
	s := g.auth.Status(r)

	g.mu.Lock()
	g.status[r] = s
	needRequest := s == Undetermined && !g.requested[r]
	if needRequest {
		g.requested[r] = true
	}
	g.mu.Unlock()

	g.notify(r, s)

	if needRequest {
		debug.Verbose("Permission %s: requesting authorization", r)
		g.auth.Request(r, func(granted bool) {
			res := Denied
			if granted {
				res = Granted
			}
			g.mu.Lock()
			g.status[r] = res
			g.mu.Unlock()
			g.notify(r, res)
		})
	}
}

func (g *Gate) notify(r Resource, s Status) {
	debug.Perm(r.String(), s.String())
	if g.onChange != nil {
		g.onChange(r, s)
	}
}

// Status returns the tracked state of a resource.
func (g *Gate) Status(r Resource) Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status[r]
}

// CameraGranted reports whether session setup may proceed.
func (g *Gate) CameraGranted() bool {
	return g.Status(Camera) == Granted
}

// LibraryGranted reports whether the persistent sink may write. The core
// does not gate on this; the sink enforces it.
func (g *Gate) LibraryGranted() bool {
	return g.Status(Library) == Granted
}
