package perm

import (
	"os"
	"path/filepath"
	"sync"
)

// StaticAuthorizer resolves permissions from configuration. Resources start
// undetermined; a request resolves to the configured answer asynchronously,
// mimicking a prompt round-trip.
type StaticAuthorizer struct {
	mu       sync.Mutex
	answers  map[Resource]bool
	resolved map[Resource]Status
}

// NewStaticAuthorizer builds an authorizer that will answer camera and
// library requests with the given grants.
func NewStaticAuthorizer(cameraGranted, libraryGranted bool) *StaticAuthorizer {
	return &StaticAuthorizer{
		answers:  map[Resource]bool{Camera: cameraGranted, Library: libraryGranted},
		resolved: make(map[Resource]Status),
	}
}

func (a *StaticAuthorizer) Status(r Resource) Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resolved[r]
}

func (a *StaticAuthorizer) Request(r Resource, done func(granted bool)) {
	go func() {
		a.mu.Lock()
		granted := a.answers[r]
		if granted {
			a.resolved[r] = Granted
		} else {
			a.resolved[r] = Denied
		}
		a.mu.Unlock()
		done(granted)
	}()
}

// ProbeAuthorizer derives permissions from the filesystem: camera access
// from readable video device nodes, library access from a writable
// directory. There is no prompt on a headless daemon; a request is a probe.
type ProbeAuthorizer struct {
	DeviceGlob string // e.g. /dev/video*
	LibraryDir string
}

func (a *ProbeAuthorizer) Status(r Resource) Status {
	switch r {
	case Camera:
		return a.probeCamera()
	case Library:
		return a.probeLibrary()
	default:
		return Undetermined
	}
}

func (a *ProbeAuthorizer) Request(r Resource, done func(granted bool)) {
	go func() {
		done(a.Status(r) == Granted)
	}()
}

func (a *ProbeAuthorizer) probeCamera() Status {
	glob := a.DeviceGlob
	if glob == "" {
		glob = "/dev/video*"
	}
	nodes, err := filepath.Glob(glob)
	if err != nil || len(nodes) == 0 {
		return Denied
	}
	for _, n := range nodes {
		f, err := os.OpenFile(n, os.O_RDONLY, 0)
		if err == nil {
			f.Close()
			return Granted
		}
	}
	return Denied
}

func (a *ProbeAuthorizer) probeLibrary() Status {
	if a.LibraryDir == "" {
		return Denied
	}
	if err := os.MkdirAll(a.LibraryDir, 0o755); err != nil {
		return Denied
	}
	probe := filepath.Join(a.LibraryDir, ".lensgo-probe")
	f, err := os.Create(probe)
	if err != nil {
		return Denied
	}
	f.Close()
	os.Remove(probe)
	return Granted
}
