package scenario

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/trajectoryRL/trajectory-sandbox/internal/fixtures"
	"github.com/trajectoryRL/trajectory-sandbox/internal/recorder"
	"github.com/trajectoryRL/trajectory-sandbox/internal/resolver"
)

// Active is one live episode: a validated scenario bound to its fixture set,
// resolver, and a fresh call log. Dispatch handlers snapshot the Active once
// per request, so an in-flight request finishes against its own scenario even
// if another activation swaps the registry underneath it.
type Active struct {
	Scenario  *Scenario
	Fixtures  *fixtures.Set
	Resolver  *resolver.Resolver
	Recorder  *recorder.Recorder
	EpisodeID string
	Version   uint64

	mu      sync.RWMutex
	userCtx map[string]string
}

// SetUserContext merges values into the episode's template context.
// USER_FIRST_NAME is derived from USER_NAME when not given explicitly.
func (a *Active) SetUserContext(ctx map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.userCtx == nil {
		a.userCtx = make(map[string]string, len(ctx))
	}
	for k, v := range ctx {
		a.userCtx[k] = v
	}
	if name, ok := a.userCtx["USER_NAME"]; ok {
		if _, set := a.userCtx["USER_FIRST_NAME"]; !set {
			if first, _, _ := strings.Cut(name, " "); first != "" {
				a.userCtx["USER_FIRST_NAME"] = first
			}
		}
	}
}

// UserContext returns a copy of the episode's template context.
func (a *Active) UserContext() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string, len(a.userCtx))
	for k, v := range a.userCtx {
		out[k] = v
	}
	return out
}

// Registry owns the active episode pointer. Activation is all-or-nothing:
// the new Active is fully loaded and validated before the single atomic
// swap, and any load failure leaves the previous Active untouched.
type Registry struct {
	root    string
	version atomic.Uint64
	active  atomic.Pointer[Active]
}

// NewRegistry creates a registry over a scenario root directory. Each
// scenario lives at <root>/<id>/scenario.yaml with its fixtures beside it.
func NewRegistry(root string) *Registry {
	return &Registry{root: root}
}

// Active returns the current episode, or nil before the first activation.
func (r *Registry) Active() *Active {
	return r.active.Load()
}

// Activate loads scenario id, resets the call log, and swaps it in.
// Every activation starts a new episode: fresh recorder, fresh episode id,
// monotonically increasing version.
func (r *Registry) Activate(id string) (*Active, error) {
	dir := filepath.Join(r.root, id)
	scn, err := Load(filepath.Join(dir, "scenario.yaml"))
	if err != nil {
		return nil, fmt.Errorf("activating scenario %q: %w", id, err)
	}
	set, err := fixtures.Load(dir, scn.Name, scn.RequiredFixtures)
	if err != nil {
		return nil, fmt.Errorf("activating scenario %q: %w", id, err)
	}

	active := &Active{
		Scenario:  scn,
		Fixtures:  set,
		Resolver:  resolver.New(set),
		Recorder:  recorder.New(),
		EpisodeID: uuid.NewString(),
		Version:   r.version.Add(1),
		userCtx:   make(map[string]string),
	}
	r.active.Store(active)
	return active, nil
}
