package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/berth/internal/core/domain"
)

// simHeartbeat is how often a simulated container emits a log line while
// running, so followed log streams have something to show.
const simHeartbeat = 5 * time.Second

// =============================================================================
// Simulated Adapter
// =============================================================================

// SimAdapter implements Adapter without any runtime behind it. Every
// operation succeeds deterministically with placeholder values, which keeps
// the full deployment lifecycle usable on machines without Docker. Records
// produced through it are distinguishable only via IsAvailable.
type SimAdapter struct {
	mu         sync.Mutex
	counter    int
	containers map[string]*simContainer
	logger     *slog.Logger
}

type simContainer struct {
	name    string
	slot    string
	running bool
	ports   []PortBinding
}

// NewSimAdapter creates a simulated adapter.
func NewSimAdapter(logger *slog.Logger) *SimAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimAdapter{
		containers: make(map[string]*simContainer),
		logger:     logger,
	}
}

// IsAvailable reports whether a live runtime backs this adapter.
func (s *SimAdapter) IsAvailable() bool {
	return false
}

// Close releases nothing; the simulated runtime holds no connection.
func (s *SimAdapter) Close() error {
	return nil
}

// ResolveImage returns the reference unchanged; simulated pulls always
// succeed.
func (s *SimAdapter) ResolveImage(_ context.Context, imageName, tag string) (string, error) {
	if tag != "" {
		return imageName + ":" + tag, nil
	}
	return imageName, nil
}

// Preempt forgets every simulated container occupying the slot.
func (s *SimAdapter) Preempt(_ context.Context, slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ref, c := range s.containers {
		if c.slot == slot {
			delete(s.containers, ref)
		}
	}
	return nil
}

// CreateAndStart records a simulated container and returns a placeholder
// reference of the form "sim-<name>-<n>".
func (s *SimAdapter) CreateAndStart(_ context.Context, spec ContainerSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.containers {
		if c.name == spec.Name {
			return "", NewRuntimeError("create", spec.Name, "container name already in use", ErrContainerAlreadyExists)
		}
	}

	s.counter++
	ref := fmt.Sprintf("sim-%s-%d", spec.Name, s.counter)

	ports := make([]PortBinding, len(spec.Ports))
	copy(ports, spec.Ports)

	s.containers[ref] = &simContainer{
		name:    spec.Name,
		slot:    spec.Labels[LabelSlot],
		running: true,
		ports:   ports,
	}
	return ref, nil
}

// Stop marks the simulated container as exited.
func (s *SimAdapter) Stop(_ context.Context, ref string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.containers[ref]
	if !ok {
		return NewRuntimeError("stop", ref, "container not found", ErrContainerNotFound)
	}
	c.running = false
	return nil
}

// Remove forgets the simulated container.
func (s *SimAdapter) Remove(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.containers[ref]; !ok {
		return NewRuntimeError("remove", ref, "container not found", ErrContainerNotFound)
	}
	delete(s.containers, ref)
	return nil
}

// Inspect reports the simulated container's state.
func (s *SimAdapter) Inspect(_ context.Context, ref string) (ContainerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.containers[ref]
	if !ok {
		return ContainerState{}, NewRuntimeError("inspect", ref, "container not found", ErrContainerNotFound)
	}

	state := ContainerState{Running: c.running, Status: "running"}
	if !c.running {
		state.Status = "exited"
	}
	return state, nil
}

// StreamLogs emits a pair of startup lines, then a heartbeat while the
// container stays running. The stream ends when cancel runs, ctx ends, or
// the container stops.
func (s *SimAdapter) StreamLogs(ctx context.Context, ref string, onLine LineFunc) (CancelFunc, error) {
	s.mu.Lock()
	c, ok := s.containers[ref]
	if !ok {
		s.mu.Unlock()
		return nil, NewRuntimeError("logs", ref, "container not found", ErrContainerNotFound)
	}
	var firstPort int
	if len(c.ports) > 0 {
		firstPort = c.ports[0].ContainerPort
	}
	s.mu.Unlock()

	streamCtx, cancelCtx := context.WithCancel(ctx)

	var once sync.Once
	cancel := func() {
		once.Do(cancelCtx)
	}

	go func() {
		defer cancel()

		onLine(domain.OriginStdout, "simulated container started")
		if firstPort > 0 {
			onLine(domain.OriginStdout, fmt.Sprintf("listening on 0.0.0.0:%d", firstPort))
		}

		ticker := time.NewTicker(simHeartbeat)
		defer ticker.Stop()

		beat := 0
		for {
			select {
			case <-streamCtx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				c, ok := s.containers[ref]
				alive := ok && c.running
				s.mu.Unlock()
				if !alive {
					return
				}
				beat++
				onLine(domain.OriginStdout, fmt.Sprintf("heartbeat %d", beat))
			}
		}
	}()

	return cancel, nil
}
