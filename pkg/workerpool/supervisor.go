// Package workerpool is the Worker Pool Supervisor (spec.md §4.3): it
// spawns one OS process per (routing-key, instance) pair, each running
// `contour worker run` as an RPC Worker Host, restarts any that exit
// while the pool is running, and wires a Command Channel to each over a
// per-instance Unix domain socket.
package workerpool

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/contour/pkg/cmdchannel"
	"github.com/cuemby/contour/pkg/health"
)

// ProcessSpec is one (routing-key, instance-count) entry from the
// supervisor's configuration.
type ProcessSpec struct {
	RoutingKey    string
	InstanceCount int
}

// instance tracks one supervised worker process.
type instance struct {
	mu         sync.Mutex
	routingKey string
	instanceID int
	socketPath string
	cmd        *exec.Cmd
	channel    *cmdchannel.Channel
}

func (i *instance) id() string {
	return fmt.Sprintf("%s/%d", i.routingKey, i.instanceID)
}

// Supervisor is the Worker Pool Supervisor.
type Supervisor struct {
	binary        string
	restartDelay  time.Duration
	socketDir     string
	acceptTimeout time.Duration
	log           zerolog.Logger

	// OnRestart, if set, is called each time a worker process that exited
	// is about to be respawned (never for its initial spawn), so an owner (the
	// RPC Client / Task Manager wiring) can release any close-request
	// that was stuck waiting on the dead instance.
	OnRestart func(routingKey string, instanceID int)

	mu        sync.Mutex
	instances map[string]*instance
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	healthCfg health.Config
	healthMu  sync.Mutex
	health    map[string]*health.Status
}

// New constructs a Supervisor. binary is the path to the contour binary
// re-exec'd for each worker instance (typically os.Args[0]); socketDir
// holds the per-instance Command Channel Unix sockets.
func New(binary string, restartDelay time.Duration, socketDir string, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		binary:        binary,
		restartDelay:  restartDelay,
		socketDir:     socketDir,
		acceptTimeout: 10 * time.Second,
		log:           log.With().Str("component", "workerpool").Logger(),
		instances:     make(map[string]*instance),
		healthCfg:     health.DefaultConfig(),
		health:        make(map[string]*health.Status),
	}
}

// Start spawns every instance named in specs and supervises them until
// Stop is called.
func (s *Supervisor) Start(specs []ProcessSpec) error {
	if err := os.MkdirAll(s.socketDir, 0700); err != nil {
		return fmt.Errorf("create command socket dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	for _, spec := range specs {
		for i := 0; i < spec.InstanceCount; i++ {
			s.wg.Add(1)
			go s.superviseLoop(ctx, spec.RoutingKey, i)
		}
	}
	return nil
}

// Stop gracefully stops every supervised process, escalating to
// Terminate for any still alive after timeout.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	instances := make([]*instance, 0, len(s.instances))
	for _, inst := range s.instances {
		instances = append(instances, inst)
	}
	s.mu.Unlock()

	for _, inst := range instances {
		inst.mu.Lock()
		cmd := inst.cmd
		inst.mu.Unlock()
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
	}

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		for _, inst := range instances {
			_ = s.Terminate(inst.id())
		}
		return fmt.Errorf("workerpool: %d instance(s) required forced termination", len(instances))
	}
}

// Terminate forcibly kills the named instance (routingKey/instanceID, as
// returned by listing instances via the supervisor's logs/metrics).
func (s *Supervisor) Terminate(processID string) error {
	s.mu.Lock()
	inst, ok := s.instances[processID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("workerpool: unknown process %s", processID)
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.cmd == nil || inst.cmd.Process == nil {
		return nil
	}
	return inst.cmd.Process.Kill()
}

func (s *Supervisor) superviseLoop(ctx context.Context, routingKey string, instanceID int) {
	defer s.wg.Done()

	first := true
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !first && s.OnRestart != nil {
			s.OnRestart(routingKey, instanceID)
		}
		first = false

		err := s.runOnce(ctx, routingKey, instanceID)
		if err != nil {
			s.log.Error().Err(err).Str("routing_key", routingKey).Int("instance", instanceID).Msg("worker instance exited")
		}
		if ctx.Err() == nil {
			s.recordExit(routingKey, instanceID, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.restartDelay):
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, routingKey string, instanceID int) error {
	inst := &instance{routingKey: routingKey, instanceID: instanceID, socketPath: s.socketPath(routingKey, instanceID)}

	_ = os.Remove(inst.socketPath)
	listener, err := net.Listen("unix", inst.socketPath)
	if err != nil {
		return fmt.Errorf("listen on command socket: %w", err)
	}
	defer listener.Close()
	defer os.Remove(inst.socketPath)

	cmd := exec.Command(s.binary, "worker", "run",
		"--consumer", routingKey,
		"--instance-id", fmt.Sprintf("%d", instanceID),
		"--command-socket", inst.socketPath,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker process: %w", err)
	}
	inst.mu.Lock()
	inst.cmd = cmd
	inst.mu.Unlock()

	s.mu.Lock()
	s.instances[inst.id()] = inst
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.instances, inst.id())
		s.mu.Unlock()
	}()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := listener.Accept()
		acceptCh <- acceptResult{conn, err}
	}()

	select {
	case res := <-acceptCh:
		if res.err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return fmt.Errorf("accept command channel: %w", res.err)
		}
		inst.mu.Lock()
		inst.channel = cmdchannel.New(res.conn)
		inst.mu.Unlock()
	case <-time.After(s.acceptTimeout):
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("worker instance never connected its command channel within %s", s.acceptTimeout)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return ctx.Err()
	}

	return cmd.Wait()
}

// recordExit feeds one worker-process exit into that instance's crash-loop
// health status, logging once when it crosses the consecutive-failure
// threshold rather than on every individual restart.
func (s *Supervisor) recordExit(routingKey string, instanceID int, exitErr error) {
	id := fmt.Sprintf("%s/%d", routingKey, instanceID)
	message := "clean exit"
	if exitErr != nil {
		message = exitErr.Error()
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	st, ok := s.health[id]
	if !ok {
		st = health.NewStatus()
		s.health[id] = st
	}
	wasHealthy := st.Healthy
	st.Update(health.Result{Healthy: false, Message: message, CheckedAt: time.Now()}, s.healthCfg)
	if wasHealthy && !st.Healthy {
		s.log.Error().Str("routing_key", routingKey).Int("instance", instanceID).
			Int("consecutive_failures", st.ConsecutiveFailures).
			Msg("worker instance crash-looping: exceeded consecutive-failure threshold")
	}
}

// HealthStatus reports the crash-loop health of a supervised instance, for
// use by a readiness/health endpoint.
func (s *Supervisor) HealthStatus(routingKey string, instanceID int) (health.Status, bool) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	st, ok := s.health[fmt.Sprintf("%s/%d", routingKey, instanceID)]
	if !ok {
		return health.Status{}, false
	}
	return *st, true
}

func (s *Supervisor) socketPath(routingKey string, instanceID int) string {
	return filepath.Join(s.socketDir, fmt.Sprintf("%s-%d.sock", routingKey, instanceID))
}

// Channel returns the Command Channel currently wired to the named
// instance, if its process is up and has connected.
func (s *Supervisor) Channel(routingKey string, instanceID int) (*cmdchannel.Channel, bool) {
	s.mu.Lock()
	inst, ok := s.instances[fmt.Sprintf("%s/%d", routingKey, instanceID)]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.channel, inst.channel != nil
}
