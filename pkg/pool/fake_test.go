package pool

import (
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devpool-project/devpool-go/pkg/bridge"
	"github.com/devpool-project/devpool-go/pkg/command"
	"github.com/devpool-project/devpool-go/pkg/device"
)

// fakeBridge is a scriptable bridge. Event-firing helpers dispatch to
// listeners synchronously, standing in for the bridge event goroutine.
type fakeBridge struct {
	mu           sync.Mutex
	listeners    []bridge.Listener
	devices      map[string]*device.Handle
	initialized  bool
	terminated   bool
	disconnected bool
	timeout      time.Duration
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{devices: make(map[string]*device.Handle)}
}

func (b *fakeBridge) Init(clientSupport bool, adbPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = true
	return nil
}

func (b *fakeBridge) Terminate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminated = true
}

func (b *fakeBridge) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected = true
}

func (b *fakeBridge) Devices() []*device.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*device.Handle, 0, len(b.devices))
	for _, h := range b.devices {
		out = append(out, h)
	}
	return out
}

func (b *fakeBridge) AddListener(l bridge.Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

func (b *fakeBridge) RemoveListener(l bridge.Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.listeners {
		if existing == l {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

func (b *fakeBridge) SetTimeout(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeout = d
}

func (b *fakeBridge) snapshot() []bridge.Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bridge.Listener, len(b.listeners))
	copy(out, b.listeners)
	return out
}

func (b *fakeBridge) connect(serial string, state device.State) {
	h := device.NewHandle(serial, state)
	b.mu.Lock()
	b.devices[serial] = h
	b.mu.Unlock()
	for _, l := range b.snapshot() {
		l.DeviceConnected(h)
	}
}

func (b *fakeBridge) change(serial string, state device.State) {
	h := device.NewHandle(serial, state)
	b.mu.Lock()
	b.devices[serial] = h
	b.mu.Unlock()
	for _, l := range b.snapshot() {
		l.DeviceChanged(h, bridge.ChangeState)
	}
}

func (b *fakeBridge) disconnect(serial string) {
	b.mu.Lock()
	h, ok := b.devices[serial]
	delete(b.devices, serial)
	b.mu.Unlock()
	if !ok {
		h = device.NewHandle(serial, device.StateNotAvailable)
	}
	for _, l := range b.snapshot() {
		l.DeviceDisconnected(h)
	}
}

var _ bridge.Bridge = (*fakeBridge)(nil)

// scriptedExecutor answers commands from queued canned results, keyed by
// the joined argv. Unscripted commands succeed with empty output.
// Background spawns are real (a sleeping child) so process ownership and
// kills behave.
type scriptedExecutor struct {
	mu        sync.Mutex
	responses map[string][]*command.Result
	calls     []string
	spawned   []*exec.Cmd
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{responses: make(map[string][]*command.Result)}
}

// script queues results for the given argv, returned in order. Once the
// queue drains, the command falls back to the default empty success.
func (e *scriptedExecutor) script(key string, results ...*command.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses[key] = append(e.responses[key], results...)
}

// reset drops any queued results for the given argv.
func (e *scriptedExecutor) reset(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.responses, key)
}

func (e *scriptedExecutor) pop(args []string) *command.Result {
	key := strings.Join(args, " ")
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, key)
	if queue := e.responses[key]; len(queue) > 0 {
		res := queue[0]
		e.responses[key] = queue[1:]
		return res
	}
	return &command.Result{Status: command.StatusSuccess}
}

func (e *scriptedExecutor) callCount(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c == key {
			n++
		}
	}
	return n
}

func (e *scriptedExecutor) RunTimedCmd(_ time.Duration, args ...string) *command.Result {
	return e.pop(args)
}

func (e *scriptedExecutor) RunTimedCmdWithInput(_ time.Duration, _ string, args ...string) *command.Result {
	return e.pop(args)
}

func (e *scriptedExecutor) RunTimedCmdSilently(_ time.Duration, args ...string) *command.Result {
	return e.pop(args)
}

func (e *scriptedExecutor) RunInBackground(args ...string) (*exec.Cmd, error) {
	e.mu.Lock()
	e.calls = append(e.calls, strings.Join(args, " "))
	e.mu.Unlock()

	cmd := exec.Command("sleep", "300")
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.spawned = append(e.spawned, cmd)
	e.mu.Unlock()
	return cmd, nil
}

// killSpawned reaps every background child the executor started.
func (e *scriptedExecutor) killSpawned() {
	e.mu.Lock()
	spawned := e.spawned
	e.spawned = nil
	e.mu.Unlock()
	for _, cmd := range spawned {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
	}
}

var _ command.Executor = (*scriptedExecutor)(nil)

// failResult is a canned non-zero exit.
func failResult(stderr string) *command.Result {
	return &command.Result{Status: command.StatusFailed, Stderr: stderr, ExitCode: 1}
}

// okResult is a canned success with the given stdout.
func okResult(stdout string) *command.Result {
	return &command.Result{Status: command.StatusSuccess, Stdout: stdout}
}

// testEnv bundles a manager with its fakes.
type testEnv struct {
	m    *Manager
	br   *fakeBridge
	exec *scriptedExecutor
}

// setupManager builds an initialized manager wired to fakes. The default
// shell prober reports every device responsive; mutate overrides options
// before construction.
func setupManager(t *testing.T, globalFilter *device.Selection, mutate func(*Options, *scriptedExecutor)) *testEnv {
	t.Helper()

	ex := newScriptedExecutor()
	// Fastboot disabled unless a test scripts the probe to succeed.
	ex.script("fastboot help", failResult("not found"))

	opts := DefaultOptions()
	opts.SynchronousAdmission = true
	opts.Logger = slog.New(slog.DiscardHandler)
	opts.ShellProber = func(string, time.Duration) bool { return true }
	if mutate != nil {
		mutate(&opts, ex)
	}

	br := newFakeBridge()
	m := NewManager(opts, ex, br)
	m.admissionWait = 200 * time.Millisecond
	m.tcpRetrySleep = 10 * time.Millisecond

	if err := m.Init(globalFilter); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		m.Terminate()
		ex.killSpawned()
	})
	return &testEnv{m: m, br: br, exec: ex}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
