package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devpool-project/devpool-go/pkg/device"
)

// tickListener counts StateUpdated notifications.
type tickListener struct {
	ch chan struct{}
}

func (l tickListener) StateUpdated() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// setupFastbootManager builds a manager with fastboot detected and a fast
// polling interval.
func setupFastbootManager(t *testing.T) *testEnv {
	t.Helper()
	return setupManager(t, nil, func(o *Options, ex *scriptedExecutor) {
		ex.reset("fastboot help")
		ex.script("fastboot help", okResult(""))
		o.FastbootPollInterval = 20 * time.Millisecond
	})
}

func TestFastbootProbe_UsageOnStderrCountsAsPresent(t *testing.T) {
	env := setupManager(t, nil, func(o *Options, ex *scriptedExecutor) {
		ex.reset("fastboot help")
		ex.script("fastboot help", failResult("usage: fastboot [OPTION...] COMMAND"))
	})
	err := env.m.AddFastbootListener(tickListener{ch: make(chan struct{}, 1)})
	assert.NoError(t, err)
}

func TestFastbootMonitor_SkipsTicksWithoutSubscribers(t *testing.T) {
	env := setupFastbootManager(t)

	time.Sleep(100 * time.Millisecond)
	// Only the init-time enumeration ran.
	assert.Equal(t, 1, env.exec.callCount("fastboot devices"))
}

func TestFastbootMonitor_ReclassifiesAllocatedDevices(t *testing.T) {
	env := setupFastbootManager(t)

	env.br.connect("FB01", device.StateOnline)
	d, err := env.m.AllocateTimeout(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "FB01", d.Serial())

	// Next enumeration sees FB01 in fastboot, the ones after see nothing.
	env.exec.script("fastboot devices", okResult("FB01\tfastboot\n"))

	l := tickListener{ch: make(chan struct{}, 1)}
	require.NoError(t, env.m.AddFastbootListener(l))

	waitFor(t, 5*time.Second, "fastboot reclassification", func() bool {
		return d.State() == device.StateFastboot
	})

	// The scripted frame is consumed; the following ticks enumerate an
	// empty set and the device drops to NotAvailable.
	waitFor(t, 5*time.Second, "fastboot departure", func() bool {
		return d.State() == device.StateNotAvailable
	})

	// Subscribers were notified along the way.
	select {
	case <-l.ch:
	default:
		t.Error("fastboot listener never notified")
	}

	env.m.RemoveFastbootListener(l)
}

func TestFastbootMonitor_InitSeedsFastbootStubs(t *testing.T) {
	env := setupManager(t, nil, func(o *Options, ex *scriptedExecutor) {
		ex.reset("fastboot help")
		ex.script("fastboot help", okResult(""))
		ex.script("fastboot devices", okResult("FB99\tfastboot\n"))
	})

	d, err := env.m.AllocateMatching(time.Second, &device.Selection{Serials: []string{"FB99"}})
	require.NoError(t, err)
	assert.Equal(t, device.KindFastbootStub, d.Handle().Kind)
	assert.Equal(t, device.StateFastboot, d.State())
}

func TestListFastbootSerials_ParsesEnumeration(t *testing.T) {
	env := setupFastbootManager(t)
	env.exec.script("fastboot devices",
		okResult("FB01\tfastboot\nFB02    fastboot\nnot-a-line\n"))

	serials := env.m.listFastbootSerials()
	assert.Equal(t, []string{"FB01", "FB02"}, serials)
}
