package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/devpool-project/devpool-go/pkg/command"
	"github.com/devpool-project/devpool-go/pkg/pool"
)

// allocateWait bounds console allocations so a typo doesn't hang the
// console forever.
const allocateWait = 30 * time.Second

// console is the interactive command loop for the agent.
type console struct {
	mgr    *pool.Manager
	runner command.Executor
	logger *slog.Logger

	mu     sync.Mutex
	leases map[string]*pool.Managed
}

func newConsole(mgr *pool.Manager, runner command.Executor, logger *slog.Logger) *console {
	return &console{
		mgr:    mgr,
		runner: runner,
		logger: logger,
		leases: make(map[string]*pool.Managed),
	}
}

// Run starts the interactive command loop.
func (c *console) Run(ctx context.Context, cancel context.CancelFunc) {
	reader := bufio.NewReader(os.Stdin)

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("\ndevpool> ")
		input, err := reader.ReadString('\n')
		if err != nil {
			continue
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "devices", "d":
			c.cmdDevices()

		case "allocate", "a":
			c.cmdAllocate(args)

		case "free", "f":
			c.cmdFree(args)

		case "connect", "c":
			c.cmdConnect(args)

		case "launch", "l":
			c.cmdLaunch(args)

		case "quit", "q", "exit":
			cancel()
			return

		default:
			fmt.Printf("Unknown command %q - try 'help'\n", cmd)
		}
	}
}

func (c *console) printHelp() {
	fmt.Print(`Commands:
  devices                 show pool state
  allocate [serial]       lease a device (any, or by serial)
  free <serial> [state]   return a lease (available|unresponsive|unavailable|ignore)
  connect <host:port>     attach a TCP device
  launch <serial> <args>  boot the emulator backing an allocated slot
  quit                    shut down
`)
}

func (c *console) cmdDevices() {
	fmt.Println("Available:")
	for _, h := range c.mgr.AvailableDevices() {
		fmt.Printf("  %s\n", describeHandle(h))
	}
	fmt.Printf("  (%d entries in pool including stubs)\n", c.mgr.AvailableCount())
	fmt.Println("Allocated:")
	for _, d := range c.mgr.AllocatedDevices() {
		fmt.Printf("  %-24s %-14s lease %s\n", d.Serial(), d.State(), d.LeaseID())
	}
	fmt.Println("Unavailable:")
	for _, h := range c.mgr.UnavailableDevices() {
		fmt.Printf("  %s\n", describeHandle(h))
	}
}

func (c *console) cmdAllocate(args []string) {
	var (
		d   *pool.Managed
		err error
	)
	if len(args) > 0 {
		d, err = c.mgr.ForceAllocate(args[0])
	} else {
		d, err = c.mgr.AllocateTimeout(allocateWait)
	}
	if err != nil {
		fmt.Printf("Allocation failed: %v\n", err)
		return
	}
	c.mu.Lock()
	c.leases[d.Serial()] = d
	c.mu.Unlock()
	fmt.Printf("Allocated %s (lease %s)\n", d.Serial(), d.LeaseID())
}

func (c *console) cmdFree(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: free <serial> [state]")
		return
	}
	c.mu.Lock()
	d, ok := c.leases[args[0]]
	if ok {
		delete(c.leases, args[0])
	}
	c.mu.Unlock()
	if !ok {
		fmt.Printf("No console lease for %s\n", args[0])
		return
	}

	state := pool.FreeAvailable
	if len(args) > 1 {
		switch strings.ToLower(args[1]) {
		case "available":
			state = pool.FreeAvailable
		case "unresponsive":
			state = pool.FreeUnresponsive
		case "unavailable":
			state = pool.FreeUnavailable
		case "ignore":
			state = pool.FreeIgnore
		default:
			fmt.Printf("Unknown free state %q\n", args[1])
			return
		}
	}
	if err := c.mgr.Free(d, state); err != nil {
		fmt.Printf("Free failed: %v\n", err)
		return
	}
	fmt.Printf("Freed %s (%s)\n", args[0], state)
}

func (c *console) cmdConnect(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: connect <host:port>")
		return
	}
	d, err := c.mgr.ConnectToTCPDevice(args[0])
	if err != nil {
		fmt.Printf("Connect failed: %v\n", err)
		return
	}
	c.mu.Lock()
	c.leases[d.Serial()] = d
	c.mu.Unlock()
	fmt.Printf("Connected %s (lease %s)\n", d.Serial(), d.LeaseID())
}

func (c *console) cmdLaunch(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: launch <serial> <emulator> [args...]")
		return
	}
	c.mu.Lock()
	d, ok := c.leases[args[0]]
	c.mu.Unlock()
	if !ok {
		fmt.Printf("No console lease for %s - allocate it first\n", args[0])
		return
	}
	if err := c.mgr.LaunchEmulator(d, 2*time.Minute, c.runner, args[1:]); err != nil {
		fmt.Printf("Launch failed: %v\n", err)
		return
	}
	fmt.Printf("Emulator %s booted\n", args[0])
}
