// Package discovery browses mDNS for TCP-debuggable Android devices.
//
// Devices with wireless debugging enabled advertise _adb-tls-connect._tcp
// (and older builds _adb._tcp) on the local network. The browser surfaces
// these as connect candidates; the pool attaches to a candidate with
// Manager.ConnectToTCPDevice. Discovery never feeds the pool directly -
// attaching stays an explicit operation.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service types advertised by Android wireless debugging.
const (
	// ServiceTypeTLSConnect is advertised by modern devices.
	ServiceTypeTLSConnect = "_adb-tls-connect._tcp"

	// ServiceTypePlain is advertised by older builds.
	ServiceTypePlain = "_adb._tcp"

	// Domain is the mDNS domain to browse.
	Domain = "local"
)

// Candidate is a TCP-debuggable device observed on the network.
type Candidate struct {
	// InstanceName is the advertised service instance (usually
	// "adb-<serial>-<suffix>").
	InstanceName string

	// Host is the advertised hostname.
	Host string

	// Port is the adbd listening port.
	Port int

	// Addresses are the resolved IP addresses.
	Addresses []string
}

// HostPort returns the "host:port" string to hand to ConnectToTCPDevice.
// Prefers the first resolved address over the hostname.
func (c *Candidate) HostPort() string {
	host := c.Host
	if len(c.Addresses) > 0 {
		host = c.Addresses[0]
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", c.Port))
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Interface specifies which network interface to browse on.
	// Empty string means all interfaces.
	Interface string

	// IncludePlain also browses the legacy _adb._tcp service type.
	IncludePlain bool
}

// Browser discovers TCP connect candidates via mDNS.
type Browser struct {
	config BrowserConfig

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewBrowser creates a browser with the given configuration.
func NewBrowser(config BrowserConfig) *Browser {
	return &Browser{config: config}
}

// Browse starts browsing and returns added/removed candidate channels.
// Both channels are closed when the context is cancelled or Stop is
// called.
func (b *Browser) Browse(ctx context.Context) (added, removed <-chan Candidate, err error) {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	addedOut := make(chan Candidate)
	removedOut := make(chan Candidate)

	services := []string{ServiceTypeTLSConnect}
	if b.config.IncludePlain {
		services = append(services, ServiceTypePlain)
	}

	var wg sync.WaitGroup
	for _, service := range services {
		entries := make(chan *zeroconf.ServiceEntry)
		removedEntries := make(chan *zeroconf.ServiceEntry)

		wg.Add(1)
		go func() {
			defer wg.Done()
			forwardEntries(ctx, entries, addedOut)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			forwardEntries(ctx, removedEntries, removedOut)
		}()

		wg.Add(1)
		go func(service string) {
			defer wg.Done()
			_ = zeroconf.Browse(ctx, service, Domain, entries, removedEntries, b.browserOptions()...)
		}(service)
	}

	go func() {
		wg.Wait()
		close(addedOut)
		close(removedOut)
	}()

	return addedOut, removedOut, nil
}

// Stop cancels any active browse.
func (b *Browser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// browserOptions returns zeroconf client options based on config.
func (b *Browser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		if iface, err := net.InterfaceByName(b.config.Interface); err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// forwardEntries translates zeroconf entries to candidates until the
// source channel closes or the context ends.
func forwardEntries(ctx context.Context, in <-chan *zeroconf.ServiceEntry, out chan<- Candidate) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-in:
			if !ok {
				return
			}
			if entry == nil {
				continue
			}
			select {
			case out <- entryToCandidate(entry):
			case <-ctx.Done():
				return
			}
		}
	}
}

// entryToCandidate converts a zeroconf entry to a Candidate.
func entryToCandidate(entry *zeroconf.ServiceEntry) Candidate {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return Candidate{
		InstanceName: entry.Instance,
		Host:         entry.HostName,
		Port:         entry.Port,
		Addresses:    addrs,
	}
}
