package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	// ServiceType is the mDNS service type display hosts register under.
	ServiceType = "_devdisp._tcp"
	// ServiceDomain is the mDNS domain used for registration and browsing.
	ServiceDomain = "local."

	txtKeyName    = "name"
	txtKeyVersion = "version"

	// ProtocolVersion is advertised in TXT records so clients can skip
	// hosts speaking an incompatible protocol revision.
	ProtocolVersion = "1"
)

// HostEntry is one discovered display host.
type HostEntry struct {
	Instance string // mDNS instance name, unique per host on the network
	Name     string // human-readable display name from the TXT record
	Version  string // advertised protocol version
	Addrs    []net.IP
	Port     int
}

// Addr returns a dialable host:port, preferring IPv4.
func (e *HostEntry) Addr() string {
	for _, ip := range e.Addrs {
		if ip.To4() != nil {
			return fmt.Sprintf("%s:%d", ip, e.Port)
		}
	}
	if len(e.Addrs) > 0 {
		return fmt.Sprintf("[%s]:%d", e.Addrs[0], e.Port)
	}
	return ""
}

// Announcer registers one display host on the local network for as long as
// it is running.
type Announcer struct {
	server *zeroconf.Server
}

// Announce registers a display host under the given instance name and
// port. displayName is what selection UIs show. Call Shutdown to withdraw
// the registration.
func Announce(instance, displayName string, port int) (*Announcer, error) {
	txt := []string{
		txtKeyName + "=" + displayName,
		txtKeyVersion + "=" + ProtocolVersion,
	}
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: registering %q: %w", instance, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Announce",
		"instance": instance,
		"port":     port,
	}).Info("Display host announced")
	return &Announcer{server: server}, nil
}

// Shutdown withdraws the registration.
func (a *Announcer) Shutdown() {
	a.server.Shutdown()
}

// Browse collects display hosts visible on the local network until ctx
// expires. Hosts advertising an unknown protocol version are logged and
// skipped.
func Browse(ctx context.Context) ([]HostEntry, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: initializing resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("discovery: browsing %s: %w", ServiceType, err)
	}

	var hosts []HostEntry
	for entry := range entries {
		host := entryToHost(entry)
		if host.Version != ProtocolVersion {
			logrus.WithFields(logrus.Fields{
				"function": "Browse",
				"instance": host.Instance,
				"version":  host.Version,
			}).Warn("Skipping host with incompatible protocol version")
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts, nil
}

func entryToHost(entry *zeroconf.ServiceEntry) HostEntry {
	host := HostEntry{
		Instance: entry.Instance,
		Port:     entry.Port,
	}
	host.Addrs = append(host.Addrs, entry.AddrIPv4...)
	host.Addrs = append(host.Addrs, entry.AddrIPv6...)

	for _, record := range entry.Text {
		key, value, found := strings.Cut(record, "=")
		if !found {
			continue
		}
		switch key {
		case txtKeyName:
			host.Name = value
		case txtKeyVersion:
			host.Version = value
		}
	}
	if host.Name == "" {
		host.Name = host.Instance
	}
	return host
}
