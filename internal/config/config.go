// Package config parses the daemon's command-line surface and an optional
// static .ini file of SAP defaults and named peers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/hfradio/stanag5066d/pkg/transport"
)

// ListenerSpec is one parsed "-p <proto>:<iface>:<port>" argument.
type ListenerSpec struct {
	Proto transport.ProtoTag
	Iface string
	Port  int
}

// PeerDirective is an outbound connection to initiate at startup, either
// from a positional "<proto>:<host>:<port>" argument or a named [peer.*]
// section in the static config file.
type PeerDirective struct {
	Proto transport.ProtoTag
	Host  string
	Port  int
}

// SAPDefault is a [sap.N] section's rank and service-type default,
// applied when a client binds that SAP index without specifying its own.
type SAPDefault struct {
	Rank        byte
	ServiceType uint16
}

// Config holds everything parsed from the command line plus whatever a
// -config file supplied.
type Config struct {
	Listeners []ListenerSpec
	Peers     []PeerDirective

	UID *int
	GID *int

	PIDFile   string
	Verbosity int

	ConfigFile string

	SAPDefaults map[int]SAPDefault
	NamedPeers  map[string]PeerDirective
}

// Parse builds a Config from args (typically os.Args[1:]). It does not
// read the static config file itself — call Load separately once
// ConfigFile is known, mirroring the way bootstrap first resolves the CLI
// surface, then layers file-based defaults on top.
func Parse(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("stanag5066d", pflag.ContinueOnError)

	listenerSpecs := fs.StringArrayP("listen", "p", nil, "listener spec <proto>:<iface>:<port>, repeatable")
	uidStr := fs.String("uid", "", "drop privileges to this uid after bind")
	gidStr := fs.String("gid", "", "drop privileges to this gid after bind")
	pidFile := fs.String("pidfile", "", "write the daemon's pid to this file")
	verbosity := fs.CountP("verbose", "v", "increase log verbosity, repeatable")
	configFile := fs.String("config", "", "optional static .ini config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: stanag5066d [options] [peer-directive ...]\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		PIDFile:     *pidFile,
		Verbosity:   *verbosity,
		ConfigFile:  *configFile,
		SAPDefaults: map[int]SAPDefault{},
		NamedPeers:  map[string]PeerDirective{},
	}

	for _, raw := range *listenerSpecs {
		spec, err := parseListenerSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("config: -p %q: %w", raw, err)
		}
		cfg.Listeners = append(cfg.Listeners, spec)
	}

	if *uidStr != "" {
		uid, err := strconv.Atoi(*uidStr)
		if err != nil {
			return nil, fmt.Errorf("config: -uid %q: %w", *uidStr, err)
		}
		cfg.UID = &uid
	}
	if *gidStr != "" {
		gid, err := strconv.Atoi(*gidStr)
		if err != nil {
			return nil, fmt.Errorf("config: -gid %q: %w", *gidStr, err)
		}
		cfg.GID = &gid
	}

	for _, raw := range fs.Args() {
		peer, err := parsePeerDirective(raw)
		if err != nil {
			return nil, fmt.Errorf("config: peer directive %q: %w", raw, err)
		}
		cfg.Peers = append(cfg.Peers, peer)
	}

	return cfg, nil
}

func protoFromToken(tok string) (transport.ProtoTag, error) {
	switch tok {
	case "sis":
		return transport.ProtoSIS, nil
	case "dts":
		return transport.ProtoDTS, nil
	case "smtp":
		return transport.ProtoSMTP, nil
	case "http":
		return transport.ProtoHTTP, nil
	case "test_ping":
		return transport.ProtoTestPing, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", tok)
	}
}

func parseListenerSpec(raw string) (ListenerSpec, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return ListenerSpec{}, fmt.Errorf("expected <proto>:<iface>:<port>")
	}
	proto, err := protoFromToken(parts[0])
	if err != nil {
		return ListenerSpec{}, err
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return ListenerSpec{}, fmt.Errorf("bad port %q: %w", parts[2], err)
	}
	return ListenerSpec{Proto: proto, Iface: parts[1], Port: port}, nil
}

func parsePeerDirective(raw string) (PeerDirective, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return PeerDirective{}, fmt.Errorf("expected <proto>:<host>:<port>")
	}
	proto, err := protoFromToken(parts[0])
	if err != nil {
		return PeerDirective{}, err
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return PeerDirective{}, fmt.Errorf("bad port %q: %w", parts[2], err)
	}
	return PeerDirective{Proto: proto, Host: parts[1], Port: port}, nil
}
