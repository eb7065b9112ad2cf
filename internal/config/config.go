// Package config parses each subcommand's command-line flags, with an
// optional YAML overlay for the ambient settings (status refresh period,
// opus relay target, log verbosity).
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Overlay holds the ambient settings an optional --config YAML file can
// supply. Every field is optional; zero values mean "use the flag/compiled
// default instead".
type Overlay struct {
	LogLevel       string `yaml:"log_level"`
	StatusInterval int    `yaml:"status_interval_ms"`
	OpusRelay      string `yaml:"opus_relay"`
	OpusBitrate    int    `yaml:"opus_bitrate"`
}

func loadOverlay(path string) (Overlay, error) {
	var o Overlay
	if path == "" {
		return o, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return o, nil
}

// Ambient holds the settings shared by both subcommands.
type Ambient struct {
	LogLevel       string
	StatusInterval time.Duration
}

func (a *Ambient) applyOverlay(o Overlay) {
	if o.LogLevel != "" {
		a.LogLevel = o.LogLevel
	}
	if o.StatusInterval > 0 {
		a.StatusInterval = time.Duration(o.StatusInterval) * time.Millisecond
	}
}

// Receive holds the parsed configuration for `meshcast receive`.
type Receive struct {
	Group       netip.Addr
	Port        uint16
	Bind        netip.Addr
	Iface       string
	MaxSeqGap   int
	OpusRelay   string
	OpusBitrate int
	Ambient
}

// ParseReceive parses os.Args[2:] (the subcommand's own flags) plus an
// optional --config overlay into a Receive configuration.
func ParseReceive(args []string) (Receive, error) {
	fs := pflag.NewFlagSet("receive", pflag.ContinueOnError)

	group := fs.StringP("group", "g", "", "multicast group address (required)")
	port := fs.Uint16P("port", "p", 0, "multicast port (required)")
	bind := fs.StringP("bind", "b", "0.0.0.0", "local address to bind the socket to; the group is joined on --iface, not on this address")
	iface := fs.String("iface", "", "multicast interface name, alternative to --bind")
	maxSeqGap := fs.Int("max-seq-gap", 12, "reorder window size in packets")
	configPath := fs.String("config", "", "optional YAML overlay for ambient settings")
	logLevel := fs.String("log-level", "info", "debug|info|warn|error")
	statusMS := fs.Int("status-interval", 500, "terminal status refresh period in milliseconds")
	opusRelay := fs.String("opus-relay", "", "optional addr:port to relay a low-bandwidth Opus-encoded monitor feed to")
	opusBitrate := fs.Int("opus-bitrate", 32000, "bitrate for --opus-relay, in bits/sec")

	if err := fs.Parse(args); err != nil {
		return Receive{}, err
	}

	if *group == "" {
		return Receive{}, errors.New("config: --group is required")
	}
	if *port == 0 {
		return Receive{}, errors.New("config: --port is required")
	}

	groupAddr, err := netip.ParseAddr(*group)
	if err != nil {
		return Receive{}, fmt.Errorf("config: --group: %w", err)
	}
	bindAddr, err := netip.ParseAddr(*bind)
	if err != nil {
		return Receive{}, fmt.Errorf("config: --bind: %w", err)
	}

	r := Receive{
		Group:       groupAddr,
		Port:        *port,
		Bind:        bindAddr,
		Iface:       *iface,
		MaxSeqGap:   *maxSeqGap,
		OpusRelay:   *opusRelay,
		OpusBitrate: *opusBitrate,
		Ambient: Ambient{
			LogLevel:       *logLevel,
			StatusInterval: time.Duration(*statusMS) * time.Millisecond,
		},
	}

	overlay, err := loadOverlay(*configPath)
	if err != nil {
		return Receive{}, err
	}
	r.Ambient.applyOverlay(overlay)
	if overlay.OpusRelay != "" {
		r.OpusRelay = overlay.OpusRelay
	}
	if overlay.OpusBitrate > 0 {
		r.OpusBitrate = overlay.OpusBitrate
	}

	return r, nil
}

// Stream holds the parsed configuration for `meshcast stream`.
type Stream struct {
	Group   netip.Addr
	Port    uint16
	Bind    netip.Addr
	DelayMS uint64
	TTL     int
	Ambient
}

// ParseStream parses os.Args[2:] into a Stream configuration.
func ParseStream(args []string) (Stream, error) {
	fs := pflag.NewFlagSet("stream", pflag.ContinueOnError)

	group := fs.StringP("group", "g", "", "multicast group address (required)")
	port := fs.Uint16P("port", "p", 0, "multicast port (required)")
	bind := fs.StringP("bind", "b", "0.0.0.0", "local address to send from")
	delayMS := fs.Uint64("delay-ms", 20, "capture-to-presentation delay, in milliseconds")
	ttl := fs.Int("ttl", 4, "multicast TTL")
	configPath := fs.String("config", "", "optional YAML overlay for ambient settings")
	logLevel := fs.String("log-level", "info", "debug|info|warn|error")
	statusMS := fs.Int("status-interval", 500, "terminal status refresh period in milliseconds")

	if err := fs.Parse(args); err != nil {
		return Stream{}, err
	}

	if *group == "" {
		return Stream{}, errors.New("config: --group is required")
	}
	if *port == 0 {
		return Stream{}, errors.New("config: --port is required")
	}

	groupAddr, err := netip.ParseAddr(*group)
	if err != nil {
		return Stream{}, fmt.Errorf("config: --group: %w", err)
	}
	bindAddr, err := netip.ParseAddr(*bind)
	if err != nil {
		return Stream{}, fmt.Errorf("config: --bind: %w", err)
	}

	s := Stream{
		Group:   groupAddr,
		Port:    *port,
		Bind:    bindAddr,
		DelayMS: *delayMS,
		TTL:     *ttl,
		Ambient: Ambient{
			LogLevel:       *logLevel,
			StatusInterval: time.Duration(*statusMS) * time.Millisecond,
		},
	}

	overlay, err := loadOverlay(*configPath)
	if err != nil {
		return Stream{}, err
	}
	s.Ambient.applyOverlay(overlay)

	return s, nil
}
