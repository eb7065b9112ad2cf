// Command meshcast is the low-latency synchronized multicast audio
// broadcast tool: `meshcast stream` captures and broadcasts; `meshcast
// receive` joins a group and plays back in phase with every other
// receiver.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/meshcast/meshcast/internal/audiohost"
	"github.com/meshcast/meshcast/internal/codec"
	"github.com/meshcast/meshcast/internal/config"
	"github.com/meshcast/meshcast/internal/mcast"
	"github.com/meshcast/meshcast/internal/nodeid"
	"github.com/meshcast/meshcast/internal/proto"
	"github.com/meshcast/meshcast/internal/receiver"
	"github.com/meshcast/meshcast/internal/source"
	"github.com/meshcast/meshcast/internal/status"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: meshcast <stream|receive> [flags]")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "stream":
		err = runStream(ctx, os.Args[2:])
	case "receive":
		err = runReceive(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "usage: meshcast <stream|receive> [flags], got %q\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil && ctx.Err() == nil {
		slog.Error("meshcast exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func resolveInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	return net.InterfaceByName(name)
}

func runReceive(ctx context.Context, args []string) error {
	cfg, err := config.ParseReceive(args)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	iface, err := resolveInterface(cfg.Iface)
	if err != nil {
		return fmt.Errorf("resolve --iface: %w", err)
	}

	conn, err := mcast.JoinReceiver(cfg.Group, cfg.Port, cfg.Bind, iface)
	if err != nil {
		return fmt.Errorf("join multicast group: %w", err)
	}
	defer conn.Close()

	if err := audiohost.Init(); err != nil {
		return err
	}
	defer audiohost.Terminate()

	st := status.New(cfg.StatusInterval)
	recv := receiver.New(receiver.Options{MaxSeqGap: cfg.MaxSeqGap}, st)

	var relay *codec.Encoder
	var relayAddr *net.UDPAddr
	var relayConn *net.UDPConn
	if cfg.OpusRelay != "" {
		relay, err = codec.NewEncoder(cfg.OpusBitrate)
		if err != nil {
			return fmt.Errorf("opus relay: %w", err)
		}
		relayAddr, err = net.ResolveUDPAddr("udp4", cfg.OpusRelay)
		if err != nil {
			return fmt.Errorf("opus relay address: %w", err)
		}
		relayConn, err = net.ListenUDP("udp4", nil)
		if err != nil {
			return fmt.Errorf("opus relay socket: %w", err)
		}
		defer relayConn.Close()
		logger.Info("opus monitor relay enabled", "addr", cfg.OpusRelay)
	}

	output, err := audiohost.OpenOutput(proto.FramesPerPacket, func(data []float32, timing audiohost.Timing) {
		now := proto.Now()
		pts := now.Add(timing.OutputLatency)
		recv.FillOutput(data, pts)

		if relay != nil {
			for _, frame := range relay.Push(data) {
				_, _ = relayConn.WriteToUDP(frame, relayAddr)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	defer output.Close()

	if err := output.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	defer output.Stop()

	logger.Info("receiving", "group", cfg.Group, "port", cfg.Port, "max_seq_gap", cfg.MaxSeqGap)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, proto.AudioPacketSize)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("read error", "error", err)
			continue
		}
		recv.OnPacket(buf[:n], func(payload []byte) {
			_ = conn.SendTo(payload, peer)
		})
	}
}

func runStream(ctx context.Context, args []string) error {
	cfg, err := config.ParseStream(args)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	conn, err := mcast.OpenSource(cfg.Bind, cfg.Group, cfg.Port, cfg.TTL)
	if err != nil {
		return fmt.Errorf("open source socket: %w", err)
	}
	defer conn.Close()

	if err := audiohost.Init(); err != nil {
		return err
	}
	defer audiohost.Terminate()

	src := source.New(source.Options{
		Delay: time.Duration(cfg.DelayMS) * time.Millisecond,
		Node:  nodeid.Get(),
	})
	logger.Info("streaming", "group", cfg.Group, "port", cfg.Port, "sid", src.SID())

	input, err := audiohost.OpenInput(proto.FramesPerPacket, func(data []float32) {
		src.OnAudioFrames(data, conn)
	})
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	defer input.Close()

	cadence := time.NewTicker(200 * time.Millisecond)
	defer cadence.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-cadence.C:
				_ = conn.Broadcast(src.EmitOrigin())
			}
		}
	}()

	if err := input.Start(); err != nil {
		return fmt.Errorf("start input stream: %w", err)
	}
	defer input.Stop()

	takeover := make(chan struct{})
	go func() {
		buf := make([]byte, proto.AudioPacketSize)
		for {
			n, peer, err := conn.ReadFrom(buf)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("read error", "error", err)
				continue
			}
			if src.OnPacket(buf[:n], func(payload []byte) { _ = conn.SendTo(payload, peer) }) {
				close(takeover)
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-takeover:
		logger.Info("another source has taken over the group, exiting")
	}

	return nil
}
