package main

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/raytheonbbn/iron-bpf/internal/config"
	"github.com/raytheonbbn/iron-bpf/internal/forwarder"
	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
	"github.com/raytheonbbn/iron-bpf/internal/pathctl"
)

// selfBin is this node's own bin id, stamped into forwarded packets'
// history vectors. spec.md §6 names no "self bin id" configuration key,
// so by convention this daemon always occupies bin 0 and assigns its
// configured path controllers bins 1..N in PathControllers order.
const selfBin ironpkt.BinId = 0

// sondPacketPoolSize is the packet pool size each SOND path controller
// draws raw-socket receive buffers from.
const sondPacketPoolSize = 256

// builtControllers holds the live path controllers constructed from
// configuration, paired with their forwarder-facing Neighbor wrapper and
// anything that needs closing on shutdown.
type builtControllers struct {
	neighbors []*forwarder.Neighbor
	closers   []func() error
}

func (b *builtControllers) closeAll() {
	for _, c := range b.closers {
		_ = c()
	}
}

// buildPathControllers constructs one pathctl.Controller per configured
// PathControllerConfig entry and registers it with binMap, returning the
// forwarder-ready Neighbor wrappers.
func buildPathControllers(ctx context.Context, binMap *ironpkt.BinMap, pcs []config.PathControllerConfig) (*builtControllers, error) {
	built := &builtControllers{}

	for i, pc := range pcs {
		if pc.Type != "" && pc.Type != config.DefaultPathControllerType {
			return nil, fmt.Errorf("pathcontroller[%d]: unsupported type %q", i, pc.Type)
		}

		label := pc.Label
		if label == "" {
			label = fmt.Sprintf("pc%d", i)
		}

		local, remote, err := config.ParseEndpoints(pc.Endpoints)
		if err != nil {
			return nil, fmt.Errorf("pathcontroller[%d] %s: %w", i, label, err)
		}

		localAddrPort, err := netip.ParseAddrPort(local)
		if err != nil {
			return nil, fmt.Errorf("pathcontroller[%d] %s: parse local %q: %w", i, label, local, err)
		}
		remoteAddrPort, err := netip.ParseAddrPort(remote)
		if err != nil {
			return nil, fmt.Errorf("pathcontroller[%d] %s: parse remote %q: %w", i, label, remote, err)
		}

		writer, err := pathctl.NewRawIPWriter(ctx, localAddrPort.Addr(), remoteAddrPort.Addr())
		if err != nil {
			return nil, fmt.Errorf("pathcontroller[%d] %s: open raw socket: %w", i, label, err)
		}

		pool := ironpkt.NewPool(sondPacketPoolSize)
		sond := pathctl.NewSond(pathctl.SondConfig{MaxLineRateKbps: pc.MaxLineRateKbps}, pool, writer)
		if err := sond.Initialize(label); err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("pathcontroller[%d] %s: initialize: %w", i, label, err)
		}

		binID := ironpkt.BinId(i + 1)
		binIdx, err := binMap.AddUnicastBin(binID)
		if err != nil {
			_ = sond.Close()
			return nil, fmt.Errorf("pathcontroller[%d] %s: add bin: %w", i, label, err)
		}
		sond.SetRemoteBin(binID, binIdx)

		built.neighbors = append(built.neighbors, forwarder.NewNeighbor(label, sond, binIdx))
		built.closers = append(built.closers, sond.Close)
	}

	return built, nil
}
