// Package main implements syncrd, the long-running node process: it wires
// config, identity, the discovery backend, the sync orchestrator and the
// IPC server together, per spec §6.6/§6.7.
//
// Per spec.md §1/§2, CLI entry points are external collaborators — this
// file is intentionally thin, following the teacher's cmd/bee/main.go
// dispatch-by-string-command idiom without replicating its breadth.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/5yncr/syncr/internal/logging"
	"github.com/5yncr/syncr/pkg/config"
	"github.com/5yncr/syncr/pkg/crypto"
	"github.com/5yncr/syncr/pkg/discovery"
	"github.com/5yncr/syncr/pkg/dropmeta"
	"github.com/5yncr/syncr/pkg/ipc"
	"github.com/5yncr/syncr/pkg/server"
	syncpkg "github.com/5yncr/syncr/pkg/sync"
	"github.com/5yncr/syncr/pkg/transport"
	"github.com/5yncr/syncr/pkg/transport/quic"
	"github.com/5yncr/syncr/pkg/transport/tcp"
)

func init() {
	transport.DefaultRegistry.Register("tcp", tcp.New())
	transport.DefaultRegistry.Register("quic", quic.New())
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "node_init":
		err = nodeInitCommand(os.Args[2:])
	case "run_backend":
		err = runBackendCommand(os.Args[2:])
	case "run_dht_server":
		err = runDHTServerCommand()
	case "make_tracker_configs":
		err = makeTrackerConfigsCommand(os.Args[2:])
	case "make_dht_configs":
		err = makeDHTConfigsCommand(os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`syncrd - 5yncr node daemon

Usage:
  syncrd node_init [--force]
  syncrd run_backend <ip> <port> [--backendonly] [--transport tcp|quic]
  syncrd run_dht_server
  syncrd make_tracker_configs <ip> <port>
  syncrd make_dht_configs <listen-port> [bootstrap-ip:port,...]
  syncrd help
`)
}

// nodeInitCommand generates a fresh keypair and config file under the
// default central directory (spec §6.6 "default: ~/.5yncr").
func nodeInitCommand(args []string) error {
	force := len(args) > 0 && args[0] == "--force"

	dir, err := config.DefaultCentralDir()
	if err != nil {
		return err
	}

	if _, err := os.Stat(filepath.Join(dir, config.FileName)); err == nil && !force {
		return fmt.Errorf("node already initialized at %s (use --force to overwrite)", dir)
	}

	priv, err := crypto.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}
	if err := priv.SavePrivateToFile(filepath.Join(dir, "node_key.pem")); err != nil {
		return fmt.Errorf("save private key: %w", err)
	}

	if _, err := dropmeta.NewRegistry(filepath.Join(dir, "drops")); err != nil {
		return fmt.Errorf("create drop registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "pub_keys"), 0700); err != nil {
		return fmt.Errorf("create public key cache: %w", err)
	}

	if err := config.Default(dir).Save(dir); err != nil {
		return err
	}

	fmt.Printf("Initialized node at %s\n", dir)
	return nil
}

// node bundles the long-lived components a running node needs: config,
// identity, registry, store, and the orchestrator built from them.
type node struct {
	cfg      *config.Config
	priv     *crypto.PrivateKey
	self     crypto.NodeID
	registry *dropmeta.Registry
	store    *dropmeta.Store
	orch     *syncpkg.Orchestrator
}

// loadNode assembles a node from its central directory.
func loadNode(dir string) (*node, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	priv, err := crypto.LoadPrivateFromFile(filepath.Join(dir, "node_key.pem"))
	if err != nil {
		return nil, fmt.Errorf("load node key: %w", err)
	}
	self, err := priv.Public().NodeID()
	if err != nil {
		return nil, fmt.Errorf("derive node id: %w", err)
	}

	registry, err := dropmeta.NewRegistry(filepath.Join(dir, "drops"))
	if err != nil {
		return nil, err
	}
	store, err := dropmeta.NewStore()
	if err != nil {
		return nil, err
	}

	var pks discovery.PublicKeyStore
	var dps discovery.DropPeerStore
	switch cfg.Backend {
	case config.BackendTracker:
		ts := discovery.NewTrackerStore(cfg.TrackerHost, cfg.TrackerPort)
		pks, dps = ts, ts
	default:
		return nil, fmt.Errorf("unsupported discovery backend %q for this daemon build", cfg.Backend)
	}

	orch := syncpkg.New(registry, store, pks, dps, self)
	return &node{cfg: cfg, priv: priv, self: self, registry: registry, store: store, orch: orch}, nil
}

// runBackendCommand starts the peer wire-protocol listener (spec §4.6) on
// ip:port, and unless --backendonly is given, also starts the local IPC
// server and the sync queue worker pool.
func runBackendCommand(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: syncrd run_backend <ip> <port> [--backendonly] [--transport tcp|quic]")
	}
	ip := args[0]
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", args[1], err)
	}

	backendOnly := false
	transportName := "tcp"
	for i := 2; i < len(args); i++ {
		switch args[i] {
		case "--backendonly":
			backendOnly = true
		case "--transport":
			if i+1 >= len(args) {
				return fmt.Errorf("--transport requires a value (tcp or quic)")
			}
			i++
			transportName = args[i]
		}
	}
	tr, ok := transport.DefaultRegistry.Get(transportName)
	if !ok {
		return fmt.Errorf("unknown transport %q (known: %v)", transportName, transport.DefaultRegistry.List())
	}

	dir, err := config.DefaultCentralDir()
	if err != nil {
		return err
	}
	n, err := loadNode(dir)
	if err != nil {
		return err
	}

	log := logging.Named("syncrd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	peerSrv := server.New(n.registry, n.store)
	peerTransportLn, err := tr.Listen(ctx, net.JoinHostPort(ip, strconv.Itoa(port)), nil)
	if err != nil {
		return fmt.Errorf("listen on %s:%d via %s: %w", ip, port, transportName, err)
	}
	peerLn := transport.AsNetListener(ctx, peerTransportLn)
	go func() {
		if err := peerSrv.Serve(ctx, peerLn); err != nil && ctx.Err() == nil {
			log.Error("peer server stopped", "error", err)
		}
	}()
	log.Info("peer wire protocol listening", "addr", peerLn.Addr().String())

	if backendOnly {
		<-ctx.Done()
		return nil
	}

	go n.orch.ProcessSyncQueue(ctx)

	var dps discovery.DropPeerStore
	switch n.cfg.Backend {
	case config.BackendTracker:
		dps = discovery.NewTrackerStore(n.cfg.TrackerHost, n.cfg.TrackerPort)
	}
	if dps != nil {
		announcer := discovery.NewAnnouncer(dps, discovery.PeerEntry{NodeID: n.self, IP: ip, Port: port}, func() []dropmeta.DropID {
			ids, err := n.orch.ListDrops()
			if err != nil {
				log.Warn("failed to list drops for announcement", "error", err)
				return nil
			}
			return ids
		})
		announcer.Start(ctx)
	}

	ipcSrv := ipc.New(n.orch, n.priv, n.self)
	ipcLn, err := net.Listen("unix", filepath.Join(dir, "syncrd.sock"))
	if err != nil {
		return fmt.Errorf("listen on local IPC socket: %w", err)
	}
	go func() {
		if err := ipcSrv.Serve(ctx, ipcLn); err != nil && ctx.Err() == nil {
			log.Error("ipc server stopped", "error", err)
		}
	}()
	log.Info("ipc server listening", "addr", ipcLn.Addr().String())

	<-ctx.Done()
	return nil
}

// runDHTServerCommand is a thin pass-through to an external bootstrap DHT
// implementation: spec.md treats the DHT itself as an external
// collaborator, "used as a black-box key/value store," so this build does
// not embed one.
func runDHTServerCommand() error {
	return fmt.Errorf("run_dht_server: no bootstrap DHT implementation is embedded in this build; " +
		"point the dht backend config at an external DHT server satisfying discovery.DHT")
}

func makeTrackerConfigsCommand(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: syncrd make_tracker_configs <ip> <port>")
	}
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", args[1], err)
	}
	dir, err := config.DefaultCentralDir()
	if err != nil {
		return err
	}
	cfg := discovery.TrackerBackendConfig(args[0], port)
	if err := discovery.WriteDefaultConfigs(dir, cfg); err != nil {
		return err
	}
	fmt.Printf("PublicKeyStore Tracker Config file created at: %s\n", filepath.Join(dir, discovery.PKSConfigFileName))
	fmt.Printf("DropPeerStore Tracker Config file created at: %s\n", filepath.Join(dir, discovery.DPSConfigFileName))
	return nil
}

func makeDHTConfigsCommand(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: syncrd make_dht_configs <listen-port> [bootstrap-ip:port,...]")
	}
	listenPort, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid listen port %q: %w", args[0], err)
	}

	var ips []string
	var ports []int
	if len(args) > 1 {
		for _, pair := range splitCommaList(args[1]) {
			host, portStr, err := net.SplitHostPort(pair)
			if err != nil {
				return fmt.Errorf("invalid bootstrap peer %q: %w", pair, err)
			}
			p, err := strconv.Atoi(portStr)
			if err != nil {
				return fmt.Errorf("invalid bootstrap port in %q: %w", pair, err)
			}
			ips = append(ips, host)
			ports = append(ports, p)
		}
	}

	dir, err := config.DefaultCentralDir()
	if err != nil {
		return err
	}
	cfg := discovery.DHTBackendConfig(ips, ports, listenPort)
	if err := discovery.WriteDefaultConfigs(dir, cfg); err != nil {
		return err
	}
	fmt.Printf("PublicKeyStore DHT Config file created at: %s\n", filepath.Join(dir, discovery.PKSConfigFileName))
	fmt.Printf("DropPeerStore DHT Config file created at: %s\n", filepath.Join(dir, discovery.DPSConfigFileName))
	return nil
}

func splitCommaList(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
