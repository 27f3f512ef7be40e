// Command meshledgerd runs a mesh ledger node: the Ledger Engine, Delta
// Sync, and Mesh Traffic Core wired to a UDP reference transport and a
// local operator HTTP API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshledger/core/internal/config"
	"github.com/meshledger/core/internal/crypto"
	"github.com/meshledger/core/internal/node"
	"github.com/meshledger/core/internal/rpc"
	"github.com/meshledger/core/internal/transport"
	"github.com/meshledger/core/pkg/logging"
)

var version = "0.1.0-dev"

func main() {
	root := &cobra.Command{Use: "meshledgerd", Short: "mesh ledger node daemon"}
	root.AddCommand(runCmd())
	root.AddCommand(genkeyCmd())
	root.AddCommand(statusCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var (
		dataDir  string
		listen   string
		apiAddr  string
		peers    []string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "start the node daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(&logging.Config{Level: logLevel, TimeFormat: time.TimeOnly})
			logging.SetDefault(log)

			cfg, err := config.Load(expandPath(dataDir))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.Storage.DataDir = expandPath(dataDir)
			if listen != "" {
				cfg.Network.ListenAddress = listen
			}
			cfg.Logging.Level = logLevel

			identity, err := crypto.LoadOrCreateIdentity(filepath.Join(cfg.Storage.DataDir, cfg.Identity.KeyFile))
			if err != nil {
				return fmt.Errorf("load identity: %w", err)
			}
			selfID := crypto.PeerID(identity.Public)

			link, err := transport.NewUDPLink(selfID, cfg.Network.ListenAddress)
			if err != nil {
				return fmt.Errorf("open transport: %w", err)
			}

			for _, p := range peers {
				id, addr, ok := splitPeer(p)
				if !ok {
					log.Warn("ignoring malformed --peer flag", "value", p)
					continue
				}
				if err := link.AddPeer(id, addr); err != nil {
					log.Warn("register bootstrap peer", "peer", id, "err", err)
				}
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			n, err := node.New(ctx, cfg, link)
			if err != nil {
				return fmt.Errorf("create node: %w", err)
			}
			defer n.Close()

			for _, p := range peers {
				id, addr, ok := splitPeer(p)
				if !ok {
					continue
				}
				if err := n.Peers().Upsert(id, addr, 0); err != nil {
					log.Warn("persist bootstrap peer", "peer", id, "err", err)
				}
			}

			rpcServer := rpc.NewServer(n)
			if err := rpcServer.Start(apiAddr); err != nil {
				return fmt.Errorf("start rpc server: %w", err)
			}
			defer rpcServer.Stop()

			log.Info("meshledgerd started", "self_id", selfID, "listen", cfg.Network.ListenAddress, "api", apiAddr)

			go func() {
				if err := n.Run(ctx); err != nil && err != context.Canceled {
					log.Error("node run exited", "err", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			log.Info("shutting down")
			cancel()
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "~/.meshledger", "data directory")
	cmd.Flags().StringVar(&listen, "listen", "0.0.0.0:9500", "UDP transport listen address, overrides config")
	cmd.Flags().StringVar(&apiAddr, "api", "127.0.0.1:8080", "operator HTTP API address")
	cmd.Flags().StringArrayVar(&peers, "peer", nil, "bootstrap peer as peer_id@host:port, repeatable")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func genkeyCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "generate (or show) this node's identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := expandPath(dataDir)
			keyPath := filepath.Join(dir, "node.key")
			identity, err := crypto.LoadOrCreateIdentity(keyPath)
			if err != nil {
				return fmt.Errorf("load or create identity: %w", err)
			}
			fmt.Printf("peer_id: %s\nkey_path: %s\n", crypto.PeerID(identity.Public), keyPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "~/.meshledger", "data directory")
	return cmd
}

func statusCmd() *cobra.Command {
	var apiAddr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "query a running node's operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(fmt.Sprintf("http://%s/v1/status", apiAddr))
			if err != nil {
				return fmt.Errorf("query status: %w", err)
			}
			defer resp.Body.Close()
			fmt.Println("meshledgerd", version)
			_, err = fmt.Println("status endpoint responded:", resp.Status)
			return err
		},
	}
	cmd.Flags().StringVar(&apiAddr, "api", "127.0.0.1:8080", "operator HTTP API address")
	return cmd
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func splitPeer(spec string) (peerID, addr string, ok bool) {
	parts := strings.SplitN(spec, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
