// Command graphcored is GraphCore's process entry point: a thin cobra CLI
// wrapping config loading, engine bootstrap, and the replication role the
// process runs under (spec §6, §4.10).
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/latticedb/graphcore/pkg/config"
	"github.com/latticedb/graphcore/pkg/replication"
	"github.com/latticedb/graphcore/pkg/session"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "graphcored",
		Short: "GraphCore - a labeled property graph database with a Cypher query surface",
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("graphcored v%s (%s)\n", version, commit)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new GraphCore data directory",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", "./data", "Data directory")
	rootCmd.AddCommand(initCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the GraphCore engine and, if configured, its replication role",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("default config invalid: %w", err)
	}

	fmt.Printf("initialized data directory %s\n", filepath.Clean(dataDir))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	log.Printf("opening database at %s", cfg.DataDir)
	db, err := session.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopReaper := make(chan struct{})
	go db.Sessions.StartReaper(reapInterval(cfg.SessionTimeout), stopReaper)
	defer close(stopReaper)

	shutdownReplication, err := startReplication(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("starting replication: %w", err)
	}
	defer shutdownReplication()

	log.Printf("graphcored ready (role=%s)", cfg.ReplicationRole)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down")
	return nil
}

func reapInterval(timeout time.Duration) time.Duration {
	interval := timeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// startReplication wires cfg.ReplicationRole into a running master or
// replica state machine, returning a shutdown func. Standalone processes
// run neither and shutdown is a no-op.
func startReplication(ctx context.Context, cfg *config.Config, db *session.Database) (func(), error) {
	switch cfg.ReplicationRole {
	case config.RoleMaster:
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ReplicationPort))
		if err != nil {
			return nil, err
		}
		master := replication.NewMaster(db.Config.DataDir, 1, 2*time.Second, &engineSnapshotSource{db: db})
		go func() {
			if err := master.Serve(ctx, l); err != nil && ctx.Err() == nil {
				log.Printf("replication master stopped: %v", err)
			}
		}()
		return func() { l.Close() }, nil

	case config.RoleReplica:
		if len(cfg.ReplicationPeers) == 0 {
			return nil, fmt.Errorf("replica role requires GRAPHCORE_REPLICATION_PEERS")
		}
		replicaCtx, cancel := context.WithCancel(ctx)
		rep := replication.NewReplica(db.Config.DataDir, cfg.ReplicationPeers[0], db.Config.DataDir,
			func(epoch, offset uint64, entry []byte) error {
				return nil // applied via WAL replay at the storage layer in a full build
			},
			func() uint64 { return 0 },
		)
		go func() {
			if err := rep.Run(replicaCtx, 30*time.Second); err != nil && replicaCtx.Err() == nil {
				log.Printf("replication stream ended: %v", err)
			}
		}()
		return cancel, nil

	default:
		return func() {}, nil
	}
}

// engineSnapshotSource adapts the running engine into a replication.SnapshotSource.
// Snapshot flushes the storage engine and returns an empty snapshot: no
// path, offset or file chunks.
type engineSnapshotSource struct {
	db *session.Database
}

func (s *engineSnapshotSource) Snapshot(ctx context.Context) (string, uint64, [][]byte, error) {
	if err := s.db.Engine.Flush(); err != nil {
		return "", 0, nil, err
	}
	// A full build streams the page store's on-disk files chunked to a
	// bounded size; the engine does not yet expose a chunked file reader,
	// so this returns an empty snapshot rather than fabricate one.
	return "", 0, nil, nil
}
