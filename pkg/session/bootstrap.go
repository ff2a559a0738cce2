package session

import (
	"time"

	"github.com/latticedb/graphcore/pkg/catalog"
	"github.com/latticedb/graphcore/pkg/config"
	"github.com/latticedb/graphcore/pkg/cypher"
	"github.com/latticedb/graphcore/pkg/lock"
	"github.com/latticedb/graphcore/pkg/storage"
	"github.com/latticedb/graphcore/pkg/wal"
)

// Database bundles the full process-level stack a single GraphCore
// instance wires up: catalog, WAL, lock manager, storage engine, query
// executor, and the session manager sitting on top of all of them. Open
// is the one constructor a cmd/graphcored main (or a test) needs.
type Database struct {
	Config  *config.Config
	Catalog *catalog.Catalog
	WAL     *wal.WAL
	Locks   *lock.Manager
	Engine  *storage.Engine
	Exec    *cypher.Executor
	Sessions *Manager
}

// Open brings up a full GraphCore instance rooted at cfg.DataDir,
// wiring catalog -> WAL -> lock manager -> storage engine -> Cypher
// executor -> session manager in that order (spec §4.1's component
// dependency graph).
func Open(cfg *config.Config) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cat, err := catalog.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	w, err := wal.Open(cfg.DataDir, wal.Options{
		SyncMode: string(cfg.WALSyncMode),
	})
	if err != nil {
		return nil, err
	}

	locks := lock.NewManager(cfg.LockTimeout, cfg.LockEscalationThreshold)

	engine, err := storage.Open(storage.Options{DataDir: cfg.DataDir}, cat, w, locks)
	if err != nil {
		return nil, err
	}

	// PlanCacheMaxBytes is a byte budget; the plan cache is sized in
	// entries, so approximate assuming ~2KiB per cached AST.
	maxPlans := int(cfg.PlanCacheMaxBytes / 2048)
	exec := cypher.NewExecutor(engine, maxPlans)

	sessions := NewManager(engine, locks, exec, cfg.SessionTimeout)
	exec.SetProcHost(sessions)

	return &Database{
		Config:   cfg,
		Catalog:  cat,
		WAL:      w,
		Locks:    locks,
		Engine:   engine,
		Exec:     exec,
		Sessions: sessions,
	}, nil
}

// Close flushes and releases every resource Open acquired, in reverse
// wiring order.
func (d *Database) Close() error {
	if err := d.Engine.Close(); err != nil {
		return err
	}
	if err := d.WAL.Close(); err != nil {
		return err
	}
	return d.Catalog.Close()
}

// reapInterval is how often StartReaper's background goroutine checks
// for idle sessions, relative to the configured session timeout.
func reapInterval(timeout time.Duration) time.Duration {
	interval := timeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
