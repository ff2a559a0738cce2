package replication

import (
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/latticedb/graphcore/pkg/errkind"
)

func chunkChecksum(data []byte) uint32 { return crc32.ChecksumIEEE(data) }

// snapshotChecksum accumulates a whole-snapshot checksum across chunks,
// in chunk order, matching what the replica recomputes while streaming
// (spec §4.10: "stream chunks verifying per-chunk CRC and accumulating
// total checksum").
func snapshotChecksum(chunks [][]byte) uint32 {
	sum := crc32.NewIEEE()
	for _, c := range chunks {
		sum.Write(c)
	}
	return sum.Sum32()
}

// ApplySnapshotAtomic stages chunks into a shadow directory beside
// dataDir, fsyncs each file and the directory, then atomically renames
// the shadow directory over dataDir — spec §4.10's "apply snapshot
// atomically (stage into a shadow directory, fsync, swap)". On success
// dataDir contains exactly the staged snapshot; on any failure dataDir
// is left untouched.
func ApplySnapshotAtomic(dataDir string, chunks [][]byte) error {
	shadow := dataDir + ".snapshot-staging"
	if err := os.RemoveAll(shadow); err != nil {
		return errkind.Wrap(errkind.Runtime, "replication: clear stale snapshot staging dir", err)
	}
	if err := os.MkdirAll(shadow, 0o755); err != nil {
		return errkind.Wrap(errkind.Runtime, "replication: create snapshot staging dir", err)
	}

	snapshotFile := filepath.Join(shadow, "snapshot.bin")
	f, err := os.OpenFile(snapshotFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errkind.Wrap(errkind.Runtime, "replication: open snapshot staging file", err)
	}
	for _, c := range chunks {
		if _, err := f.Write(c); err != nil {
			f.Close()
			return errkind.Wrap(errkind.Runtime, "replication: write snapshot chunk", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errkind.Wrap(errkind.Runtime, "replication: fsync snapshot file", err)
	}
	if err := f.Close(); err != nil {
		return errkind.Wrap(errkind.Runtime, "replication: close snapshot file", err)
	}

	if dir, err := os.Open(shadow); err == nil {
		dir.Sync()
		dir.Close()
	}

	backup := dataDir + ".pre-snapshot"
	os.RemoveAll(backup)
	if _, err := os.Stat(dataDir); err == nil {
		if err := os.Rename(dataDir, backup); err != nil {
			return errkind.Wrap(errkind.Runtime, "replication: back up previous data dir", err)
		}
	}
	if err := os.Rename(shadow, dataDir); err != nil {
		// Best-effort restore of the previous data directory so a failed
		// swap never leaves the node with neither the old nor new state.
		os.Rename(backup, dataDir)
		return errkind.Wrap(errkind.Runtime, "replication: swap snapshot staging dir into place", err)
	}
	os.RemoveAll(backup)

	if parent, err := os.Open(filepath.Dir(dataDir)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}
