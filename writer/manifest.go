package writer

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"exchangehub/internal/transport"
)

// DataFile describes one snapshot file written through a Sink.
type DataFile struct {
	Location    string            `json:"location"`
	Key         string            `json:"key"`
	FileSize    int64             `json:"file_size_in_bytes"`
	RecordCount int64             `json:"record_count"`
	Partition   map[string]string `json:"partition"`
}

type manifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

type snapshot struct {
	SnapshotID  int64  `json:"snapshot-id"`
	TimestampMs int64  `json:"timestamp-ms"`
	Manifest    string `json:"manifest-list"`
}

type tableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []snapshot `json:"snapshots"`
}

// Manifest keeps an Iceberg-style record of the files a SnapshotWriter has
// produced: one manifest per file plus a metadata.json listing all of them.
// It writes through the same Sink as the data.
type Manifest struct {
	sink      Sink
	dir       string
	tableUUID string
	now       func() time.Time

	mu        sync.Mutex
	snapshots []snapshot
}

func NewManifest(sink Sink) *Manifest {
	return &Manifest{
		sink:      sink,
		dir:       "_metadata",
		tableUUID: uuid.NewString(),
		now:       time.Now,
	}
}

// Add records df and rewrites metadata.json.
func (m *Manifest) Add(ctx context.Context, df DataFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now().UTC()
	id := ts.UnixNano()
	if n := len(m.snapshots); n > 0 && id <= m.snapshots[n-1].SnapshotID {
		id = m.snapshots[n-1].SnapshotID + 1
	}
	name := fmt.Sprintf("manifest-%d.json", id)

	b, err := transport.Encode([]manifestEntry{{Status: 1, DataFile: df}})
	if err != nil {
		return err
	}
	if _, err := m.sink.Put(ctx, path.Join(m.dir, name), b); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	m.snapshots = append(m.snapshots, snapshot{SnapshotID: id, TimestampMs: ts.UnixMilli(), Manifest: name})
	meta, err := transport.Encode(tableMetadata{
		FormatVersion:     2,
		TableUUID:         m.tableUUID,
		CurrentSnapshotID: id,
		Snapshots:         m.snapshots,
	})
	if err != nil {
		return err
	}
	if _, err := m.sink.Put(ctx, path.Join(m.dir, "metadata.json"), meta); err != nil {
		return fmt.Errorf("failed to write table metadata: %w", err)
	}
	return nil
}
