package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v5"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"exchangehub/models"
)

func testBatch(rows ...models.SnapshotRow) models.SnapshotBatch {
	return models.SnapshotBatch{
		BatchID:     "0f8fad5b-d9cb-469f-a165-70867728950e",
		Exchange:    "binance",
		Pair:        "BTC/USDT",
		Rows:        rows,
		RecordCount: len(rows),
		Timestamp:   time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
	}
}

func row(side string, price, qty float64, level int) models.SnapshotRow {
	return models.SnapshotRow{
		Timestamp: 1714979289000,
		Exchange:  "binance",
		Pair:      "BTC/USDT",
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Level:     level,
	}
}

func TestKey(t *testing.T) {
	got := Key(testBatch())
	want := "exchange=binance/pair=BTC_USDT/date=2024-05-06/070809_0f8fad5b.parquet"
	if got != want {
		t.Fatalf("key %q want %q", got, want)
	}
}

func TestValidRows(t *testing.T) {
	rows := []models.SnapshotRow{
		row("bid", 99, 1, 1),
		row("bid", 0, 1, 2),
		row("ask", 100, 0, 1),
		row("", 100, 1, 1),
		row("ask", 101, 2, 0),
		row("ask", 100, 2, 1),
	}
	if got := ValidRows(rows); len(got) != 2 {
		t.Fatalf("valid rows %+v", got)
	}
}

func TestWriteLocalParquet(t *testing.T) {
	root := t.TempDir()
	w := NewSnapshotWriter(LocalSink{Root: root}, "snappy", nil)
	batch := testBatch(row("bid", 99, 1, 1), row("bid", 98, 2, 2), row("ask", 100, 3, 1), row("ask", -1, 1, 2))

	location, err := w.Write(context.Background(), batch)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if location != filepath.Join(root, filepath.FromSlash(Key(batch))) {
		t.Fatalf("location %q", location)
	}

	fr, err := local.NewLocalFileReader(location)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(ParquetRecord), 1)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	if n != 3 {
		t.Fatalf("rows %d", n)
	}
	records := make([]ParquetRecord, n)
	if err := pr.Read(&records); err != nil {
		t.Fatalf("read: %v", err)
	}
	if records[0].Side != "bid" || records[0].Price != 99 || records[0].Level != 1 || records[0].Pair != "BTC/USDT" {
		t.Fatalf("first record %+v", records[0])
	}
	if records[2].Side != "ask" || records[2].Quantity != 3 {
		t.Fatalf("last record %+v", records[2])
	}
}

func TestWriteEmptyBatchWritesNothing(t *testing.T) {
	root := t.TempDir()
	w := NewSnapshotWriter(LocalSink{Root: root}, "gzip", nil)
	location, err := w.Write(context.Background(), testBatch(row("bid", 0, 0, 1)))
	if err != nil || location != "" {
		t.Fatalf("location %q err %v", location, err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("unexpected output %v", entries)
	}
}

func TestUnsupportedCompression(t *testing.T) {
	w := NewSnapshotWriter(LocalSink{Root: t.TempDir()}, "lz4raw", nil)
	if _, err := w.Write(context.Background(), testBatch(row("bid", 99, 1, 1))); err == nil {
		t.Fatal("expected compression error")
	}
}

type flakyS3 struct {
	mu       sync.Mutex
	failures int
	calls    int
	keys     []string
}

func (f *flakyS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	f.keys = append(f.keys, *in.Key)
	return &s3.PutObjectOutput{}, nil
}

func TestS3SinkRetries(t *testing.T) {
	client := &flakyS3{failures: 2}
	sink := newS3Sink(client, "snapshots", "/raw/", nil)
	sink.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	location, err := sink.Put(context.Background(), "exchange=binance/x.parquet", []byte("data"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("calls %d", client.calls)
	}
	if location != "s3://snapshots/raw/exchange=binance/x.parquet" {
		t.Fatalf("location %q", location)
	}
}

func TestS3SinkGivesUp(t *testing.T) {
	client := &flakyS3{failures: 100}
	sink := newS3Sink(client, "snapshots", "", nil)
	sink.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	sink.maxTries = 3

	_, err := sink.Put(context.Background(), "k.parquet", []byte("data"))
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected upload error, got %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("calls %d", client.calls)
	}
}

func TestManifestTracksWrittenFiles(t *testing.T) {
	root := t.TempDir()
	sink := LocalSink{Root: root}
	w := NewSnapshotWriter(sink, "none", nil).WithManifest(NewManifest(sink))

	for i := 0; i < 2; i++ {
		batch := testBatch(row("bid", 99, 1, 1))
		batch.BatchID = fmt.Sprintf("batch-%d", i)
		if _, err := w.Write(context.Background(), batch); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	raw, err := os.ReadFile(filepath.Join(root, "_metadata", "metadata.json"))
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	var meta struct {
		Current   int64 `json:"current-snapshot-id"`
		Snapshots []struct {
			ID       int64  `json:"snapshot-id"`
			Manifest string `json:"manifest-list"`
		} `json:"snapshots"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(meta.Snapshots) != 2 || meta.Current != meta.Snapshots[1].ID || meta.Snapshots[0].ID >= meta.Snapshots[1].ID {
		t.Fatalf("metadata %+v", meta)
	}

	raw, err = os.ReadFile(filepath.Join(root, "_metadata", meta.Snapshots[0].Manifest))
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	var entries []struct {
		DataFile DataFile `json:"data_file"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if len(entries) != 1 || entries[0].DataFile.RecordCount != 1 || entries[0].DataFile.Partition["pair"] != "BTC_USDT" {
		t.Fatalf("manifest %+v", entries)
	}
}
