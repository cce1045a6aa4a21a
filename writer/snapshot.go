package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"exchangehub/internal/symbols"
	"exchangehub/logger"
	"exchangehub/models"
)

// ParquetRecord is one order book level in a snapshot file.
type ParquetRecord struct {
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
	Exchange  string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Pair      string  `parquet:"name=pair, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Quantity  float64 `parquet:"name=quantity, type=DOUBLE"`
	Level     int32   `parquet:"name=level, type=INT32"`
}

// memoryFile is a write-only source.ParquetFile backed by a buffer.
type memoryFile struct {
	buf *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buf: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error)   { return m, nil }

// Seek reports the write position; the parquet writer only appends.
func (m *memoryFile) Seek(int64, int) (int64, error) { return int64(m.buf.Len()), nil }

func (m *memoryFile) Read(b []byte) (int, error)  { return m.buf.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error) { return m.buf.Write(b) }
func (m *memoryFile) Close() error                { return nil }
func (m *memoryFile) Bytes() []byte               { return m.buf.Bytes() }

// SnapshotWriter encodes captured batches as parquet and hands them to a
// Sink under a partitioned key.
type SnapshotWriter struct {
	sink        Sink
	compression string
	manifest    *Manifest
	log         *logger.Log
}

func NewSnapshotWriter(sink Sink, compression string, log *logger.Log) *SnapshotWriter {
	if compression == "" {
		compression = "snappy"
	}
	return &SnapshotWriter{
		sink:        sink,
		compression: strings.ToLower(compression),
		log:         logger.OrDefault(log),
	}
}

// WithManifest records every written file in m.
func (w *SnapshotWriter) WithManifest(m *Manifest) *SnapshotWriter {
	w.manifest = m
	return w
}

// Write persists the valid rows of batch and returns where they went.
// A batch without valid rows writes nothing and returns an empty location.
func (w *SnapshotWriter) Write(ctx context.Context, batch models.SnapshotBatch) (string, error) {
	log := w.log.WithComponent("snapshot_writer").WithFields(logger.Fields{
		"batch_id": batch.BatchID,
		"exchange": batch.Exchange,
		"pair":     batch.Pair,
	})

	rows := ValidRows(batch.Rows)
	if dropped := len(batch.Rows) - len(rows); dropped > 0 {
		log.WithFields(logger.Fields{"dropped": dropped}).Warn("dropped invalid snapshot rows")
	}
	if len(rows) == 0 {
		log.Warn("no data was collected, nothing written")
		return "", nil
	}

	start := time.Now()
	data, err := w.encode(rows)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return "", err
	}

	key := Key(batch)
	location, err := w.sink.Put(ctx, key, data)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"key": key}).Error("failed to store snapshot file")
		return "", err
	}

	if w.manifest != nil {
		df := DataFile{
			Location:    location,
			Key:         key,
			FileSize:    int64(len(data)),
			RecordCount: int64(len(rows)),
			Partition: map[string]string{
				"exchange": strings.ToLower(batch.Exchange),
				"pair":     symbols.PartitionName(batch.Pair),
				"date":     batch.Timestamp.UTC().Format("2006-01-02"),
			},
		}
		if err := w.manifest.Add(ctx, df); err != nil {
			log.WithError(err).Warn("failed to update metadata")
		}
	}

	logger.IncrementSnapshotWrite()
	logger.LogPerformanceEntry(log, "snapshot_writer", "write_batch", time.Since(start), logger.Fields{
		"rows":      len(rows),
		"file_size": len(data),
	})
	logger.LogDataFlowEntry(log, "capture_buffer", location, len(rows), "snapshot_rows")
	log.WithFields(logger.Fields{"location": location, "rows": len(rows)}).Info("snapshot file written")
	return location, nil
}

// Key is exchange=<ex>/pair=<BASE_QUOTE>/date=<YYYY-MM-DD>/<HHMMSS>_<id>.parquet,
// dated by the batch timestamp in UTC.
func Key(batch models.SnapshotBatch) string {
	ts := batch.Timestamp.UTC()
	id := batch.BatchID
	if len(id) > 8 {
		id = id[:8]
	}
	name := ts.Format("150405") + ".parquet"
	if id != "" {
		name = ts.Format("150405") + "_" + id + ".parquet"
	}
	return path.Join(
		"exchange="+strings.ToLower(batch.Exchange),
		"pair="+symbols.PartitionName(batch.Pair),
		"date="+ts.Format("2006-01-02"),
		name,
	)
}

// ValidRows drops rows missing a timestamp, side or level, or carrying a
// non-positive price or quantity.
func ValidRows(rows []models.SnapshotRow) []models.SnapshotRow {
	valid := make([]models.SnapshotRow, 0, len(rows))
	for _, r := range rows {
		if r.Timestamp == 0 || r.Price <= 0 || r.Quantity <= 0 || r.Level <= 0 {
			continue
		}
		if r.Side != "bid" && r.Side != "ask" {
			continue
		}
		valid = append(valid, r)
	}
	return valid
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch name {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY, nil
	case "gzip":
		return parquet.CompressionCodec_GZIP, nil
	case "none", "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	}
	return 0, fmt.Errorf("unsupported compression %q", name)
}

func (w *SnapshotWriter) encode(rows []models.SnapshotRow) ([]byte, error) {
	codec, err := compressionCodec(w.compression)
	if err != nil {
		return nil, err
	}

	fw := newMemoryFile()
	pw, err := writer.NewParquetWriter(fw, new(ParquetRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = codec

	for _, r := range rows {
		record := ParquetRecord{
			Timestamp: r.Timestamp,
			Exchange:  r.Exchange,
			Pair:      r.Pair,
			Side:      r.Side,
			Price:     r.Price,
			Quantity:  r.Quantity,
			Level:     int32(r.Level),
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
