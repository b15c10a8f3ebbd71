package encoder

import (
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/jittakal/bustrace/pkg/encoder"
	"github.com/jittakal/bustrace/pkg/trace"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*ParquetEncoder)(nil)

// TraceParquet represents the Parquet schema for trace records.
// Uses native Parquet types for Athena compatibility, including TIMESTAMP_MICROS for time fields.
type TraceParquet struct {
	// Batch metadata
	BatchID string `parquet:"batch_id,dict"`

	// Record header
	DeviceID        int64     `parquet:"device_id"`
	RequestType     int32     `parquet:"request_type"`
	RequestTypeName string    `parquet:"request_type_name,dict"`
	TimestampNanos  int64     `parquet:"timestamp_ns"`
	CapturedAt      time.Time `parquet:"captured_at,timestamp(microsecond)"`
	PayloadLength   int32     `parquet:"payload_length"`

	// Raw request snapshot
	Payload []byte `parquet:"payload"`

	// Storage metadata
	ExportedAt time.Time `parquet:"exported_at,timestamp(microsecond)"`
}

// ParquetEncoder implements encoder.Encoder for Apache Parquet columnar format.
// Supports multiple compression codecs: SNAPPY (default), GZIP, LZ4, ZSTD.
type ParquetEncoder struct {
	compressionName string
}

// NewParquetEncoder creates a new Parquet encoder with specified compression.
func NewParquetEncoder(compression string) *ParquetEncoder {
	return &ParquetEncoder{
		compressionName: compression,
	}
}

// compressionCodec converts string compression name to parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch compression {
	case "snappy", "SNAPPY":
		return parquet.Compression(&parquet.Snappy)
	case "gzip", "GZIP":
		return parquet.Compression(&parquet.Gzip)
	case "lz4", "LZ4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd", "ZSTD":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "UNCOMPRESSED", "none", "NONE":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy) // Default to Snappy
	}
}

// Encode writes the batch to a Parquet file.
func (e *ParquetEncoder) Encode(filePath string, batch *trace.Batch) (*trace.Stats, error) {
	if batch == nil || len(batch.Records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	rows := make([]TraceParquet, len(batch.Records))
	for i, record := range batch.Records {
		rows[i] = toParquetRow(batch, record)
	}

	writer := parquet.NewGenericWriter[TraceParquet](
		file,
		compressionCodec(e.compressionName),
		parquet.CreatedBy("bustrace", "1.0", "0"),
	)

	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		file.Close()
		return nil, fmt.Errorf("failed to write records: %w", err)
	}

	if err := writer.Close(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	// Close file before getting stats to ensure all data is flushed
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return fileStats(filePath, batch)
}

func toParquetRow(batch *trace.Batch, record trace.Record) TraceParquet {
	return TraceParquet{
		BatchID:         batch.ID,
		DeviceID:        int64(record.DeviceID),
		RequestType:     int32(record.Type),
		RequestTypeName: record.Type.String(),
		TimestampNanos:  int64(record.Timestamp),
		CapturedAt:      record.Timestamp.Time(),
		PayloadLength:   int32(len(record.Payload)),
		Payload:         record.Payload,
		ExportedAt:      batch.ExportedAt.UTC(),
	}
}

// Format returns the file format.
func (e *ParquetEncoder) Format() trace.FileFormat {
	return trace.FormatParquet
}

// FileExtension returns the file extension.
func (e *ParquetEncoder) FileExtension() string {
	return ".parquet"
}
