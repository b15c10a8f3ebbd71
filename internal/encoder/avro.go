package encoder

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/linkedin/goavro/v2"

	"github.com/jittakal/bustrace/pkg/encoder"
	"github.com/jittakal/bustrace/pkg/trace"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*AvroEncoder)(nil)

// AvroEncoder implements encoder.Encoder for Apache Avro binary format.
// It supports optional gzip compression of the whole file and produces OCF
// (Object Container File) output readable by Spark and other Avro readers.
type AvroEncoder struct {
	codec       *goavro.Codec
	compression string
}

// NewAvroEncoder creates a new Avro encoder with specified compression.
func NewAvroEncoder(compression string) (*AvroEncoder, error) {
	codec, err := goavro.NewCodec(avroSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	return &AvroEncoder{
		codec:       codec,
		compression: compression,
	}, nil
}

// avroSchema returns the Avro schema for exported trace records.
func avroSchema() string {
	return `{
		"type": "record",
		"name": "TraceRecord",
		"namespace": "io.bustrace",
		"fields": [
			{"name": "batch_id", "type": "string"},
			{"name": "device_id", "type": "long"},
			{"name": "request_type", "type": "int"},
			{"name": "request_type_name", "type": "string"},
			{"name": "timestamp_ns", "type": "long"},
			{"name": "captured_at", "type": "string"},
			{"name": "payload", "type": "bytes"},
			{"name": "exported_at", "type": "string"}
		]
	}`
}

func (e *AvroEncoder) gzipped() bool {
	return e.compression == "gzip" || e.compression == "GZIP"
}

// Encode writes the batch to an Avro file.
func (e *AvroEncoder) Encode(filePath string, batch *trace.Batch) (*trace.Stats, error) {
	if batch == nil || len(batch.Records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := e.write(file, batch); err != nil {
		return nil, err
	}

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return fileStats(filePath, batch)
}

// EncodeToBytes encodes the batch in memory.
func (e *AvroEncoder) EncodeToBytes(batch *trace.Batch) ([]byte, error) {
	if batch == nil || len(batch.Records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	var buf bytes.Buffer
	if err := e.write(&buf, batch); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *AvroEncoder) write(w io.Writer, batch *trace.Batch) error {
	var gzipWriter *gzip.Writer
	if e.gzipped() {
		gzipWriter = gzip.NewWriter(w)
		w = gzipWriter
	}

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:     w,
		Codec: e.codec,
	})
	if err != nil {
		return fmt.Errorf("failed to create OCF writer: %w", err)
	}

	rows := make([]interface{}, len(batch.Records))
	for i, record := range batch.Records {
		rows[i] = toAvroMap(batch, record)
	}
	if err := ocfWriter.Append(rows); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}

	if gzipWriter != nil {
		if err := gzipWriter.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}
	return nil
}

func toAvroMap(batch *trace.Batch, record trace.Record) map[string]interface{} {
	return map[string]interface{}{
		"batch_id":          batch.ID,
		"device_id":         int64(record.DeviceID),
		"request_type":      int32(record.Type),
		"request_type_name": record.Type.String(),
		"timestamp_ns":      int64(record.Timestamp),
		"captured_at":       record.Timestamp.Time().Format(time.RFC3339Nano),
		"payload":           record.Payload,
		"exported_at":       batch.ExportedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Format returns the file format.
func (e *AvroEncoder) Format() trace.FileFormat {
	return trace.FormatAvro
}

// FileExtension returns the file extension.
func (e *AvroEncoder) FileExtension() string {
	if e.gzipped() {
		return ".avro.gz"
	}
	return ".avro"
}
