package encoder

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/jittakal/bustrace/pkg/encoder"
	"github.com/jittakal/bustrace/pkg/trace"
)

// Factory creates encoders for one format and compression pair.
type Factory struct {
	format      trace.FileFormat
	compression string
}

// NewFactory creates an encoder factory. Compression names are
// case-insensitive; an empty name selects the format default and "none" is
// an alias for "uncompressed".
func NewFactory(format trace.FileFormat, compression string) *Factory {
	compression = strings.ToLower(strings.TrimSpace(compression))
	switch compression {
	case "":
		compression = DefaultCompression(format)
	case "none":
		compression = "uncompressed"
	}
	return &Factory{
		format:      format,
		compression: compression,
	}
}

// Format returns the configured file format.
func (f *Factory) Format() trace.FileFormat {
	return f.format
}

// Compression returns the normalized compression codec.
func (f *Factory) Compression() string {
	return f.compression
}

// CreateEncoder creates an encoder based on the configured format.
func (f *Factory) CreateEncoder() (encoder.Encoder, error) {
	if !slices.Contains(SupportedFormats(), f.format) {
		return nil, fmt.Errorf("unsupported file format: %s", f.format)
	}
	if !slices.Contains(SupportedCompressions(f.format), f.compression) {
		return nil, fmt.Errorf("unsupported %s compression: %s", f.format, f.compression)
	}

	if f.format == trace.FormatAvro {
		return NewAvroEncoder(f.compression)
	}
	return NewParquetEncoder(f.compression), nil
}

// SupportedFormats returns a list of supported file formats.
func SupportedFormats() []trace.FileFormat {
	return []trace.FileFormat{
		trace.FormatParquet,
		trace.FormatAvro,
	}
}

// SupportedCompressions returns supported compression codecs for a given format.
func SupportedCompressions(format trace.FileFormat) []string {
	switch format {
	case trace.FormatParquet:
		return []string{"uncompressed", "snappy", "gzip", "lz4", "zstd"}
	case trace.FormatAvro:
		return []string{"uncompressed", "gzip"}
	default:
		return []string{}
	}
}

// DefaultCompression returns the default compression for a format.
func DefaultCompression(format trace.FileFormat) string {
	switch format {
	case trace.FormatParquet:
		return "snappy"
	case trace.FormatAvro:
		return "gzip"
	default:
		return "uncompressed"
	}
}

// fileStats summarizes the batch with the size of the file written for it.
func fileStats(filePath string, batch *trace.Batch) (*trace.Stats, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	stats := batch.Stats()
	stats.SizeBytes = fileInfo.Size()
	return &stats, nil
}
