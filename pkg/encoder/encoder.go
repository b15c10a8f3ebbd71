// Package encoder defines interfaces for encoding trace batches to various file formats.
package encoder

import "github.com/jittakal/bustrace/pkg/trace"

// Encoder encodes trace batches to a specific file format.
type Encoder interface {
	// Encode writes the batch to a file and returns file statistics.
	// SizeBytes in the returned stats is the size of the written file.
	Encode(filePath string, batch *trace.Batch) (*trace.Stats, error)

	// Format returns the file format this encoder produces.
	Format() trace.FileFormat

	// FileExtension returns the file extension (e.g., ".parquet", ".avro").
	FileExtension() string
}
