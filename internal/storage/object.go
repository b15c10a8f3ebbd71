package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jittakal/bustrace/internal/encoder"
	pkgencoder "github.com/jittakal/bustrace/pkg/encoder"
	"github.com/jittakal/bustrace/pkg/trace"
)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	IncFilesWritten(backend, format, status string)
	ObserveFileSize(backend, format string, size float64)
	ObserveStorageWriteDuration(backend string, duration float64)
	IncStorageErrors(backend string, operation string)
}

// objectKey strips scheme://bucket/ from a routed path, leaving the key prefix.
// Paths without the scheme are returned unchanged.
func objectKey(path, scheme string) string {
	prefix := scheme + "://"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	parts := strings.SplitN(strings.TrimPrefix(path, prefix), "/", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return ""
}

// objectName builds the file name for a batch:
// traces_YYYYMMDD_HHMMSS_<batch id>.<ext>
func objectName(batch *trace.Batch, ext string) string {
	at := batch.ExportedAt
	if at.IsZero() {
		at = time.Now()
	}
	id := batch.ID
	if id == "" {
		id = fmt.Sprintf("%d", at.UnixNano())
	}
	return fmt.Sprintf("traces_%s_%s%s", at.UTC().Format("20060102_150405"), id, ext)
}

// objectPath joins a key prefix and a file name without a leading slash.
func objectPath(prefix, name string) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return strings.TrimPrefix(prefix+name, "/")
}

// encodeTemp encodes the batch into a temporary file for upload. The caller
// removes the returned file.
func encodeTemp(enc pkgencoder.Encoder, backend string, batch *trace.Batch) (string, *trace.Stats, error) {
	tempFile := filepath.Join(os.TempDir(),
		fmt.Sprintf("%s-upload-%d-%s%s", backend, time.Now().UnixNano(), batch.ID, enc.FileExtension()))

	stats, err := enc.Encode(tempFile, batch)
	if err != nil {
		os.Remove(tempFile)
		return "", nil, err
	}
	return tempFile, stats, nil
}

// newEncoderFactory validates that the format/compression pair is usable.
func newEncoderFactory(format trace.FileFormat, compression string) (*encoder.Factory, error) {
	factory := encoder.NewFactory(format, compression)
	if _, err := factory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	return factory, nil
}

// recordSuccess reports a completed write.
func recordSuccess(m MetricsCollector, backend string, format trace.FileFormat, size int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.IncFilesWritten(backend, string(format), "success")
	m.ObserveFileSize(backend, string(format), float64(size))
	m.ObserveStorageWriteDuration(backend, duration.Seconds())
}

// recordFailure reports a failed write step.
func recordFailure(m MetricsCollector, backend string, format trace.FileFormat, operation string) {
	if m == nil {
		return
	}
	m.IncStorageErrors(backend, operation)
	m.IncFilesWritten(backend, string(format), "failure")
}
