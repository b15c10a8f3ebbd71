package storage

import (
	"fmt"
	"path"
	"time"

	"github.com/jittakal/bustrace/pkg/storage"
	"github.com/jittakal/bustrace/pkg/trace"
)

// Ensure implementations satisfy interfaces.
var (
	_ storage.Router         = (*DefaultRouter)(nil)
	_ storage.RotationPolicy = (*CompositePolicy)(nil)
)

// DefaultRouter implements Hive-style partitioning for storage paths.
type DefaultRouter struct {
	protocol string
	bucket   string
	basePath string
}

// NewRouter creates a new storage router. Empty bucket and basePath
// segments are omitted from the route.
func NewRouter(protocol, bucket, basePath string) *DefaultRouter {
	return &DefaultRouter{
		protocol: protocol,
		bucket:   bucket,
		basePath: basePath,
	}
}

// Route returns the storage directory for a device at the given capture time.
// Format: protocol://bucket/basePath/device=N/dt=YYYY-MM-DD/
// Partitioning uses capture time, not export time.
func (r *DefaultRouter) Route(device trace.DeviceID, ts trace.Timestamp) string {
	date := ts.Time().UTC().Format("2006-01-02")

	return fmt.Sprintf("%s://%s/", r.protocol, path.Join(
		r.bucket,
		r.basePath,
		fmt.Sprintf("device=%d", device),
		"dt="+date,
	))
}

// Rotation strategies.
const (
	// StrategyAny flushes when any configured limit is reached.
	StrategyAny = "any"
	// StrategyAll flushes only when every configured limit is reached.
	StrategyAll = "all"
)

// PolicyConfig configures rotation behavior. Zero limits are disabled.
type PolicyConfig struct {
	MaxRecords         int
	MaxSizeBytes       int64
	MaxDurationSeconds int
	Strategy           string
}

// CompositePolicy rotates based on record count, size and age.
type CompositePolicy struct {
	maxSizeBytes int64
	maxRecords   int
	maxDuration  time.Duration
	all          bool
}

// NewPolicy creates a new composite rotation policy.
func NewPolicy(config PolicyConfig) *CompositePolicy {
	return &CompositePolicy{
		maxSizeBytes: config.MaxSizeBytes,
		maxRecords:   config.MaxRecords,
		maxDuration:  time.Duration(config.MaxDurationSeconds) * time.Second,
		all:          config.Strategy == StrategyAll,
	}
}

// ShouldRotate reports whether a batch should be flushed.
func (p *CompositePolicy) ShouldRotate(stats trace.Stats, age time.Duration) bool {
	if stats.RecordCount == 0 {
		return false
	}

	checks := make([]bool, 0, 3)
	if p.maxSizeBytes > 0 {
		checks = append(checks, stats.SizeBytes >= p.maxSizeBytes)
	}
	if p.maxRecords > 0 {
		checks = append(checks, stats.RecordCount >= p.maxRecords)
	}
	if p.maxDuration > 0 {
		checks = append(checks, age >= p.maxDuration)
	}
	if len(checks) == 0 {
		return false
	}

	for _, hit := range checks {
		if hit && !p.all {
			return true
		}
		if !hit && p.all {
			return false
		}
	}
	return p.all
}
