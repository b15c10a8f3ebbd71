// Package encoder writes exported trace batches to columnar and row-based
// file formats.
//
// # Supported Formats
//
//   - Parquet: columnar, one row per trace record, readable by Athena and Spark
//   - Avro: row-based OCF with embedded schema, optionally gzip-wrapped
//
// # Encoder Factory
//
//	factory := encoder.NewFactory(trace.FormatParquet, "snappy")
//	enc, err := factory.CreateEncoder()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	stats, err := enc.Encode(filePath, batch)
//
// The returned stats carry the record count, the first and last capture
// timestamps and the size of the written file.
//
// # Compression Options
//
//	Parquet: "uncompressed", "snappy", "gzip", "lz4", "zstd"
//	Avro:    "uncompressed", "gzip"
//
// # Schema
//
// Both formats store the batch id, device id, numeric and named request type,
// the capture timestamp in nanoseconds and as a timestamp, the raw payload and
// the export time. Payload bytes are written unmodified.
//
// Encoder instances hold no per-file state and are safe for concurrent use.
package encoder
