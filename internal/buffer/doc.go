// Package buffer provides the bounded, thread-safe trace ring.
//
// The ring holds a fixed number of slots. Each slot carries one captured bus
// I/O record in its wire encoding (see package trace). Any number of
// producers may enqueue concurrently; a single consumer drains whole records
// in bulk into a caller-supplied region.
//
// # Ring
//
//	ring, err := buffer.New(buffer.Config{
//	    Slots:           1024,
//	    MaxPayloadBytes: 64 * 1024,
//	})
//
//	// Producers
//	err = ring.Enqueue(deviceID, trace.RequestWrite, payload)
//
//	// Consumer
//	chunk := make([]byte, 256*1024)
//	n := ring.Drain(chunk)
//	records, err := trace.DecodeAll(chunk[:n])
//
// # Overflow
//
// The ring never blocks a producer. When every slot holds an unread record,
// Enqueue overwrites the oldest one and reports an OverflowEvent to the
// configured Observer. Consumers that fall behind lose the oldest data first.
//
// # Draining
//
// Drain copies records oldest first and stops before the first record that
// does not fit in the remaining space. A record is never split. A region too
// small for the next record returns 0 and leaves the ring untouched; use
// NextFootprint to size the region.
//
// # Memory Management
//
// Slot storage comes from an Allocator. A slot keeps its allocation after it
// is drained and only grows when a larger record arrives, so steady traffic
// stops allocating once every slot has been used. BudgetAllocator caps the
// total with Config.MemoryLimitBytes. When a slot cannot grow the record is
// dropped, Enqueue returns an *errors.AllocationError and the Observer
// receives an AllocationFailureEvent.
//
// Reset and Close release every slot back to the Allocator.
//
// # Thread Safety
//
// One mutex guards the cursors and the slots. Observer callbacks run after
// the mutex is released.
package buffer
