// Package metastore is a durable string key/value store plus typed views
// over it: runtime tunables read at the start of every scheduler cycle and
// the scheduler's rotation state.
//
// Keys:
//   - scheduler.rotation_cursor: next offset into the instrument list
//   - scheduler.last_cycle_completed_at: RFC 3339 timestamp
//   - runtime.cycle_interval_seconds: seconds, fractional allowed
//   - runtime.batch_size: instruments per cycle
package metastore
