// Package scheduler implements the rotation scheduler.
//
// Each cycle:
//   - Reads the runtime tunables (interval, batch size) from the meta store
//   - Selects min(batch, T) instruments starting at the stored cursor, wrapping
//   - Shuffles the batch and processes it sequentially with random gaps
//   - Commits cursor and completion time once every member was attempted
//   - Sleeps for the rest of the interval plus jitter
//
// A shutdown mid-cycle skips the commit, so the same batch runs again on restart.
package scheduler
