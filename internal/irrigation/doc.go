// Package irrigation is the valve controller core: a fixed arena of weekly
// schedules, a per-channel session state machine with a safety timeout, and
// a Controller that advances both from a periodic Update call.
//
// The core is single-threaded. Nothing in it starts goroutines or takes
// locks; callers serialize access (see internal/control).
package irrigation
