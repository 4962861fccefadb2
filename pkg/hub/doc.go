// Package hub is the control plane for agent task execution.
//
// A Hub owns one priority queue per lane, a per-lane active set
// bounded by a fixed concurrency ceiling, and a single background
// dispatch goroutine that scans all lanes every 100ms. Each popped
// task runs in its own goroutine through an iterative tool use loop
// against the reasoning engine. Results are stored keyed by task id
// and evicted on a TTL, as are idle sessions.
//
// Lanes progress independently; there is no cross-lane ordering.
// Within a lane, dequeue order is priority descending with FIFO order
// preserved among equal priorities.
package hub
