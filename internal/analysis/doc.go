// Package analysis computes the memory-planning facts the static runtime
// needs from a frozen graph: the always-alive value set, the pairwise
// concurrent-liveness map, the storage-reuse candidates, and the
// same-storage partition that clusters values which may share one
// allocation. Everything here runs once at module construction; the
// per-run executor only reads the results.
package analysis
