// Package scenario declares simulated user behavior for load tests.
//
// A Descriptor is plain data: weighted tasks, pacing bounds and two hook
// actions. Nothing here inspects a response; the runner owns execution.
package scenario
