// Package metrics provides the Prometheus collectors of the grading service.
//
// Metrics implements execution.Observer and sandbox.Tracker so it can be
// handed directly to the coordinator and the runtime.
package metrics
