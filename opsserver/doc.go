// Package opsserver provides the operator HTTP endpoints.
//
// The server is a chi router separate from the MCP transport. GET /healthz
// probes the isolation backend (without running user code) and any
// registered dependency checks, answering 503 when one fails. GET /metrics
// exposes the Prometheus registry and GET /livez always answers 200.
//
// Usage:
//
//	ops := opsserver.New(logger, graderService,
//	    opsserver.WithRegistry(reg),
//	    opsserver.WithCheck("storage", store.Ping))
//	if err := ops.Start(9090); err != nil {
//	    log.Fatal(err)
//	}
//	defer ops.Shutdown(ctx)
package opsserver
