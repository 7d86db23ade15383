// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the grading service as MCP tools: run_code
// for ungraded scratch runs, submit_code, submit_multiple_choice and
// submit_fill_blank for recorded attempts, get_progress and
// probe_isolation_backend. It uses the mark3labs/mcp-go library to handle the
// protocol details. Tool results are JSON documents in a single text content.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, graderService)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP(), stopped by server.Shutdown(ctx)
package mcpserver
