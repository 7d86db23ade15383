// Package main is the entry point for the codegrade MCP server.
//
// The codegrade server grades Python submissions for a programming course.
// Submitted code passes a safety denylist, runs in a throwaway container with
// no network, capped memory and CPU and a wall-clock timeout, is scored by a
// deterministic rubric or test cases, and the attempt is reconciled into the
// submitter's progress record. Multiple choice and fill-in-the-blank answers
// are graded and recorded the same way.
//
// Tools are exposed over the Model Context Protocol on stdio or HTTP. A
// separate operator port serves /healthz and /metrics, and a cron job reaps
// sandboxes left behind by crashed runs.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
