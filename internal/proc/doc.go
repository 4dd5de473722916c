// Package proc supervises child processes for the orchestrator: each child runs
// in its own process group with combined output redirected to a log file, is
// reaped by a dedicated goroutine, and is shut down gracefully then forcibly.
package proc
