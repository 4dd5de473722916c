// Package orchestrator runs a test suite across a fixed set of clouds.
//
// A single control goroutine owns scheduling: it primes every cloud with a
// job, then repeatedly acquires a cloud whose job finished (or a suspicious
// cloud that recovered), health checks it and dispatches the next queued job.
// Clouds that fail a health check move to the suspicious pool when the run
// tolerates unhealthy clouds and to the condemned pool otherwise. Teardown of
// every cloud always runs, and an operator signal cancels queued jobs and
// terminates running ones before the report is written.
package orchestrator
