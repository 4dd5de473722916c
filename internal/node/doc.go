// Package node supervises a single worker process: it builds the launch command,
// discovers the address the worker actually bound by scraping its startup log,
// and shuts it down gracefully then forcibly.
package node
