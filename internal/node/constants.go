package node

import (
	"regexp"
	"time"
)

// Startup log markers printed by a worker.
var (
	// readyPattern matches the line a worker prints once its listening port is known.
	readyPattern = regexp.MustCompile(`Open H2O Flow in your web browser: (https?)://([^\s:/]+):(\d+)`)

	// formedPattern matches the line announcing the rendezvoused cluster size.
	formedPattern = regexp.MustCompile(`Cloud of size (\d+) formed`)
)

// Defaults for node supervision.
const (
	DefaultBin          = "java"
	DefaultIP           = "127.0.0.1"
	DefaultBasePort     = 40000
	DefaultPollInterval = 200 * time.Millisecond
	DefaultStopGrace    = 5 * time.Second

	// portsPerNode is how many consecutive ports one worker occupies (API + internal).
	portsPerNode = 2
)

// PortHint returns the deterministic base port requested for a node. The worker
// may bind a higher port if the hint is taken; the real one is scraped from its log.
func PortHint(basePort, groupIndex, nodeCount, nodeIndex int) int {
	return basePort + portsPerNode*(groupIndex*nodeCount+nodeIndex)
}
