package orchestrator

import "sort"

// Pool is the standing of a cloud. Every cloud is in exactly one pool.
type Pool string

// Cloud pools.
const (
	// PoolAvailable holds clouds in good standing, idle or running a job.
	PoolAvailable Pool = "available"

	// PoolSuspicious holds clouds that failed a health check and may recover.
	PoolSuspicious Pool = "suspicious"

	// PoolCondemned holds clouds permanently excluded from scheduling.
	PoolCondemned Pool = "condemned"
)

var allPools = []Pool{PoolAvailable, PoolSuspicious, PoolCondemned}

// pools maps cloud index to pool. Keying a single map by cloud makes a cloud
// in two pools unrepresentable. Callers hold Orchestrator.mu.
type pools map[int]Pool

func newPools(n int) pools {
	p := make(pools, n)
	for i := 0; i < n; i++ {
		p[i] = PoolAvailable
	}
	return p
}

// members returns the indices in pool, ascending.
func (p pools) members(pool Pool) []int {
	var out []int
	for idx, in := range p {
		if in == pool {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

func (p pools) count(pool Pool) int {
	n := 0
	for _, in := range p {
		if in == pool {
			n++
		}
	}
	return n
}

// usable counts clouds that may still run a job.
func (p pools) usable() int {
	return p.count(PoolAvailable) + p.count(PoolSuspicious)
}
