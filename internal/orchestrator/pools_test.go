package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolsPartition(t *testing.T) {
	p := newPools(4)
	assert.Equal(t, []int{0, 1, 2, 3}, p.members(PoolAvailable))
	assert.Equal(t, 4, p.usable())

	p[1] = PoolSuspicious
	p[3] = PoolCondemned
	assert.Equal(t, []int{0, 2}, p.members(PoolAvailable))
	assert.Equal(t, []int{1}, p.members(PoolSuspicious))
	assert.Equal(t, []int{3}, p.members(PoolCondemned))
	assert.Equal(t, 3, p.usable())

	total := 0
	for _, pool := range allPools {
		total += p.count(pool)
	}
	assert.Equal(t, 4, total)

	p[0], p[1], p[2] = PoolCondemned, PoolCondemned, PoolCondemned
	assert.Zero(t, p.usable())
}
