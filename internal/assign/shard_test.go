package assign

import (
	"testing"

	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/stretchr/testify/assert"
)

func TestServerNumberForPosition(t *testing.T) {
	shard := models.ShardConfig{
		Enable:          true,
		DefaultStepping: 100,
		Steps:           []int{10, 30},
	}

	cases := []struct {
		k    int
		want int
	}{
		{0, 1},
		{9, 1},
		{10, 2},
		{29, 2},
		{30, 3},   // first position past the explicit steps
		{129, 3},  // default stepping of 100 from position 30
		{130, 4},
		{229, 4},
		{230, 5},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ServerNumberForPosition(tc.k, shard), "position %d", tc.k)
	}
}

func TestServerNumberForPositionNoSteps(t *testing.T) {
	shard := models.ShardConfig{Enable: true, DefaultStepping: 5000}

	assert.Equal(t, 1, ServerNumberForPosition(0, shard))
	assert.Equal(t, 1, ServerNumberForPosition(4999, shard))
	assert.Equal(t, 2, ServerNumberForPosition(5000, shard))
	assert.Equal(t, 3, ServerNumberForPosition(10000, shard))
}

func TestServerNumberForPositionDegenerateStepping(t *testing.T) {
	// A zero stepping would divide by zero; it is clamped to 1.
	shard := models.ShardConfig{Enable: true, DefaultStepping: 0}
	assert.Equal(t, 1, ServerNumberForPosition(0, shard))
	assert.Equal(t, 4, ServerNumberForPosition(3, shard))
}
