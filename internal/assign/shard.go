package assign

import (
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"gorm.io/gorm"
)

// ServerNumberForPosition computes the shard for the k-th team
// (0-indexed). steps=[s1<s2<...] assigns 1 for k<s1, 2 for s1<=k<s2 and
// so on; beyond the last step the default stepping takes over.
func ServerNumberForPosition(k int, shard models.ShardConfig) int {
	for i, step := range shard.Steps {
		if k < step {
			return i + 1
		}
	}
	base := len(shard.Steps)
	offset := k
	if base > 0 {
		offset = k - shard.Steps[base-1]
	}
	stepping := shard.DefaultStepping
	if stepping < 1 {
		stepping = 1
	}
	return base + offset/stepping + 1
}

// NextServerNumber assigns the shard for a newly created team from the
// current team count, optionally capped at the highest installed
// shell-server number.
func NextServerNumber(db *gorm.DB, shard models.ShardConfig) (int, error) {
	if !shard.Enable {
		return 1, nil
	}
	count, err := database.CountTeams(db)
	if err != nil {
		return 0, err
	}
	number := ServerNumberForPosition(int(count), shard)
	if shard.LimitAddedRange {
		max, err := database.MaxServerNumber(db)
		if err != nil {
			return 0, err
		}
		if max > 0 && number > max {
			number = max
		}
	}
	return number, nil
}

// ReassignServerNumbers recomputes every team's shard from its position
// in insertion order rather than the unbounded live count. Used after
// sharding settings change.
func ReassignServerNumbers(db *gorm.DB, shard models.ShardConfig) error {
	teams, err := database.GetAllTeams(db)
	if err != nil {
		return err
	}
	max := 0
	if shard.LimitAddedRange {
		if max, err = database.MaxServerNumber(db); err != nil {
			return err
		}
	}
	for k := range teams {
		number := ServerNumberForPosition(k, shard)
		if shard.LimitAddedRange && max > 0 && number > max {
			number = max
		}
		if teams[k].ServerNumber == number {
			continue
		}
		teams[k].ServerNumber = number
		if err := database.UpdateTeam(db, &teams[k]); err != nil {
			return err
		}
	}
	return nil
}
