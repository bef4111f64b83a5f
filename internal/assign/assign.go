package assign

import (
	"math/rand"

	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/openctf/ctfcore/internal/util"
	"gorm.io/gorm"
)

// Instance binds a team to an instance of a problem. The first call
// draws one; later calls return the recorded binding, so assignment is
// idempotent for non-reassign callers.
func Instance(db *gorm.DB, shard models.ShardConfig, pid, tid string) (*models.Instance, error) {
	team, err := database.GetTeamByTID(db, tid)
	if err != nil {
		return nil, err
	}

	if iid, ok := team.Instances[pid]; ok {
		instance, err := database.GetInstanceByIID(db, iid)
		if err == nil {
			return instance, nil
		}
		if !database.IsRecordNotFound(err) {
			return nil, err
		}
		// The stored binding no longer resolves; instances were reissued
		// by a republish. Draw again.
	}

	return draw(db, shard, team, pid)
}

// Reassign repeats the draw unconditionally, replacing any recorded
// binding.
func Reassign(db *gorm.DB, shard models.ShardConfig, pid, tid string) (*models.Instance, error) {
	team, err := database.GetTeamByTID(db, tid)
	if err != nil {
		return nil, err
	}
	return draw(db, shard, team, pid)
}

func draw(db *gorm.DB, shard models.ShardConfig, team *models.Team, pid string) (*models.Instance, error) {
	problem, err := database.GetProblemByPID(db, pid)
	if err != nil {
		if database.IsRecordNotFound(err) {
			return nil, util.Wrap(util.ErrNotFound, "unknown problem")
		}
		return nil, err
	}

	candidates := problem.Instances
	if shard.Enable {
		sharded := make([]models.Instance, 0, len(candidates))
		for _, inst := range candidates {
			if inst.ServerNumber == team.ServerNumber {
				sharded = append(sharded, inst)
			}
		}
		candidates = sharded
	}

	if len(candidates) == 0 {
		if shard.Enable {
			return nil, util.Wrap(util.ErrInternal,
				"no instance of %s on shard %d; shell-server sharding is misconfigured",
				problem.SanitizedName, team.ServerNumber)
		}
		return nil, util.Wrap(util.ErrState, "problem %s has no instances", problem.SanitizedName)
	}

	chosen := candidates[rand.Intn(len(candidates))]

	if team.Instances == nil {
		team.Instances = models.StringMap{}
	}
	team.Instances[pid] = chosen.IID
	if err := database.UpdateTeam(db, team); err != nil {
		return nil, err
	}
	return &chosen, nil
}
