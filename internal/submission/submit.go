package submission

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openctf/ctfcore/internal/achievement"
	"github.com/openctf/ctfcore/internal/assign"
	"github.com/openctf/ctfcore/internal/cache"
	"github.com/openctf/ctfcore/internal/catalog"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/openctf/ctfcore/internal/pubsub"
	"github.com/openctf/ctfcore/internal/scoring"
	"github.com/openctf/ctfcore/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Request is one flag submission.
type Request struct {
	UID    string
	TID    string
	PID    string
	Key    string
	Method string
	IP     string
}

// Result is the three-bit outcome the user-visible message derives from.
type Result struct {
	Correct          bool `json:"correct"`
	PrevSolvedByUser bool `json:"prev_solved_by_user"`
	PrevSolvedByTeam bool `json:"prev_solved_by_team"`
}

// Message renders the user-visible verdict.
func (r Result) Message() string {
	switch {
	case r.Correct && !r.PrevSolvedByUser && !r.PrevSolvedByTeam:
		return "That is correct!"
	case r.Correct && !r.PrevSolvedByUser && r.PrevSolvedByTeam:
		return "Flag correct: however, your team has already received points for this flag."
	case r.Correct && r.PrevSolvedByUser:
		return "Flag correct: however, you have already solved this problem."
	case !r.Correct && r.PrevSolvedByUser:
		return "Flag incorrect: please note that you have already solved this problem."
	case !r.Correct && r.PrevSolvedByTeam:
		return "Flag incorrect: please note that your team has already solved this problem."
	default:
		return "That is incorrect!"
	}
}

// graded applies the correctness policy: substring containment, so
// wrappers around the flag are accepted. Debug mode additionally
// accepts the configured debug key.
func graded(key, flag string, s *models.Settings) bool {
	if flag != "" && strings.Contains(key, flag) {
		return true
	}
	return s.DebugMode && s.DebugKey != "" && strings.Contains(key, s.DebugKey)
}

// Submit grades a flag against the team's assigned instance and records
// the attempt. Every user's first correct submission per pid is stored;
// the scoring projection deduplicates by pid, so team credit stays
// at-most-once even across duplicate rows.
func Submit(ctx context.Context, db *gorm.DB, store cache.Store, s *models.Settings, req Request) (Result, error) {
	var result Result

	unlocked, err := catalog.IsUnlocked(db, req.TID, req.PID)
	if err != nil {
		if database.IsRecordNotFound(err) {
			return result, util.Wrap(util.ErrNotFound, "unknown problem")
		}
		return result, err
	}
	if !unlocked {
		return result, util.Wrap(util.ErrState, "problem is not unlocked for your team")
	}

	problem, err := database.GetProblemByPID(db, req.PID)
	if err != nil {
		return result, err
	}

	instance, err := assign.Instance(db, s.Shard, req.PID, req.TID)
	if err != nil {
		return result, err
	}

	result.Correct = graded(req.Key, instance.Flag, s)

	// The previously-solved reads happen before the insert. Two racing
	// first-correct submissions may both insert; the duplicate row is
	// benign because scoring deduplicates by pid.
	result.PrevSolvedByUser, err = database.HasUserSolved(db, req.UID, req.PID)
	if err != nil {
		return result, err
	}
	result.PrevSolvedByTeam, err = database.HasTeamSolved(db, req.TID, req.PID)
	if err != nil {
		return result, err
	}

	if !result.PrevSolvedByUser {
		sub := models.Submission{
			ID:       uuid.NewString(),
			UID:      req.UID,
			TID:      req.TID,
			PID:      req.PID,
			Key:      req.Key,
			Method:   req.Method,
			IP:       req.IP,
			Category: problem.Category,
			Correct:  result.Correct,
		}
		if err := database.CreateSubmission(db, &sub); err != nil {
			return result, err
		}
	}

	if result.Correct && !result.PrevSolvedByTeam {
		onFirstTeamSolve(ctx, db, store, problem, req)
	}

	return result, nil
}

// onFirstTeamSolve fans out the invalidations a new team solve demands
// and notifies collaborators. Failures here never fail the submission.
func onFirstTeamSolve(ctx context.Context, db *gorm.DB, store cache.Store, problem *models.Problem, req Request) {
	team, err := database.GetTeamByTID(db, req.TID)
	if err != nil {
		zap.S().Errorf("post-solve: team %s lookup failed: %v", req.TID, err)
		return
	}

	if err := scoring.InvalidateTeam(ctx, db, store, req.TID); err != nil {
		zap.S().Errorf("post-solve: invalidation for team %s failed: %v", req.TID, err)
	}

	boardKeys, err := scoring.BoardKeysForTeam(db, team)
	if err == nil {
		topKeys := make([]string, 0, len(boardKeys))
		for _, k := range boardKeys {
			topKeys = append(topKeys, cache.TopProgressionsKey(k))
		}
		if err := store.Delete(ctx, topKeys...); err != nil {
			zap.S().Warnf("post-solve: top-progression invalidation failed: %v", err)
		}

		solves, cerr := database.CountSolves(db, problem.PID)
		if cerr == nil {
			_ = store.SetJSON(ctx, cache.SolveCountKey(problem.PID), solves, 0)
		}

		score, serr := scoring.TeamScore(ctx, db, store, req.TID, false)
		if serr == nil {
			pubsub.GetBroker().PublishSolve(pubsub.SolveEvent{
				TID:      team.TID,
				TeamName: team.TeamName,
				PID:      problem.PID,
				Problem:  problem.Name,
				Score:    int(score),
				Time:     time.Now(),
			}, boardKeys)
		}
	}

	achievement.Dispatch(db, achievement.Event{
		Hook: "submit",
		UID:  req.UID,
		TID:  req.TID,
		PID:  problem.PID,
	})
}
