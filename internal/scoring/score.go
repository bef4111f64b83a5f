package scoring

import (
	"context"
	"sort"
	"time"

	"github.com/openctf/ctfcore/internal/cache"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"gorm.io/gorm"
)

// Scores in the rank sets are floats: the integer problem total minus a
// decimal derived from the latest solve time, so equal totals rank
// earlier finishers higher. Consumers truncate for display and keep the
// float for ordering.
const tiebreakScale = 1e-10

// scoreTTL bounds staleness of memoized team scores between
// invalidations.
const scoreTTL = 2 * time.Minute

// Tiebreak converts the most recent correct-submission time into the
// fractional score component. No solve means no fraction.
func Tiebreak(latest time.Time) float64 {
	if latest.IsZero() {
		return 0
	}
	return 1 - float64(latest.Unix())*tiebreakScale
}

// TeamScore computes a team's ordering score: the sum of problem scores
// over distinct solved pids in the union of team submissions and current
// members' submissions (capturing prior self-team solves), plus the
// time tiebreak.
func TeamScore(ctx context.Context, db *gorm.DB, store cache.Store, tid string, reset bool) (float64, error) {
	return cache.Memoize(ctx, store, cache.TeamScoreKey(tid), scoreTTL, reset, func() (float64, error) {
		return computeTeamScore(db, tid)
	})
}

func computeTeamScore(db *gorm.DB, tid string) (float64, error) {
	members, err := database.GetTeamMembers(db, tid)
	if err != nil {
		return 0, err
	}
	uids := make([]string, 0, len(members))
	for _, m := range members {
		uids = append(uids, m.UID)
	}

	subs, err := database.GetCorrectSubmissionsForTeam(db, tid, uids)
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, nil
	}

	scores, err := problemScores(db)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool)
	total := 0
	var latest time.Time
	for _, s := range subs {
		if !seen[s.PID] {
			seen[s.PID] = true
			total += scores[s.PID]
		}
		if s.CreatedAt.After(latest) {
			latest = s.CreatedAt
		}
	}
	return float64(total) + Tiebreak(latest), nil
}

func problemScores(db *gorm.DB) (map[string]int, error) {
	problems, err := database.GetAllProblems(db)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]int, len(problems))
	for _, p := range problems {
		scores[p.PID] = p.Score
	}
	return scores, nil
}

// ProgressionPoint is one step of a team's cumulative score over time.
type ProgressionPoint struct {
	Score int       `json:"score"`
	Time  time.Time `json:"time"`
}

// TeamScoreProgression returns (cumulative-score, solve-time) pairs
// sorted by time, each pid contributing exactly once on first solve.
// The uncategorized progression is memoized; InvalidateTeam drops it.
// Category-filtered reads are rare enough to compute directly.
func TeamScoreProgression(ctx context.Context, db *gorm.DB, store cache.Store, tid, category string) ([]ProgressionPoint, error) {
	if category != "" {
		return computeProgression(db, tid, category)
	}
	return cache.Memoize(ctx, store, cache.TeamProgressionKey(tid, ""), scoreTTL, false, func() ([]ProgressionPoint, error) {
		return computeProgression(db, tid, "")
	})
}

func computeProgression(db *gorm.DB, tid, category string) ([]ProgressionPoint, error) {
	members, err := database.GetTeamMembers(db, tid)
	if err != nil {
		return nil, err
	}
	uids := make([]string, 0, len(members))
	for _, m := range members {
		uids = append(uids, m.UID)
	}

	subs, err := database.GetCorrectSubmissionsForTeam(db, tid, uids)
	if err != nil {
		return nil, err
	}

	scores, err := problemScores(db)
	if err != nil {
		return nil, err
	}

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})

	seen := make(map[string]bool)
	cumulative := 0
	points := make([]ProgressionPoint, 0, len(subs))
	for _, s := range subs {
		if seen[s.PID] {
			continue
		}
		seen[s.PID] = true
		if category != "" && s.Category != category {
			continue
		}
		cumulative += scores[s.PID]
		points = append(points, ProgressionPoint{Score: cumulative, Time: s.CreatedAt})
	}
	return points, nil
}

// BoardKeysForTeam lists the sorted-set keys a team appears in: one per
// eligible scoreboard, one per group it belongs to in any role.
func BoardKeysForTeam(db *gorm.DB, team *models.Team) ([]string, error) {
	keys := make([]string, 0, len(team.Eligibilities)+1)
	for _, sid := range team.Eligibilities {
		keys = append(keys, cache.ScoreboardKey(sid))
	}
	groups, err := database.GetGroupsForTeam(db, team.TID)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		keys = append(keys, cache.GroupBoardKey(g.GID))
	}
	return keys, nil
}

// PublishScore recomputes a team's score and writes it to every board
// the team appears on.
func PublishScore(ctx context.Context, db *gorm.DB, store cache.Store, tid string, reset bool) error {
	team, err := database.GetTeamByTID(db, tid)
	if err != nil {
		return err
	}
	score, err := TeamScore(ctx, db, store, tid, reset)
	if err != nil {
		return err
	}
	keys, err := BoardKeysForTeam(db, team)
	if err != nil {
		return err
	}
	entry := cache.Entry{TID: team.TID, Name: team.TeamName, Affiliation: team.Affiliation}
	for _, key := range keys {
		if err := store.RankAdd(ctx, key, entry, score); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateTeam drops every memoized value derived from a team's solve
// set and republishes its score. Called on solve transitions and
// membership changes.
func InvalidateTeam(ctx context.Context, db *gorm.DB, store cache.Store, tid string) error {
	keys := []string{
		cache.TeamScoreKey(tid),
		cache.TeamProgressionKey(tid, ""),
		cache.UnlockedKey(tid),
	}
	if err := store.Delete(ctx, keys...); err != nil {
		return err
	}
	return PublishScore(ctx, db, store, tid, true)
}
