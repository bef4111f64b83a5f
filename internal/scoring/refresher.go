package scoring

import (
	"context"
	"time"

	"github.com/openctf/ctfcore/internal/cache"
	"github.com/openctf/ctfcore/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TopProgressionLimit is how many leading teams get precomputed trend
// lines per board.
const TopProgressionLimit = 10

// statsTTL covers values only the refresher writes; generous because
// the refresher overwrites them every cycle anyway.
const statsTTL = 30 * time.Minute

// RegistrationStats is the cached registration counter set.
type RegistrationStats struct {
	Users int64 `json:"users"`
	Teams int64 `json:"teams"`
}

// Refresher periodically recomputes every cached scoreboard and
// aggregate. All of its outputs are derivable from the store, so a
// skipped or failed cycle never corrupts state.
type Refresher struct {
	db       *gorm.DB
	store    cache.Store
	interval time.Duration
}

func NewRefresher(db *gorm.DB, store cache.Store, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{db: db, store: store, interval: interval}
}

// Run blocks until ctx is done, refreshing on every tick.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.RefreshAll(ctx); err != nil {
			zap.S().Errorf("scoreboard refresh failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RefreshAll recomputes registration stats, every team's published
// score, top-N progressions per board, and per-problem solve counts.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	start := time.Now()

	users, err := database.CountUsers(r.db)
	if err != nil {
		return err
	}
	teamCount, err := database.CountTeams(r.db)
	if err != nil {
		return err
	}
	stats := RegistrationStats{Users: users, Teams: teamCount}
	if err := r.store.SetJSON(ctx, cache.RegistrationStatsKey(), stats, statsTTL); err != nil {
		return err
	}

	teams, err := database.GetAllTeams(r.db)
	if err != nil {
		return err
	}
	boardKeys := make(map[string]bool)
	for i := range teams {
		if err := PublishScore(ctx, r.db, r.store, teams[i].TID, true); err != nil {
			zap.S().Warnf("refresh: publish score for team %s: %v", teams[i].TID, err)
			continue
		}
		keys, err := BoardKeysForTeam(r.db, &teams[i])
		if err != nil {
			continue
		}
		for _, k := range keys {
			boardKeys[k] = true
		}
	}

	for key := range boardKeys {
		if _, err := TopProgressions(ctx, r.db, r.store, key, TopProgressionLimit, true); err != nil {
			zap.S().Warnf("refresh: top progressions for %s: %v", key, err)
		}
	}

	problems, err := database.GetAllProblems(r.db)
	if err != nil {
		return err
	}
	for _, p := range problems {
		count, err := database.CountSolves(r.db, p.PID)
		if err != nil {
			continue
		}
		if err := r.store.SetJSON(ctx, cache.SolveCountKey(p.PID), count, statsTTL); err != nil {
			zap.S().Warnf("refresh: solve count for %s: %v", p.PID, err)
		}
	}

	zap.S().Debugf("scoreboard refresh completed in %s", time.Since(start))
	return nil
}
