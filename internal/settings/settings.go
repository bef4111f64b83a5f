package settings

import (
	"time"

	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/openctf/ctfcore/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// The runtime settings live in a single store row. Consumers call Get on
// every request; there is no process-local copy to go stale.

const settingsRowID = 1

// Default returns the settings a fresh deployment starts with.
func Default() models.Settings {
	return models.Settings{
		ID:              settingsRowID,
		CompetitionName: "CTF",
		StartTime:       time.Now(),
		EndTime:         time.Now().Add(30 * 24 * time.Hour),
		MaxTeamSize:     5,
		GroupLimit:      20,
		Shard: models.ShardConfig{
			Enable:          false,
			DefaultStepping: 5000,
			Steps:           []int{},
			LimitAddedRange: false,
		},
		BannedPorts: models.PortRangeList{
			{Start: 0, End: 1024},
		},
		MinigameTokenValues: models.IntMap{},
	}
}

// Get loads the settings row, creating it with defaults on first use.
func Get(db *gorm.DB) (*models.Settings, error) {
	var s models.Settings
	err := db.Where("id = ?", settingsRowID).First(&s).Error
	if database.IsRecordNotFound(err) {
		s = Default()
		if err := db.Create(&s).Error; err != nil {
			return nil, err
		}
		zap.S().Info("initialized default settings")
		return &s, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Update validates and persists new settings. The row id is pinned so a
// caller can never fork a second configuration row.
func Update(db *gorm.DB, s *models.Settings) error {
	if s.MaxTeamSize < 1 {
		return util.Wrap(util.ErrValidation, "max_team_size must be at least 1")
	}
	if s.GroupLimit < 0 {
		return util.Wrap(util.ErrValidation, "group_limit must be non-negative")
	}
	if s.EndTime.Before(s.StartTime) {
		return util.Wrap(util.ErrValidation, "end_time precedes start_time")
	}
	if s.Shard.DefaultStepping < 1 {
		return util.Wrap(util.ErrValidation, "default_stepping must be positive")
	}
	prev := s.Shard.Steps
	for i := 1; i < len(prev); i++ {
		if prev[i] <= prev[i-1] {
			return util.Wrap(util.ErrValidation, "sharding steps must be strictly increasing")
		}
	}
	s.ID = settingsRowID
	return db.Save(s).Error
}

// CompetitionActive reports whether the competition window is open.
func CompetitionActive(s *models.Settings) bool {
	now := time.Now()
	return !now.Before(s.StartTime) && !now.After(s.EndTime)
}

// CompetitionStarted reports whether the competition has begun.
func CompetitionStarted(s *models.Settings) bool {
	return !time.Now().Before(s.StartTime)
}
