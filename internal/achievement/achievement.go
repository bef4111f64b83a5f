package achievement

import (
	"sync"

	"github.com/google/uuid"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Processors are registered in-process by key; an achievement record
// names the processor that decides whether it was earned. A failing or
// missing processor is isolated from the submission path.

// Event carries the hook context a processor evaluates.
type Event struct {
	Hook string // "submit", "review"
	UID  string
	TID  string
	PID  string
	Data map[string]interface{}
}

// Processor returns whether the achievement fires, and optional
// instance info persisted with the earned record.
type Processor func(db *gorm.DB, event Event) (bool, map[string]interface{})

var (
	mu         sync.RWMutex
	processors = make(map[string]Processor)
)

// Register binds a processor key. Later registrations overwrite.
func Register(key string, p Processor) {
	mu.Lock()
	defer mu.Unlock()
	processors[key] = p
}

func lookup(key string) (Processor, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := processors[key]
	return p, ok
}

// Dispatch evaluates every active achievement not yet earned by the
// team (or marked multiple) against the event. Individual processor
// failures are logged and skipped.
func Dispatch(db *gorm.DB, event Event) {
	achievements, err := database.GetActiveAchievements(db)
	if err != nil {
		zap.S().Warnf("achievement dispatch: list failed: %v", err)
		return
	}

	for _, a := range achievements {
		if !a.Multiple {
			earned, err := database.HasEarnedAchievement(db, a.AID, event.TID)
			if err != nil || earned {
				continue
			}
		}

		p, ok := lookup(a.ProcessorKey)
		if !ok {
			zap.S().Warnf("achievement %s references unknown processor %q", a.AID, a.ProcessorKey)
			continue
		}

		fired, info := safeEval(p, db, event, a.AID)
		if !fired {
			continue
		}

		record := models.EarnedAchievement{
			ID:   uuid.NewString(),
			AID:  a.AID,
			UID:  event.UID,
			TID:  event.TID,
			Data: info,
		}
		if err := database.CreateEarnedAchievement(db, &record); err != nil {
			zap.S().Warnf("achievement %s: record insert failed: %v", a.AID, err)
		}
	}
}

func safeEval(p Processor, db *gorm.DB, event Event, aid string) (fired bool, info map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("achievement processor for %s panicked: %v", aid, r)
			fired = false
		}
	}()
	return p(db, event)
}
