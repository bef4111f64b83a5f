package catalog

import (
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/openctf/ctfcore/internal/util"
	"gorm.io/gorm"
)

// WalkthroughCost is the token price of one walkthrough unlock.
const WalkthroughCost = 3

// WalkthroughUnlocked reports whether the user may read the walkthrough
// for pid: their team solved it, or they purchased it.
func WalkthroughUnlocked(db *gorm.DB, user *models.User, pid string) (bool, error) {
	if user.UnlockedWalkthroughs.Contains(pid) {
		return true, nil
	}
	solved, err := database.HasTeamSolved(db, user.TID, pid)
	if err != nil {
		return false, err
	}
	return solved, nil
}

// PurchaseWalkthrough spends tokens to unlock a walkthrough. The
// decrement and the append are one conditional update: it applies only
// if the balance still covers the cost and the pid is still locked, so
// two racing purchases debit at most once.
func PurchaseWalkthrough(db *gorm.DB, uid, pid string) error {
	problem, err := database.GetProblemByPID(db, pid)
	if err != nil {
		if database.IsRecordNotFound(err) {
			return util.Wrap(util.ErrNotFound, "unknown problem")
		}
		return err
	}
	if !problem.HasWalkthrough {
		return util.Wrap(util.ErrState, "problem has no walkthrough")
	}

	for attempt := 0; attempt < 3; attempt++ {
		user, err := database.GetUserByUID(db, uid)
		if err != nil {
			return err
		}
		if user.UnlockedWalkthroughs.Contains(pid) {
			return util.Wrap(util.ErrState, "walkthrough already unlocked")
		}
		if user.Tokens < WalkthroughCost {
			return util.Wrap(util.ErrState, "insufficient tokens")
		}

		unlocked := append(models.StringList{}, user.UnlockedWalkthroughs...)
		unlocked = append(unlocked, pid)

		res := db.Model(&models.User{}).
			Where("uid = ? AND tokens = ?", uid, user.Tokens).
			Updates(map[string]interface{}{
				"tokens":                user.Tokens - WalkthroughCost,
				"unlocked_walkthroughs": unlocked,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}
		// Lost the race on the balance; re-read and retry.
	}
	return util.Wrap(util.ErrInternal, "walkthrough purchase contention")
}

// CompleteMinigame credits the reward for a minigame exactly once per
// user, with the same conditional-update shape as walkthrough purchase.
func CompleteMinigame(db *gorm.DB, uid, mid string, reward int) error {
	for attempt := 0; attempt < 3; attempt++ {
		user, err := database.GetUserByUID(db, uid)
		if err != nil {
			return err
		}
		if user.CompletedMinigames.Contains(mid) {
			return util.Wrap(util.ErrState, "minigame already completed")
		}

		completed := append(models.StringList{}, user.CompletedMinigames...)
		completed = append(completed, mid)

		res := db.Model(&models.User{}).
			Where("uid = ? AND tokens = ?", uid, user.Tokens).
			Updates(map[string]interface{}{
				"tokens":              user.Tokens + reward,
				"completed_minigames": completed,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}
	}
	return util.Wrap(util.ErrInternal, "minigame reward contention")
}
