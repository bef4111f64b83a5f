package catalog

import (
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"gorm.io/gorm"
)

// SolvedSanitizedNames returns the sanitized names of problems the team
// has solved, deduplicated by pid.
func SolvedSanitizedNames(db *gorm.DB, tid string) (map[string]bool, error) {
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

	solvedPIDs := make(map[string]bool)
	for _, s := range subs {
		solvedPIDs[s.PID] = true
	}

	problems, err := database.GetAllProblems(db)
	if err != nil {
		return nil, err
	}
	solved := make(map[string]bool)
	for _, p := range problems {
		if solvedPIDs[p.PID] {
			solved[p.SanitizedName] = true
		}
	}
	return solved, nil
}

// unlockedBySolves evaluates the bundle dependency graph for one
// sanitized name against a solved set. Problems not listed in any
// dependency-enabled bundle's map are unlocked by default.
func unlockedBySolves(sanitized string, bundles []models.Bundle, solved map[string]bool) bool {
	for _, b := range bundles {
		if !b.DependenciesEnabled {
			continue
		}
		dep, ok := b.Dependencies[sanitized]
		if !ok {
			continue
		}
		weight := 0
		for name, w := range dep.Weightmap {
			if solved[name] {
				weight += w
			}
		}
		if weight < dep.Threshold {
			return false
		}
	}
	return true
}

// UnlockedPIDs returns the set of problem ids currently unlocked for a
// team. Disabled problems are never unlocked.
func UnlockedPIDs(db *gorm.DB, tid string) (map[string]bool, error) {
	problems, err := database.GetAllProblems(db)
	if err != nil {
		return nil, err
	}
	bundles, err := database.GetAllBundles(db)
	if err != nil {
		return nil, err
	}
	solved, err := SolvedSanitizedNames(db, tid)
	if err != nil {
		return nil, err
	}

	unlocked := make(map[string]bool)
	for _, p := range problems {
		if p.Disabled {
			continue
		}
		if unlockedBySolves(p.SanitizedName, bundles, solved) {
			unlocked[p.PID] = true
		}
	}
	return unlocked, nil
}

// IsUnlocked reports whether one problem is unlocked for the team.
func IsUnlocked(db *gorm.DB, tid, pid string) (bool, error) {
	problem, err := database.GetProblemByPID(db, pid)
	if err != nil {
		return false, err
	}
	if problem.Disabled {
		return false, nil
	}
	bundles, err := database.GetAllBundles(db)
	if err != nil {
		return false, err
	}
	solved, err := SolvedSanitizedNames(db, tid)
	if err != nil {
		return false, err
	}
	return unlockedBySolves(problem.SanitizedName, bundles, solved), nil
}
