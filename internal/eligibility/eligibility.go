package eligibility

import (
	"fmt"

	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"gorm.io/gorm"
)

// A scoreboard's eligibility conditions form a flat attribute predicate
// over User. A scalar value means equality; {"$in": [...]} means set
// membership. Evaluating the predicate against the users collection
// restricted to one uid either matches the row or does not.

// Satisfies reports whether the user matches every condition.
func Satisfies(user *models.User, conditions models.JSONMap) bool {
	for field, want := range conditions {
		got, ok := attribute(user, field)
		if !ok {
			return false
		}
		if !matches(got, want) {
			return false
		}
	}
	return true
}

func matches(got string, want interface{}) bool {
	switch w := want.(type) {
	case map[string]interface{}:
		list, ok := w["$in"].([]interface{})
		if !ok {
			return false
		}
		for _, v := range list {
			if scalar(v) == got {
				return true
			}
		}
		return false
	default:
		return scalar(want) == got
	}
}

func scalar(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		if s {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func attribute(user *models.User, field string) (string, bool) {
	switch field {
	case "usertype":
		return string(user.Usertype), true
	case "country":
		return user.Country, true
	case "affiliation":
		return user.Affiliation, true
	case "email":
		return user.Email, true
	case "demo_age", "age":
		return user.AgeBand, true
	case "verified":
		return scalar(user.Verified), true
	case "teacher":
		return scalar(user.Teacher), true
	default:
		return "", false
	}
}

// TeamEligibilities derives the scoreboard-id set a team qualifies for:
// the intersection over its non-disabled members of each member's
// individually satisfied scoreboards.
func TeamEligibilities(db *gorm.DB, tid string) (models.StringList, error) {
	members, err := database.GetTeamMembers(db, tid)
	if err != nil {
		return nil, err
	}
	boards, err := database.GetAllScoreboards(db)
	if err != nil {
		return nil, err
	}

	eligible := models.StringList{}
	for _, board := range boards {
		all := true
		for i := range members {
			if !Satisfies(&members[i], board.EligibilityConditions) {
				all = false
				break
			}
		}
		if all && len(members) > 0 {
			eligible = append(eligible, board.SID)
		}
	}
	return eligible, nil
}

// Recompute refreshes a team's stored eligibility set after a
// composition change.
func Recompute(db *gorm.DB, tid string) (*models.Team, error) {
	team, err := database.GetTeamByTID(db, tid)
	if err != nil {
		return nil, err
	}
	eligible, err := TeamEligibilities(db, tid)
	if err != nil {
		return nil, err
	}
	team.Eligibilities = eligible
	if err := database.UpdateTeam(db, team); err != nil {
		return nil, err
	}
	return team, nil
}
