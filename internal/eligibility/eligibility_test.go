package eligibility

import (
	"testing"

	"github.com/google/uuid"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.InitMemory()
	require.NoError(t, err)
	return db
}

func TestSatisfies(t *testing.T) {
	user := &models.User{
		Usertype:    models.UsertypeStudent,
		Country:     "US",
		Email:       "kid@school.edu",
		AgeBand:     "13-17",
		Verified:    true,
		Affiliation: "CMU",
	}

	cases := []struct {
		name       string
		conditions models.JSONMap
		want       bool
	}{
		{"empty predicate matches everyone", models.JSONMap{}, true},
		{"equality match", models.JSONMap{"usertype": "student"}, true},
		{"equality mismatch", models.JSONMap{"usertype": "teacher"}, false},
		{"conjunction", models.JSONMap{"usertype": "student", "country": "US"}, true},
		{"conjunction with one miss", models.JSONMap{"usertype": "student", "country": "CA"}, false},
		{"$in match", models.JSONMap{"country": map[string]interface{}{"$in": []interface{}{"US", "CA"}}}, true},
		{"$in miss", models.JSONMap{"country": map[string]interface{}{"$in": []interface{}{"DE", "FR"}}}, false},
		{"bool attribute", models.JSONMap{"verified": true}, true},
		{"age band", models.JSONMap{"demo_age": "13-17"}, true},
		{"unknown attribute never matches", models.JSONMap{"shoe_size": "11"}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Satisfies(user, tc.conditions), tc.name)
	}
}

func addBoard(t *testing.T, db *gorm.DB, name string, conditions models.JSONMap) *models.Scoreboard {
	t.Helper()
	board := models.Scoreboard{SID: uuid.NewString(), Name: name, EligibilityConditions: conditions}
	require.NoError(t, database.CreateScoreboard(db, &board))
	return &board
}

func addMember(t *testing.T, db *gorm.DB, tid, name string, usertype models.Usertype, country string) *models.User {
	t.Helper()
	user := models.User{
		UID:      uuid.NewString(),
		Username: name,
		Usertype: usertype,
		Country:  country,
		Verified: true,
		TID:      tid,
	}
	require.NoError(t, database.CreateUser(db, &user))
	return &user
}

func TestTeamEligibilityIsIntersection(t *testing.T) {
	db := newTestDB(t)
	open := addBoard(t, db, "open", models.JSONMap{})
	hs := addBoard(t, db, "high-school", models.JSONMap{"usertype": "student"})
	us := addBoard(t, db, "us-only", models.JSONMap{"country": "US"})

	team := models.Team{TID: uuid.NewString(), TeamName: "plaid", Size: 2, Instances: models.StringMap{}}
	require.NoError(t, database.CreateTeam(db, &team))
	addMember(t, db, team.TID, "alice", models.UsertypeStudent, "US")
	addMember(t, db, team.TID, "bob", models.UsertypeCollege, "US")

	eligible, err := TeamEligibilities(db, team.TID)
	require.NoError(t, err)
	assert.Contains(t, eligible, open.SID)
	assert.Contains(t, eligible, us.SID)
	assert.NotContains(t, eligible, hs.SID, "one ineligible member sinks the board")
}

func TestEmptyTeamHasNoBoards(t *testing.T) {
	db := newTestDB(t)
	addBoard(t, db, "open", models.JSONMap{})

	team := models.Team{TID: uuid.NewString(), TeamName: "ghosts", Instances: models.StringMap{}}
	require.NoError(t, database.CreateTeam(db, &team))

	eligible, err := TeamEligibilities(db, team.TID)
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestDisabledMembersDoNotCount(t *testing.T) {
	db := newTestDB(t)
	hs := addBoard(t, db, "high-school", models.JSONMap{"usertype": "student"})

	team := models.Team{TID: uuid.NewString(), TeamName: "plaid", Size: 1, Instances: models.StringMap{}}
	require.NoError(t, database.CreateTeam(db, &team))
	addMember(t, db, team.TID, "alice", models.UsertypeStudent, "US")
	spoiler := addMember(t, db, team.TID, "bob", models.UsertypeCollege, "US")

	require.NoError(t, db.Model(&models.User{}).Where("uid = ?", spoiler.UID).Update("disabled", true).Error)

	eligible, err := TeamEligibilities(db, team.TID)
	require.NoError(t, err)
	assert.Contains(t, eligible, hs.SID, "disabled members drop out of the intersection")
}

func TestRecomputeStoresEligibilities(t *testing.T) {
	db := newTestDB(t)
	open := addBoard(t, db, "open", models.JSONMap{})

	team := models.Team{TID: uuid.NewString(), TeamName: "plaid", Size: 1, Instances: models.StringMap{}}
	require.NoError(t, database.CreateTeam(db, &team))
	addMember(t, db, team.TID, "alice", models.UsertypeStudent, "US")

	updated, err := Recompute(db, team.TID)
	require.NoError(t, err)
	assert.Contains(t, updated.Eligibilities, open.SID)

	stored, err := database.GetTeamByTID(db, team.TID)
	require.NoError(t, err)
	assert.Contains(t, stored.Eligibilities, open.SID)
}
