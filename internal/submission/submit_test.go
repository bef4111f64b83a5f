package submission

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/openctf/ctfcore/internal/cache"
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

func testSettings() *models.Settings {
	return &models.Settings{ID: 1, MaxTeamSize: 5}
}

func addTeamWithUser(t *testing.T, db *gorm.DB, name string) (*models.Team, *models.User) {
	t.Helper()
	team := models.Team{
		TID:          uuid.NewString(),
		TeamName:     name,
		Size:         1,
		Instances:    models.StringMap{},
		ServerNumber: 1,
	}
	require.NoError(t, database.CreateTeam(db, &team))
	user := models.User{
		UID:      uuid.NewString(),
		Username: name,
		Usertype: models.UsertypeStudent,
		Verified: true,
		TID:      team.TID,
	}
	require.NoError(t, database.CreateUser(db, &user))
	return &team, &user
}

func addUserOnTeam(t *testing.T, db *gorm.DB, team *models.Team, name string) *models.User {
	t.Helper()
	user := models.User{
		UID:      uuid.NewString(),
		Username: name,
		Usertype: models.UsertypeStudent,
		Verified: true,
		TID:      team.TID,
	}
	require.NoError(t, database.CreateUser(db, &user))
	team.Size++
	require.NoError(t, database.UpdateTeam(db, team))
	return &user
}

func addProblemWithInstance(t *testing.T, db *gorm.DB, name, flag string) *models.Problem {
	t.Helper()
	problem := models.Problem{
		PID:           uuid.NewString(),
		Name:          name,
		SanitizedName: name,
		Score:         100,
		Category:      "Cryptography",
	}
	require.NoError(t, database.SaveProblem(db, &problem))
	require.NoError(t, db.Create(&models.Instance{
		IID:          uuid.NewString(),
		PID:          problem.PID,
		SID:          "s1",
		ServerNumber: 1,
		Flag:         flag,
		Kind:         models.KindService,
		Port:         5001,
	}).Error)
	return &problem
}

func submit(t *testing.T, db *gorm.DB, store cache.Store, user *models.User, pid, key string) Result {
	t.Helper()
	result, err := Submit(context.Background(), db, store, testSettings(), Request{
		UID: user.UID, TID: user.TID, PID: pid, Key: key, Method: "web",
	})
	require.NoError(t, err)
	return result
}

func TestResultMessages(t *testing.T) {
	cases := []struct {
		result Result
		want   string
	}{
		{Result{Correct: true}, "That is correct!"},
		{Result{Correct: true, PrevSolvedByTeam: true},
			"Flag correct: however, your team has already received points for this flag."},
		{Result{Correct: true, PrevSolvedByUser: true, PrevSolvedByTeam: true},
			"Flag correct: however, you have already solved this problem."},
		{Result{PrevSolvedByUser: true, PrevSolvedByTeam: true},
			"Flag incorrect: please note that you have already solved this problem."},
		{Result{PrevSolvedByTeam: true},
			"Flag incorrect: please note that your team has already solved this problem."},
		{Result{}, "That is incorrect!"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.result.Message())
	}
}

func TestSubstringGrading(t *testing.T) {
	s := testSettings()
	assert.True(t, graded("flag{abc}", "flag{abc}", s))
	assert.True(t, graded("the flag is flag{abc} btw", "flag{abc}", s), "wrappers around the flag pass")
	assert.False(t, graded("flag{ab}", "flag{abc}", s))
	assert.False(t, graded("anything", "", s), "an empty flag never matches")

	s.DebugMode = true
	s.DebugKey = "debug-skeleton"
	assert.True(t, graded("debug-skeleton", "flag{abc}", s))
	s.DebugMode = false
	assert.False(t, graded("debug-skeleton", "flag{abc}", s))
}

func TestFirstCorrectSubmission(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	_, user := addTeamWithUser(t, db, "alpha")
	problem := addProblemWithInstance(t, db, "rsa", "flag{rsa}")

	result := submit(t, db, store, user, problem.PID, "flag{rsa}")
	assert.True(t, result.Correct)
	assert.False(t, result.PrevSolvedByUser)
	assert.False(t, result.PrevSolvedByTeam)

	solved, err := database.HasTeamSolved(db, user.TID, problem.PID)
	require.NoError(t, err)
	assert.True(t, solved)
}

func TestRepeatSubmissionBySameUser(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	_, user := addTeamWithUser(t, db, "alpha")
	problem := addProblemWithInstance(t, db, "rsa", "flag{rsa}")

	submit(t, db, store, user, problem.PID, "flag{rsa}")
	result := submit(t, db, store, user, problem.PID, "flag{rsa}")

	assert.True(t, result.Correct)
	assert.True(t, result.PrevSolvedByUser)
	assert.True(t, result.PrevSolvedByTeam)

	// The repeat is not recorded again.
	var count int64
	require.NoError(t, db.Model(&models.Submission{}).
		Where("uid = ? AND pid = ?", user.UID, problem.PID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTeammateRepeatSolveRecordedButNotTeamFirst(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	team, first := addTeamWithUser(t, db, "alpha")
	second := addUserOnTeam(t, db, team, "bob")
	problem := addProblemWithInstance(t, db, "rsa", "flag{rsa}")

	submit(t, db, store, first, problem.PID, "flag{rsa}")
	result := submit(t, db, store, second, problem.PID, "flag{rsa}")

	assert.True(t, result.Correct)
	assert.False(t, result.PrevSolvedByUser)
	assert.True(t, result.PrevSolvedByTeam)

	// Each user's first correct submission is stored.
	var count int64
	require.NoError(t, db.Model(&models.Submission{}).
		Where("tid = ? AND pid = ? AND correct = ?", team.TID, problem.PID, true).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestIncorrectSubmissionRecorded(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	_, user := addTeamWithUser(t, db, "alpha")
	problem := addProblemWithInstance(t, db, "rsa", "flag{rsa}")

	result := submit(t, db, store, user, problem.PID, "flag{wrong}")
	assert.False(t, result.Correct)

	var count int64
	require.NoError(t, db.Model(&models.Submission{}).
		Where("uid = ? AND correct = ?", user.UID, false).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSubmitUnknownProblem(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	_, user := addTeamWithUser(t, db, "alpha")

	_, err := Submit(context.Background(), db, store, testSettings(), Request{
		UID: user.UID, TID: user.TID, PID: "missing", Key: "flag{x}",
	})
	assert.Error(t, err)
}

func TestSubmitLockedProblem(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	_, user := addTeamWithUser(t, db, "alpha")
	problem := addProblemWithInstance(t, db, "locked", "flag{locked}")

	// A bundle gate the team has not met keeps the problem locked.
	require.NoError(t, database.SaveBundle(db, &models.Bundle{
		BID:                 uuid.NewString(),
		Name:                "gate",
		Author:              "cmu",
		DependenciesEnabled: true,
		Dependencies: models.DependencyMap{
			"locked": {Threshold: 1, Weightmap: map[string]int{"warmup": 1}},
		},
	}))

	_, err := Submit(context.Background(), db, store, testSettings(), Request{
		UID: user.UID, TID: user.TID, PID: problem.PID, Key: "flag{locked}",
	})
	assert.Error(t, err, "locked problems reject submissions outright")
}
