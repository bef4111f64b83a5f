package catalog

import (
	"testing"

	"github.com/google/uuid"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func addTeamWithUser(t *testing.T, db *gorm.DB, name string) (*models.Team, *models.User) {
	t.Helper()
	team := models.Team{
		TID:          uuid.NewString(),
		TeamName:     name,
		Size:         1,
		SelfTeam:     true,
		Instances:    models.StringMap{},
		ServerNumber: 1,
	}
	require.NoError(t, database.CreateTeam(db, &team))
	user := models.User{
		UID:      uuid.NewString(),
		Username: name,
		Email:    name + "@example.com",
		Usertype: models.UsertypeStudent,
		Verified: true,
		TID:      team.TID,
	}
	require.NoError(t, database.CreateUser(db, &user))
	team.CreatorUID = user.UID
	require.NoError(t, database.UpdateTeam(db, &team))
	return &team, &user
}

func recordSolve(t *testing.T, db *gorm.DB, user *models.User, pid string) {
	t.Helper()
	require.NoError(t, database.CreateSubmission(db, &models.Submission{
		ID:      uuid.NewString(),
		UID:     user.UID,
		TID:     user.TID,
		PID:     pid,
		Key:     "flag{...}",
		Correct: true,
	}))
}

func samplerFixture(t *testing.T, db *gorm.DB) (boPID, ecbPID string) {
	t.Helper()
	addShellServer(t, db, "s1", 1)

	m := &Manifest{
		SID: "s1",
		Problems: []ManifestProblem{
			{
				Name:   "Buffer Overflow 1",
				Author: "cmu",
				Score:  50,
				Instances: []ManifestInstance{
					{InstanceNumber: 0, Flag: "flag{bo1}", Service: "bo1", Port: 5001},
				},
			},
			{
				Name:   "ECB 1",
				Author: "cmu",
				Score:  70,
				Instances: []ManifestInstance{
					{InstanceNumber: 0, Flag: "flag{ecb1}", Service: "ecb1", Port: 5002},
				},
			},
		},
		Bundles: []ManifestBundle{
			{
				Name:   "sampler",
				Author: "cmu",
				Dependencies: models.DependencyMap{
					"ecb-1": {Threshold: 1, Weightmap: map[string]int{"buffer-overflow-1": 1}},
				},
			},
		},
	}
	require.NoError(t, Ingest(db, m))

	boPID = HashID("Buffer Overflow 1", "cmu")
	ecbPID = HashID("ECB 1", "cmu")
	require.NoError(t, SetProblemDisabled(db, boPID, false))
	require.NoError(t, SetProblemDisabled(db, ecbPID, false))
	require.NoError(t, SetBundleDependenciesEnabled(db, HashID("sampler", "cmu"), true))
	return boPID, ecbPID
}

func TestUnlockGraph(t *testing.T) {
	db := newTestDB(t)
	boPID, ecbPID := samplerFixture(t, db)
	team, user := addTeamWithUser(t, db, "alice")

	unlocked, err := UnlockedPIDs(db, team.TID)
	require.NoError(t, err)
	assert.True(t, unlocked[boPID], "unlisted problems unlock by default")
	assert.False(t, unlocked[ecbPID], "dependent problem starts locked")

	recordSolve(t, db, user, boPID)

	unlocked, err = UnlockedPIDs(db, team.TID)
	require.NoError(t, err)
	assert.True(t, unlocked[ecbPID], "meeting the threshold unlocks the dependent")

	ok, err := IsUnlocked(db, team.TID, ecbPID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlockIgnoresDisabledDependencies(t *testing.T) {
	db := newTestDB(t)
	_, ecbPID := samplerFixture(t, db)
	team, _ := addTeamWithUser(t, db, "bob")

	// Turning the bundle graph off unlocks everything listed in it.
	require.NoError(t, SetBundleDependenciesEnabled(db, HashID("sampler", "cmu"), false))

	unlocked, err := UnlockedPIDs(db, team.TID)
	require.NoError(t, err)
	assert.True(t, unlocked[ecbPID])
}

func TestDisabledProblemNeverUnlocked(t *testing.T) {
	db := newTestDB(t)
	boPID, _ := samplerFixture(t, db)
	team, _ := addTeamWithUser(t, db, "carol")

	require.NoError(t, SetProblemDisabled(db, boPID, true))

	unlocked, err := UnlockedPIDs(db, team.TID)
	require.NoError(t, err)
	assert.False(t, unlocked[boPID])

	ok, err := IsUnlocked(db, team.TID, boPID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWeightedThreshold(t *testing.T) {
	solved := map[string]bool{"a": true, "b": false, "c": true}
	bundles := []models.Bundle{
		{
			DependenciesEnabled: true,
			Dependencies: models.DependencyMap{
				"target": {Threshold: 3, Weightmap: map[string]int{"a": 1, "b": 2, "c": 2}},
			},
		},
	}
	assert.True(t, unlockedBySolves("target", bundles, solved), "1+2 meets threshold 3")
	assert.False(t, unlockedBySolves("target", bundles, map[string]bool{"a": true}))
	assert.True(t, unlockedBySolves("unlisted", bundles, nil))
}
