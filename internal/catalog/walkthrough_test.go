package catalog

import (
	"testing"

	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func walkthroughFixture(t *testing.T, db *gorm.DB) string {
	t.Helper()
	addShellServer(t, db, "s1", 1)
	m := &Manifest{
		SID: "s1",
		Problems: []ManifestProblem{
			{
				Name:        "Caesar",
				Author:      "cmu",
				Score:       10,
				Walkthrough: "shift by three",
				Instances: []ManifestInstance{
					{InstanceNumber: 0, Flag: "flag{caesar}", Service: "caesar", Port: 7001},
				},
			},
		},
	}
	require.NoError(t, Ingest(db, m))
	return HashID("Caesar", "cmu")
}

func setTokens(t *testing.T, db *gorm.DB, uid string, tokens int) {
	t.Helper()
	require.NoError(t, db.Model(&models.User{}).Where("uid = ?", uid).Update("tokens", tokens).Error)
}

func TestPurchaseWalkthrough(t *testing.T) {
	db := newTestDB(t)
	pid := walkthroughFixture(t, db)
	_, user := addTeamWithUser(t, db, "alice")
	setTokens(t, db, user.UID, 5)

	require.NoError(t, PurchaseWalkthrough(db, user.UID, pid))

	after, err := database.GetUserByUID(db, user.UID)
	require.NoError(t, err)
	assert.Equal(t, 5-WalkthroughCost, after.Tokens)
	assert.True(t, after.UnlockedWalkthroughs.Contains(pid))

	ok, err := WalkthroughUnlocked(db, after, pid)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPurchaseWalkthroughDebitsAtMostOnce(t *testing.T) {
	db := newTestDB(t)
	pid := walkthroughFixture(t, db)
	_, user := addTeamWithUser(t, db, "bob")
	setTokens(t, db, user.UID, 10)

	require.NoError(t, PurchaseWalkthrough(db, user.UID, pid))
	err := PurchaseWalkthrough(db, user.UID, pid)
	assert.Error(t, err, "second purchase is rejected")

	after, err := database.GetUserByUID(db, user.UID)
	require.NoError(t, err)
	assert.Equal(t, 10-WalkthroughCost, after.Tokens, "balance debited exactly once")
}

func TestPurchaseWalkthroughInsufficientTokens(t *testing.T) {
	db := newTestDB(t)
	pid := walkthroughFixture(t, db)
	_, user := addTeamWithUser(t, db, "carol")
	setTokens(t, db, user.UID, WalkthroughCost-1)

	err := PurchaseWalkthrough(db, user.UID, pid)
	assert.Error(t, err)

	after, err := database.GetUserByUID(db, user.UID)
	require.NoError(t, err)
	assert.Equal(t, WalkthroughCost-1, after.Tokens)
}

func TestWalkthroughUnlockedBySolve(t *testing.T) {
	db := newTestDB(t)
	pid := walkthroughFixture(t, db)
	_, user := addTeamWithUser(t, db, "dave")

	ok, err := WalkthroughUnlocked(db, user, pid)
	require.NoError(t, err)
	assert.False(t, ok)

	recordSolve(t, db, user, pid)

	ok, err = WalkthroughUnlocked(db, user, pid)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompleteMinigameCreditsOnce(t *testing.T) {
	db := newTestDB(t)
	_, user := addTeamWithUser(t, db, "erin")

	require.NoError(t, CompleteMinigame(db, user.UID, "maze", 4))
	assert.Error(t, CompleteMinigame(db, user.UID, "maze", 4))

	after, err := database.GetUserByUID(db, user.UID)
	require.NoError(t, err)
	assert.Equal(t, 4, after.Tokens)
	assert.True(t, after.CompletedMinigames.Contains("maze"))
}
