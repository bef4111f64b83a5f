package scoring

import (
	"context"
	"fmt"
	"testing"
	"time"

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

func addTeamWithUser(t *testing.T, db *gorm.DB, name string, eligibilities ...string) (*models.Team, *models.User) {
	t.Helper()
	team := models.Team{
		TID:           uuid.NewString(),
		TeamName:      name,
		Size:          1,
		Instances:     models.StringMap{},
		ServerNumber:  1,
		Eligibilities: eligibilities,
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

func addProblem(t *testing.T, db *gorm.DB, name string, score int) *models.Problem {
	t.Helper()
	problem := models.Problem{
		PID:           uuid.NewString(),
		Name:          name,
		SanitizedName: name,
		Score:         score,
		Category:      "Cryptography",
	}
	require.NoError(t, database.SaveProblem(db, &problem))
	return &problem
}

func solveAt(t *testing.T, db *gorm.DB, user *models.User, pid string, at time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.Submission{
		ID:        uuid.NewString(),
		CreatedAt: at,
		UID:       user.UID,
		TID:       user.TID,
		PID:       pid,
		Key:       "flag{ok}",
		Category:  "Cryptography",
		Correct:   true,
	}).Error)
}

func TestTiebreakOrdering(t *testing.T) {
	earlier := Tiebreak(time.Unix(1_700_000_000, 0))
	later := Tiebreak(time.Unix(1_700_003_600, 0))

	assert.Greater(t, earlier, later, "earlier finishers carry the larger fraction")
	assert.Less(t, earlier, 1.0)
	assert.Greater(t, later, 0.0)
	assert.Zero(t, Tiebreak(time.Time{}))
}

func TestTeamScoreDeduplicatesByPID(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	ctx := context.Background()

	_, user := addTeamWithUser(t, db, "alpha")
	problem := addProblem(t, db, "rsa", 100)

	base := time.Now().Add(-time.Hour)
	solveAt(t, db, user, problem.PID, base)
	// A racing duplicate row for the same pid must not double-credit.
	solveAt(t, db, user, problem.PID, base.Add(time.Minute))

	score, err := TeamScore(ctx, db, store, user.TID, true)
	require.NoError(t, err)
	assert.Equal(t, 100, int(score))
}

func TestTeamScoreCountsMemberSelfTeamSolves(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	ctx := context.Background()

	team, _ := addTeamWithUser(t, db, "alpha")
	_, migrant := addTeamWithUser(t, db, "bravo")
	problem := addProblem(t, db, "rsa", 100)

	// Solve recorded under the old self team, then the user moves.
	solveAt(t, db, migrant, problem.PID, time.Now().Add(-time.Hour))
	migrant.TID = team.TID
	require.NoError(t, database.UpdateUser(db, migrant))

	score, err := TeamScore(ctx, db, store, team.TID, true)
	require.NoError(t, err)
	assert.Equal(t, 100, int(score))
}

func TestEqualTotalsRankEarlierFinisherFirst(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	ctx := context.Background()

	board := models.Scoreboard{SID: uuid.NewString(), Name: "open", EligibilityConditions: models.JSONMap{}}
	require.NoError(t, database.CreateScoreboard(db, &board))

	fast, fastUser := addTeamWithUser(t, db, "fast", board.SID)
	slow, slowUser := addTeamWithUser(t, db, "slow", board.SID)
	problem := addProblem(t, db, "rsa", 100)

	base := time.Now().Add(-2 * time.Hour)
	solveAt(t, db, fastUser, problem.PID, base)
	solveAt(t, db, slowUser, problem.PID, base.Add(30*time.Minute))

	require.NoError(t, PublishScore(ctx, db, store, fast.TID, true))
	require.NoError(t, PublishScore(ctx, db, store, slow.TID, true))

	rows, _, _, err := Page(ctx, store, cache.ScoreboardKey(board.SID), 1, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "fast", rows[0].TeamName)
	assert.Equal(t, "slow", rows[1].TeamName)
	assert.Equal(t, rows[0].Score, rows[1].Score, "displayed scores truncate to the same integer")
}

func TestScoreProgressionDedupAndOrder(t *testing.T) {
	db := newTestDB(t)
	_, user := addTeamWithUser(t, db, "alpha")
	p1 := addProblem(t, db, "rsa", 100)
	p2 := addProblem(t, db, "xor", 50)

	base := time.Now().Add(-3 * time.Hour)
	solveAt(t, db, user, p2.PID, base.Add(10*time.Minute))
	solveAt(t, db, user, p1.PID, base.Add(20*time.Minute))
	solveAt(t, db, user, p2.PID, base.Add(30*time.Minute)) // duplicate

	points, err := TeamScoreProgression(context.Background(), db, cache.NewMemoryStore(), user.TID, "")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 50, points[0].Score)
	assert.Equal(t, 150, points[1].Score)
	assert.True(t, points[0].Time.Before(points[1].Time))
}

func TestScoreProgressionCategoryFilter(t *testing.T) {
	db := newTestDB(t)
	_, user := addTeamWithUser(t, db, "alpha")
	problem := addProblem(t, db, "rsa", 100)

	other := models.Problem{PID: uuid.NewString(), Name: "pwn", SanitizedName: "pwn", Score: 60, Category: "Binary Exploitation"}
	require.NoError(t, database.SaveProblem(db, &other))

	base := time.Now().Add(-time.Hour)
	solveAt(t, db, user, problem.PID, base)
	require.NoError(t, db.Create(&models.Submission{
		ID: uuid.NewString(), CreatedAt: base.Add(time.Minute),
		UID: user.UID, TID: user.TID, PID: other.PID,
		Category: "Binary Exploitation", Correct: true,
	}).Error)

	points, err := TeamScoreProgression(context.Background(), db, cache.NewMemoryStore(), user.TID, "Cryptography")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 100, points[0].Score)
}

func TestScoreboardPagination(t *testing.T) {
	store := cache.NewMemoryStore()
	ctx := context.Background()
	key := "scoreboard:test"

	var target string
	for i := 0; i < PageSize*2+10; i++ {
		tid := uuid.NewString()
		if i == PageSize*2 {
			target = tid // score puts this team on page 3
		}
		entry := cache.Entry{TID: tid, Name: fmt.Sprintf("team-%03d", i)}
		require.NoError(t, store.RankAdd(ctx, key, entry, float64(10000-i)))
	}

	rows, page, pages, err := Page(ctx, store, key, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 1, page)
	assert.Equal(t, 3, pages)
	require.Len(t, rows, PageSize)
	assert.Equal(t, int64(1), rows[0].Rank)
	assert.Equal(t, "team-000", rows[0].TeamName)

	// Page 0 locates the requesting team's page.
	rows, page, _, err = Page(ctx, store, key, 0, target)
	require.NoError(t, err)
	assert.Equal(t, 3, page)
	require.NotEmpty(t, rows)
	assert.Equal(t, int64(PageSize*2+1), rows[0].Rank)

	// Out-of-range pages clamp to the last page.
	_, page, _, err = Page(ctx, store, key, 99, "")
	require.NoError(t, err)
	assert.Equal(t, 3, page)
}

func TestScoreboardSearch(t *testing.T) {
	store := cache.NewMemoryStore()
	ctx := context.Background()
	key := "scoreboard:test"

	names := []string{"plaid", "platypus", "shellphish"}
	for i, name := range names {
		entry := cache.Entry{TID: uuid.NewString(), Name: name}
		require.NoError(t, store.RankAdd(ctx, key, entry, float64(100-i)))
	}

	rows, err := Search(ctx, store, key, "pla")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.NotZero(t, row.Rank, "search results carry their global rank")
	}
}

func TestProgressionMemoizedUntilInvalidated(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	ctx := context.Background()

	_, user := addTeamWithUser(t, db, "alpha")
	p1 := addProblem(t, db, "rsa", 100)
	p2 := addProblem(t, db, "xor", 50)

	base := time.Now().Add(-time.Hour)
	solveAt(t, db, user, p1.PID, base)

	points, err := TeamScoreProgression(ctx, db, store, user.TID, "")
	require.NoError(t, err)
	require.Len(t, points, 1)

	var cached []ProgressionPoint
	hit, err := store.GetJSON(ctx, cache.TeamProgressionKey(user.TID, ""), &cached)
	require.NoError(t, err)
	assert.True(t, hit, "the uncategorized progression is memoized")

	// A new solve is invisible until the team is invalidated.
	solveAt(t, db, user, p2.PID, base.Add(10*time.Minute))
	points, err = TeamScoreProgression(ctx, db, store, user.TID, "")
	require.NoError(t, err)
	assert.Len(t, points, 1)

	require.NoError(t, InvalidateTeam(ctx, db, store, user.TID))
	points, err = TeamScoreProgression(ctx, db, store, user.TID, "")
	require.NoError(t, err)
	assert.Len(t, points, 2)
}

func TestInvalidateTeamRepublishes(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	ctx := context.Background()

	board := models.Scoreboard{SID: uuid.NewString(), Name: "open", EligibilityConditions: models.JSONMap{}}
	require.NoError(t, database.CreateScoreboard(db, &board))
	team, user := addTeamWithUser(t, db, "alpha", board.SID)
	problem := addProblem(t, db, "rsa", 100)

	require.NoError(t, PublishScore(ctx, db, store, team.TID, true))
	score, found, err := store.RankScore(ctx, cache.ScoreboardKey(board.SID),
		cache.Entry{TID: team.TID, Name: team.TeamName, Affiliation: team.Affiliation})
	require.NoError(t, err)
	require.True(t, found)
	assert.Zero(t, int(score))

	solveAt(t, db, user, problem.PID, time.Now().Add(-time.Minute))
	require.NoError(t, InvalidateTeam(ctx, db, store, team.TID))

	score, found, err = store.RankScore(ctx, cache.ScoreboardKey(board.SID),
		cache.Entry{TID: team.TID, Name: team.TeamName, Affiliation: team.Affiliation})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 100, int(score))
}
