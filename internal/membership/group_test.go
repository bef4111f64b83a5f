package membership

import (
	"context"
	"strings"
	"testing"

	"github.com/openctf/ctfcore/internal/cache"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGroupRequiresTeacher(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()

	student := registerTestUser(t, db, store, "alice")
	_, err := CreateGroup(db, testSettings(), student.UID, "Period 3")
	assert.Error(t, err)

	teacher := registerTestTeacher(t, db, store, "msfrizzle")
	group, err := CreateGroup(db, testSettings(), teacher.UID, "Period 3")
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, GroupRole(group, teacher.TID))
}

func TestGroupLimit(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	teacher := registerTestTeacher(t, db, store, "msfrizzle")

	s := testSettings()
	s.GroupLimit = 2
	_, err := CreateGroup(db, s, teacher.UID, "one")
	require.NoError(t, err)
	_, err = CreateGroup(db, s, teacher.UID, "two")
	require.NoError(t, err)
	_, err = CreateGroup(db, s, teacher.UID, "three")
	assert.Error(t, err)
}

func TestGroupNameUniquePerOwner(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	frizzle := registerTestTeacher(t, db, store, "msfrizzle")
	honey := registerTestTeacher(t, db, store, "mshoney")

	_, err := CreateGroup(db, testSettings(), frizzle.UID, "Period 3")
	require.NoError(t, err)
	_, err = CreateGroup(db, testSettings(), frizzle.UID, "Period 3")
	assert.Error(t, err)

	// A different owner can reuse the name.
	_, err = CreateGroup(db, testSettings(), honey.UID, "Period 3")
	assert.NoError(t, err)
}

func TestJoinGroupTwiceRejected(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	ctx := context.Background()

	teacher := registerTestTeacher(t, db, store, "msfrizzle")
	group, err := CreateGroup(db, testSettings(), teacher.UID, "Period 3")
	require.NoError(t, err)

	alice := registerTestUser(t, db, store, "alice")
	require.NoError(t, JoinGroup(ctx, db, store, group.GID, alice.TID))

	err = JoinGroup(ctx, db, store, group.GID, alice.TID)
	assert.Error(t, err, "joining twice is rejected")
}

func TestJoinGroupEmailWhitelist(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	ctx := context.Background()

	teacher := registerTestTeacher(t, db, store, "msfrizzle")
	group, err := CreateGroup(db, testSettings(), teacher.UID, "Period 3")
	require.NoError(t, err)

	hidden := false
	require.NoError(t, UpdateGroupSettings(db, group.GID, teacher.TID, []string{"school.edu"}, &hidden))

	outsider := registerTestUser(t, db, store, "alice") // alice@example.com
	assert.Error(t, JoinGroup(ctx, db, store, group.GID, outsider.TID))

	insider, err := RegisterUser(ctx, db, store, testSettings(), Registration{
		Username: "bob", Password: "hunter22", Email: "bob@cs.school.edu",
		Country: "US", Usertype: models.UsertypeStudent, AgeBand: "18+",
	})
	require.NoError(t, err)
	assert.NoError(t, JoinGroup(ctx, db, store, group.GID, insider.TID), "subdomains of a whitelisted domain pass")
}

func TestEmailWhitelisted(t *testing.T) {
	filter := models.StringList{"school.edu"}
	assert.True(t, emailWhitelisted("kid@school.edu", filter))
	assert.True(t, emailWhitelisted("kid@cs.school.edu", filter))
	assert.True(t, emailWhitelisted("KID@SCHOOL.EDU", filter))
	assert.False(t, emailWhitelisted("kid@evilschool.edu", filter))
	assert.False(t, emailWhitelisted("kid@school.edu.attacker.io", filter))
	assert.False(t, emailWhitelisted("not-an-email", filter))
	assert.True(t, emailWhitelisted("anyone@anywhere.net", models.StringList{}), "empty whitelist admits everyone")
}

func TestHiddenIsOneWayLatch(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()

	teacher := registerTestTeacher(t, db, store, "msfrizzle")
	group, err := CreateGroup(db, testSettings(), teacher.UID, "Period 3")
	require.NoError(t, err)

	hide := true
	require.NoError(t, UpdateGroupSettings(db, group.GID, teacher.TID, nil, &hide))

	show := false
	err = UpdateGroupSettings(db, group.GID, teacher.TID, nil, &show)
	assert.Error(t, err, "a hidden classroom cannot be made public again")
}

func TestRemoveTeamPermissions(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	ctx := context.Background()

	teacher := registerTestTeacher(t, db, store, "msfrizzle")
	group, err := CreateGroup(db, testSettings(), teacher.UID, "Period 3")
	require.NoError(t, err)

	alice := registerTestUser(t, db, store, "alice")
	bob := registerTestUser(t, db, store, "bob")
	require.NoError(t, JoinGroup(ctx, db, store, group.GID, alice.TID))
	require.NoError(t, JoinGroup(ctx, db, store, group.GID, bob.TID))

	// A member cannot remove another member.
	assert.Error(t, RemoveTeam(ctx, db, store, group.GID, alice.TID, bob.TID))
	// Members may remove themselves.
	assert.NoError(t, RemoveTeam(ctx, db, store, group.GID, alice.TID, alice.TID))
	// Teachers remove anyone but the owner.
	assert.NoError(t, RemoveTeam(ctx, db, store, group.GID, teacher.TID, bob.TID))
	assert.Error(t, RemoveTeam(ctx, db, store, group.GID, teacher.TID, teacher.TID))
}

func TestRemoveTeamDropsBoardEntry(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	ctx := context.Background()

	teacher := registerTestTeacher(t, db, store, "msfrizzle")
	group, err := CreateGroup(db, testSettings(), teacher.UID, "Period 3")
	require.NoError(t, err)

	alice := registerTestUser(t, db, store, "alice")
	require.NoError(t, JoinGroup(ctx, db, store, group.GID, alice.TID))

	boardKey := cache.GroupBoardKey(group.GID)
	require.NoError(t, store.RankAdd(ctx, boardKey, cache.Entry{TID: alice.TID, Name: "alice"}, 100))

	require.NoError(t, RemoveTeam(ctx, db, store, group.GID, alice.TID, alice.TID))

	_, found, err := store.RankPosition(ctx, boardKey, cache.Entry{TID: alice.TID}, true)
	require.NoError(t, err)
	assert.False(t, found, "a removed team leaves the classroom board")
}

func TestInviteTeacherPromotes(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	ctx := context.Background()

	owner := registerTestTeacher(t, db, store, "msfrizzle")
	group, err := CreateGroup(db, testSettings(), owner.UID, "Period 3")
	require.NoError(t, err)

	helper := registerTestTeacher(t, db, store, "mshoney")
	require.NoError(t, JoinGroup(ctx, db, store, group.GID, helper.TID))

	require.NoError(t, InviteTeacher(db, group.GID, owner.TID, helper.TID))

	after, err := database.GetGroupByGID(db, group.GID)
	require.NoError(t, err)
	assert.Equal(t, RoleTeacher, GroupRole(after, helper.TID))
	assert.False(t, after.Members.Contains(helper.TID), "promotion moves the team out of the member list")
}

func TestDeleteGroupOwnerOnly(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	ctx := context.Background()

	owner := registerTestTeacher(t, db, store, "msfrizzle")
	group, err := CreateGroup(db, testSettings(), owner.UID, "Period 3")
	require.NoError(t, err)

	alice := registerTestUser(t, db, store, "alice")
	require.NoError(t, JoinGroup(ctx, db, store, group.GID, alice.TID))

	assert.Error(t, DeleteGroup(ctx, db, store, group.GID, alice.TID))
	assert.NoError(t, DeleteGroup(ctx, db, store, group.GID, owner.TID))

	_, err = database.GetGroupByGID(db, group.GID)
	assert.True(t, database.IsRecordNotFound(err))
}

func TestBatchRegister(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewMemoryStore()
	ctx := context.Background()

	teacher := registerTestTeacher(t, db, store, "msfrizzle")
	group, err := CreateGroup(db, testSettings(), teacher.UID, "Period 3")
	require.NoError(t, err)

	csv := strings.NewReader(
		"username,email,firstname,lastname\n" +
			"student1,s1@school.edu,Ada,L\n" +
			"student2,s2@school.edu,Grace,H\n" +
			"bad row\n")

	results, err := BatchRegister(ctx, db, store, testSettings(), group.GID, csv)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NotEmpty(t, results[0].Password)
	assert.Empty(t, results[0].Error)
	assert.NotEmpty(t, results[2].Error, "malformed rows report instead of aborting the batch")

	after, err := database.GetGroupByGID(db, group.GID)
	require.NoError(t, err)
	assert.Len(t, after.Members, 2, "each imported student's self team joins the classroom")
}
