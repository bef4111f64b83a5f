package membership

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/openctf/ctfcore/internal/cache"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/openctf/ctfcore/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var groupNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_ -]{3,100}$`)

// Role is a team's standing within a group.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleTeacher Role = "teacher"
	RoleMember  Role = "member"
	RoleNone    Role = ""
)

// GroupRole reports which single role slot holds the tid.
func GroupRole(group *models.Group, tid string) Role {
	switch {
	case group.Owner == tid:
		return RoleOwner
	case group.Teachers.Contains(tid):
		return RoleTeacher
	case group.Members.Contains(tid):
		return RoleMember
	default:
		return RoleNone
	}
}

// CreateGroup opens a classroom owned by a teacher's team, bounded by
// the per-teacher group limit.
func CreateGroup(db *gorm.DB, s *models.Settings, ownerUID, name string) (*models.Group, error) {
	if !groupNamePattern.MatchString(name) {
		return nil, util.Wrap(util.ErrValidation, "illegal classroom name")
	}

	owner, err := database.GetUserByUID(db, ownerUID)
	if err != nil {
		return nil, err
	}
	if !owner.Teacher && !owner.Admin {
		return nil, util.Wrap(util.ErrForbidden, "only teachers can create classrooms")
	}

	count, err := database.CountGroupsOwnedBy(db, owner.TID)
	if err != nil {
		return nil, err
	}
	if s.GroupLimit > 0 && int(count) >= s.GroupLimit {
		return nil, util.Wrap(util.ErrState, "you have reached the classroom limit")
	}

	if _, err := database.GetGroupByNameAndOwner(db, name, owner.TID); err == nil {
		return nil, util.Wrap(util.ErrConflict, "you already have a classroom with that name")
	} else if !database.IsRecordNotFound(err) {
		return nil, err
	}

	group := models.Group{
		GID:         uuid.NewString(),
		Name:        name,
		Owner:       owner.TID,
		Teachers:    models.StringList{},
		Members:     models.StringList{},
		EmailFilter: models.StringList{},
	}
	if err := database.CreateGroup(db, &group); err != nil {
		return nil, err
	}
	zap.S().Infof("teacher %s created classroom %s", owner.Username, name)
	return &group, nil
}

// emailWhitelisted checks an address against the group's domain
// whitelist; an empty whitelist admits everyone.
func emailWhitelisted(email string, filter models.StringList) bool {
	if len(filter) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, allowed := range filter {
		allowed = strings.ToLower(strings.TrimPrefix(allowed, "@"))
		if domain == allowed || strings.HasSuffix(domain, "."+allowed) {
			return true
		}
	}
	return false
}

// JoinGroup admits a team as a group member. Every member of the team
// must pass the email whitelist; joining twice is rejected.
func JoinGroup(ctx context.Context, db *gorm.DB, store cache.Store, gid, tid string) error {
	group, err := database.GetGroupByGID(db, gid)
	if err != nil {
		if database.IsRecordNotFound(err) {
			return util.Wrap(util.ErrNotFound, "classroom not found")
		}
		return err
	}
	if GroupRole(group, tid) != RoleNone {
		return util.Wrap(util.ErrState, "your team is already in this classroom")
	}

	members, err := database.GetTeamMembers(db, tid)
	if err != nil {
		return err
	}
	for _, m := range members {
		if !emailWhitelisted(m.Email, group.EmailFilter) {
			return util.Wrap(util.ErrForbidden,
				"a member's email domain is not on the classroom whitelist")
		}
	}

	group.Members = append(group.Members, tid)
	if err := database.UpdateGroup(db, group); err != nil {
		return err
	}

	invalidateGroupBoard(ctx, store, gid)
	return nil
}

// InviteTeacher promotes a team into the teachers list. Owner and
// teachers can invite.
func InviteTeacher(db *gorm.DB, gid, actorTID, tid string) error {
	group, err := database.GetGroupByGID(db, gid)
	if err != nil {
		if database.IsRecordNotFound(err) {
			return util.Wrap(util.ErrNotFound, "classroom not found")
		}
		return err
	}
	actorRole := GroupRole(group, actorTID)
	if actorRole != RoleOwner && actorRole != RoleTeacher {
		return util.Wrap(util.ErrForbidden, "only classroom teachers can invite")
	}
	switch GroupRole(group, tid) {
	case RoleOwner, RoleTeacher:
		return util.Wrap(util.ErrState, "that team already teaches this classroom")
	case RoleMember:
		group.Members = remove(group.Members, tid)
	}
	group.Teachers = append(group.Teachers, tid)
	return database.UpdateGroup(db, group)
}

// RemoveTeam drops a team from a group. Owner and teachers remove
// anyone but the owner; members may only remove themselves.
func RemoveTeam(ctx context.Context, db *gorm.DB, store cache.Store, gid, actorTID, tid string) error {
	group, err := database.GetGroupByGID(db, gid)
	if err != nil {
		if database.IsRecordNotFound(err) {
			return util.Wrap(util.ErrNotFound, "classroom not found")
		}
		return err
	}
	if tid == group.Owner {
		return util.Wrap(util.ErrForbidden, "the classroom owner cannot be removed")
	}

	actorRole := GroupRole(group, actorTID)
	if actorRole != RoleOwner && actorRole != RoleTeacher && actorTID != tid {
		return util.Wrap(util.ErrForbidden, "you can only remove your own team")
	}

	switch GroupRole(group, tid) {
	case RoleTeacher:
		group.Teachers = remove(group.Teachers, tid)
	case RoleMember:
		group.Members = remove(group.Members, tid)
	default:
		return util.Wrap(util.ErrNotFound, "that team is not in this classroom")
	}

	if err := database.UpdateGroup(db, group); err != nil {
		return err
	}
	if err := store.RankRemove(ctx, cache.GroupBoardKey(gid), cache.Entry{TID: tid}); err != nil {
		zap.S().Warnf("group board removal for team %s failed: %v", tid, err)
	}
	invalidateGroupBoard(ctx, store, gid)
	return nil
}

// UpdateGroupSettings applies the owner-editable settings. Hidden is a
// one-way latch: a hidden classroom cannot be made public again.
func UpdateGroupSettings(db *gorm.DB, gid, actorTID string, emailFilter []string, hidden *bool) error {
	group, err := database.GetGroupByGID(db, gid)
	if err != nil {
		if database.IsRecordNotFound(err) {
			return util.Wrap(util.ErrNotFound, "classroom not found")
		}
		return err
	}
	actorRole := GroupRole(group, actorTID)
	if actorRole != RoleOwner && actorRole != RoleTeacher {
		return util.Wrap(util.ErrForbidden, "only classroom teachers can change settings")
	}

	if emailFilter != nil {
		group.EmailFilter = emailFilter
	}
	if hidden != nil {
		if group.Hidden && !*hidden {
			return util.Wrap(util.ErrState, "a hidden classroom cannot be made public again")
		}
		group.Hidden = *hidden
	}
	return database.UpdateGroup(db, group)
}

// DeleteGroup removes a classroom entirely; owner only.
func DeleteGroup(ctx context.Context, db *gorm.DB, store cache.Store, gid, actorTID string) error {
	group, err := database.GetGroupByGID(db, gid)
	if err != nil {
		if database.IsRecordNotFound(err) {
			return util.Wrap(util.ErrNotFound, "classroom not found")
		}
		return err
	}
	if GroupRole(group, actorTID) != RoleOwner {
		return util.Wrap(util.ErrForbidden, "only the owner can delete a classroom")
	}
	if err := database.DeleteGroup(db, gid); err != nil {
		return err
	}
	if err := store.RankClear(ctx, cache.GroupBoardKey(gid)); err != nil {
		zap.S().Warnf("group board clear for %s failed: %v", gid, err)
	}
	return nil
}

func invalidateGroupBoard(ctx context.Context, store cache.Store, gid string) {
	keys := []string{
		cache.TopProgressionsKey(cache.GroupBoardKey(gid)),
	}
	if err := store.Delete(ctx, keys...); err != nil {
		zap.S().Warnf("group board invalidation for %s failed: %v", gid, err)
	}
}

func remove(list models.StringList, v string) models.StringList {
	out := make(models.StringList, 0, len(list))
	for _, e := range list {
		if e != v {
			out = append(out, e)
		}
	}
	return out
}
