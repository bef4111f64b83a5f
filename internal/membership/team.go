package membership

import (
	"context"
	"regexp"

	"github.com/google/uuid"
	"github.com/openctf/ctfcore/internal/assign"
	"github.com/openctf/ctfcore/internal/auth"
	"github.com/openctf/ctfcore/internal/cache"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/openctf/ctfcore/internal/eligibility"
	"github.com/openctf/ctfcore/internal/scoring"
	"github.com/openctf/ctfcore/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var teamNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_ -]{3,40}$`)

// CreateSelfTeam builds the singleton team every user gets at
// registration. The team shares the user's name and never exceeds one
// member.
func CreateSelfTeam(db *gorm.DB, user *models.User) (*models.Team, error) {
	team := models.Team{
		TID:          uuid.NewString(),
		TeamName:     user.Username,
		Affiliation:  user.Affiliation,
		Country:      user.Country,
		Size:         1,
		SelfTeam:     true,
		CreatorUID:   user.UID,
		Instances:    models.StringMap{},
		ServerNumber: 1,
	}
	if err := database.CreateTeam(db, &team); err != nil {
		return nil, err
	}
	return &team, nil
}

// CreateTeam forms a new non-self team and migrates the creator onto
// it. A user creates at most one, and teachers may not create teams.
func CreateTeam(ctx context.Context, db *gorm.DB, store cache.Store, s *models.Settings, uid, name, password string) (*models.Team, error) {
	if !teamNamePattern.MatchString(name) {
		return nil, util.Wrap(util.ErrValidation, "illegal team name")
	}

	user, err := database.GetUserByUID(db, uid)
	if err != nil {
		return nil, err
	}
	if user.Teacher {
		return nil, util.Wrap(util.ErrForbidden, "teachers may not create teams")
	}

	current, err := database.GetTeamByTID(db, user.TID)
	if err != nil {
		return nil, err
	}
	if !current.SelfTeam {
		return nil, util.Wrap(util.ErrForbidden, "you can only create a team while on your self team")
	}

	created, err := database.HasCreatedTeam(db, uid)
	if err != nil {
		return nil, err
	}
	if created {
		return nil, util.Wrap(util.ErrState, "you have already created a team")
	}

	taken, err := database.UsernameOrTeamNameExists(db, name)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, util.Wrap(util.ErrConflict, "that name is already taken")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	serverNumber, err := assign.NextServerNumber(db, s.Shard)
	if err != nil {
		return nil, err
	}

	team := models.Team{
		TID:          uuid.NewString(),
		TeamName:     name,
		PasswordHash: hash,
		Affiliation:  user.Affiliation,
		Country:      user.Country,
		Size:         1,
		SelfTeam:     false,
		CreatorUID:   uid,
		Instances:    models.StringMap{},
		ServerNumber: serverNumber,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := database.CreateTeam(tx, &team); err != nil {
			return err
		}
		user.TID = team.TID
		return database.UpdateUser(tx, user)
	})
	if err != nil {
		return nil, err
	}

	afterCompositionChange(ctx, db, store, team.TID)
	zap.S().Infof("user %s created team %s", user.Username, name)
	return &team, nil
}

// JoinTeam moves a user from their self team onto an existing team,
// gated by existence, capacity, and the team password. The move is
// permanent: users on a non-self team cannot switch again.
func JoinTeam(ctx context.Context, db *gorm.DB, store cache.Store, s *models.Settings, uid, teamName, password string) error {
	user, err := database.GetUserByUID(db, uid)
	if err != nil {
		return err
	}
	if user.Teacher {
		return util.Wrap(util.ErrForbidden, "teachers may not join teams")
	}

	current, err := database.GetTeamByTID(db, user.TID)
	if err != nil {
		return err
	}
	if !current.SelfTeam {
		return util.Wrap(util.ErrForbidden, "you cannot switch teams")
	}

	team, err := database.GetTeamByName(db, teamName)
	if err != nil {
		if database.IsRecordNotFound(err) {
			return util.Wrap(util.ErrNotFound, "team not found")
		}
		return err
	}
	if team.SelfTeam {
		return util.Wrap(util.ErrForbidden, "that team is not joinable")
	}
	if team.Size >= s.MaxTeamSize {
		return util.Wrap(util.ErrForbidden, "that team is already at maximum capacity")
	}
	if !auth.CheckPasswordHash(password, team.PasswordHash) {
		return util.Wrap(util.ErrState, "incorrect team password")
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		user.TID = team.TID
		if err := database.UpdateUser(tx, user); err != nil {
			return err
		}
		team.Size++
		return database.UpdateTeam(tx, team)
	})
	if err != nil {
		return err
	}

	afterCompositionChange(ctx, db, store, team.TID)
	zap.S().Infof("user %s joined team %s", user.Username, team.TeamName)
	return nil
}

// DisableUser marks an account disabled and shrinks its team. This is
// the only path that reduces team membership; size never goes negative
// and is not restored, because re-enable is not an operation.
func DisableUser(ctx context.Context, db *gorm.DB, store cache.Store, uid string) error {
	user, err := database.GetUserByUID(db, uid)
	if err != nil {
		return err
	}
	if user.Disabled {
		return util.Wrap(util.ErrState, "account is already disabled")
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		user.Disabled = true
		if err := database.UpdateUser(tx, user); err != nil {
			return err
		}
		team, err := database.GetTeamByTID(tx, user.TID)
		if err != nil {
			return err
		}
		if team.Size > 0 {
			team.Size--
		}
		return database.UpdateTeam(tx, team)
	})
	if err != nil {
		return err
	}

	afterCompositionChange(ctx, db, store, user.TID)
	zap.S().Infof("disabled account %s", user.Username)
	return nil
}

// UpdateTeamPassword rotates the join password.
func UpdateTeamPassword(db *gorm.DB, tid, password string) error {
	team, err := database.GetTeamByTID(db, tid)
	if err != nil {
		return err
	}
	if team.SelfTeam {
		return util.Wrap(util.ErrForbidden, "self teams have no join password")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	team.PasswordHash = hash
	return database.UpdateTeam(db, team)
}

// afterCompositionChange recomputes eligibility and republishes scores
// whenever a team gains or loses an effective member. Boards the team
// lost eligibility for must drop its entry, or a stale row lingers
// until the next full rebuild.
func afterCompositionChange(ctx context.Context, db *gorm.DB, store cache.Store, tid string) {
	before, err := database.GetTeamByTID(db, tid)
	if err != nil {
		zap.S().Errorf("team lookup for %s failed: %v", tid, err)
		return
	}

	team, err := eligibility.Recompute(db, tid)
	if err != nil {
		zap.S().Errorf("eligibility recompute for team %s failed: %v", tid, err)
		return
	}

	for _, sid := range before.Eligibilities {
		if team.Eligibilities.Contains(sid) {
			continue
		}
		if err := store.RankRemove(ctx, cache.ScoreboardKey(sid), cache.Entry{TID: tid}); err != nil {
			zap.S().Errorf("board removal for team %s on %s failed: %v", tid, sid, err)
		}
	}

	if err := scoring.InvalidateTeam(ctx, db, store, tid); err != nil {
		zap.S().Errorf("score invalidation for team %s failed: %v", tid, err)
	}
}
