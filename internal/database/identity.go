package database

import (
	"errors"

	"github.com/openctf/ctfcore/internal/database/models"
	"gorm.io/gorm"
)

// User CRUD
func CreateUser(db *gorm.DB, user *models.User) error {
	return db.Create(user).Error
}

func GetUserByUID(db *gorm.DB, uid string) (*models.User, error) {
	var user models.User
	if err := db.Where("uid = ?", uid).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUserByUsername(db *gorm.DB, username string) (*models.User, error) {
	var user models.User
	if err := db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUserByEmail(db *gorm.DB, email string) (*models.User, error) {
	var user models.User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetAllUsers(db *gorm.DB) ([]models.User, error) {
	var users []models.User
	if err := db.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func CountUsers(db *gorm.DB) (int64, error) {
	var count int64
	err := db.Model(&models.User{}).Count(&count).Error
	return count, err
}

func UpdateUser(db *gorm.DB, user *models.User) error {
	return db.Save(user).Error
}

// UsernameOrTeamNameExists checks both namespaces; usernames and team
// names share a single uniqueness domain.
func UsernameOrTeamNameExists(db *gorm.DB, name string) (bool, error) {
	var count int64
	if err := db.Model(&models.User{}).Where("username = ?", name).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	if err := db.Model(&models.Team{}).Where("team_name = ?", name).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Team CRUD
func CreateTeam(db *gorm.DB, team *models.Team) error {
	return db.Create(team).Error
}

func GetTeamByTID(db *gorm.DB, tid string) (*models.Team, error) {
	var team models.Team
	if err := db.Where("tid = ?", tid).First(&team).Error; err != nil {
		return nil, err
	}
	return &team, nil
}

func GetTeamByName(db *gorm.DB, name string) (*models.Team, error) {
	var team models.Team
	if err := db.Where("team_name = ?", name).First(&team).Error; err != nil {
		return nil, err
	}
	return &team, nil
}

func GetAllTeams(db *gorm.DB) ([]models.Team, error) {
	var teams []models.Team
	if err := db.Order("created_at asc").Find(&teams).Error; err != nil {
		return nil, err
	}
	return teams, nil
}

func CountTeams(db *gorm.DB) (int64, error) {
	var count int64
	err := db.Model(&models.Team{}).Count(&count).Error
	return count, err
}

func UpdateTeam(db *gorm.DB, team *models.Team) error {
	return db.Save(team).Error
}

// GetTeamMembers returns the non-disabled users currently on the team.
func GetTeamMembers(db *gorm.DB, tid string) ([]models.User, error) {
	var users []models.User
	if err := db.Where("tid = ? AND disabled = ?", tid, false).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// GetAllTeamMembers returns every user bound to the team, disabled included.
func GetAllTeamMembers(db *gorm.DB, tid string) ([]models.User, error) {
	var users []models.User
	if err := db.Where("tid = ?", tid).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// HasCreatedTeam reports whether the user already created a non-self team.
func HasCreatedTeam(db *gorm.DB, uid string) (bool, error) {
	var count int64
	err := db.Model(&models.Team{}).
		Where("creator_uid = ? AND self_team = ?", uid, false).
		Count(&count).Error
	return count > 0, err
}

// Group CRUD
func CreateGroup(db *gorm.DB, group *models.Group) error {
	return db.Create(group).Error
}

func GetGroupByGID(db *gorm.DB, gid string) (*models.Group, error) {
	var group models.Group
	if err := db.Where("gid = ?", gid).First(&group).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

func GetGroupByNameAndOwner(db *gorm.DB, name, owner string) (*models.Group, error) {
	var group models.Group
	if err := db.Where("name = ? AND owner = ?", name, owner).First(&group).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

func GetAllGroups(db *gorm.DB) ([]models.Group, error) {
	var groups []models.Group
	if err := db.Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

// GetGroupsForTeam returns every group the team belongs to in any role.
func GetGroupsForTeam(db *gorm.DB, tid string) ([]models.Group, error) {
	groups, err := GetAllGroups(db)
	if err != nil {
		return nil, err
	}
	var out []models.Group
	for _, g := range groups {
		if g.Owner == tid || g.Teachers.Contains(tid) || g.Members.Contains(tid) {
			out = append(out, g)
		}
	}
	return out, nil
}

// CountGroupsOwnedBy counts groups owned by the given tid.
func CountGroupsOwnedBy(db *gorm.DB, owner string) (int64, error) {
	var count int64
	err := db.Model(&models.Group{}).Where("owner = ?", owner).Count(&count).Error
	return count, err
}

func UpdateGroup(db *gorm.DB, group *models.Group) error {
	return db.Save(group).Error
}

func DeleteGroup(db *gorm.DB, gid string) error {
	return db.Delete(&models.Group{}, "gid = ?", gid).Error
}

// Scoreboard CRUD
func CreateScoreboard(db *gorm.DB, sb *models.Scoreboard) error {
	return db.Create(sb).Error
}

func GetScoreboardBySID(db *gorm.DB, sid string) (*models.Scoreboard, error) {
	var sb models.Scoreboard
	if err := db.Where("sid = ?", sid).First(&sb).Error; err != nil {
		return nil, err
	}
	return &sb, nil
}

func GetAllScoreboards(db *gorm.DB) ([]models.Scoreboard, error) {
	var sbs []models.Scoreboard
	if err := db.Order("priority desc").Find(&sbs).Error; err != nil {
		return nil, err
	}
	return sbs, nil
}

// Token CRUD
func CreateToken(db *gorm.DB, token *models.Token) error {
	return db.Create(token).Error
}

func GetTokenByValue(db *gorm.DB, slot, value string) (*models.Token, error) {
	var token models.Token
	if err := db.Where("slot = ? AND value = ? AND used = ?", slot, value, false).First(&token).Error; err != nil {
		return nil, err
	}
	return &token, nil
}

func GetTokenForUser(db *gorm.DB, uid, slot string) (*models.Token, error) {
	var token models.Token
	if err := db.Where("uid = ? AND slot = ? AND used = ?", uid, slot, false).First(&token).Error; err != nil {
		return nil, err
	}
	return &token, nil
}

// ConsumeToken marks a token used; tokens are single-use.
func ConsumeToken(db *gorm.DB, id string) error {
	res := db.Model(&models.Token{}).Where("id = ? AND used = ?", id, false).Update("used", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteTokensForUser removes previous tokens in a slot before reissue.
func DeleteTokensForUser(db *gorm.DB, uid, slot string) error {
	return db.Delete(&models.Token{}, "uid = ? AND slot = ?", uid, slot).Error
}

// IsRecordNotFound reports whether err is the store's missing-row error.
func IsRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
