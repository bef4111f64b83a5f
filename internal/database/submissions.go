package database

import (
	"time"

	"github.com/openctf/ctfcore/internal/database/models"
	"gorm.io/gorm"
)

// Submission queries. Submissions are append-only; scoring state is a
// projection over them.

func CreateSubmission(db *gorm.DB, sub *models.Submission) error {
	return db.Create(sub).Error
}

func HasUserSolved(db *gorm.DB, uid, pid string) (bool, error) {
	var count int64
	err := db.Model(&models.Submission{}).
		Where("uid = ? AND pid = ? AND correct = ?", uid, pid, true).
		Count(&count).Error
	return count > 0, err
}

func HasTeamSolved(db *gorm.DB, tid, pid string) (bool, error) {
	var count int64
	err := db.Model(&models.Submission{}).
		Where("tid = ? AND pid = ? AND correct = ?", tid, pid, true).
		Count(&count).Error
	return count > 0, err
}

// GetCorrectSubmissionsForTeam returns the correct submissions credited
// to a team: rows written under the tid plus rows written by any current
// member under a prior self-team. Callers deduplicate by pid.
func GetCorrectSubmissionsForTeam(db *gorm.DB, tid string, memberUIDs []string) ([]models.Submission, error) {
	var subs []models.Submission
	q := db.Where("tid = ? AND correct = ?", tid, true)
	if len(memberUIDs) > 0 {
		q = q.Or("uid IN ? AND correct = ?", memberUIDs, true)
	}
	if err := q.Order("created_at asc").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func GetSubmissionsByUID(db *gorm.DB, uid string) ([]models.Submission, error) {
	var subs []models.Submission
	if err := db.Where("uid = ?", uid).Order("created_at desc").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// CountSolves counts distinct teams with a correct submission for the pid.
func CountSolves(db *gorm.DB, pid string) (int64, error) {
	var count int64
	err := db.Model(&models.Submission{}).
		Where("pid = ? AND correct = ?", pid, true).
		Distinct("tid").
		Count(&count).Error
	return count, err
}

// LatestCorrectSubmissionTime returns the most recent correct-submission
// time across the team and member uids; zero time when no solve exists.
func LatestCorrectSubmissionTime(db *gorm.DB, tid string, memberUIDs []string) (time.Time, error) {
	subs, err := GetCorrectSubmissionsForTeam(db, tid, memberUIDs)
	if err != nil {
		return time.Time{}, err
	}
	var latest time.Time
	for _, s := range subs {
		if s.CreatedAt.After(latest) {
			latest = s.CreatedAt
		}
	}
	return latest, nil
}

// ClearSubmissions wipes the collection; exposed on the debug-only
// DELETE /submissions route.
func ClearSubmissions(db *gorm.DB) error {
	return db.Where("1 = 1").Delete(&models.Submission{}).Error
}

// Exception capture

func CreateException(db *gorm.DB, exc *models.Exception) error {
	return db.Create(exc).Error
}

func GetVisibleExceptions(db *gorm.DB, limit int) ([]models.Exception, error) {
	var excs []models.Exception
	if err := db.Where("visible = ?", true).Order("created_at desc").Limit(limit).Find(&excs).Error; err != nil {
		return nil, err
	}
	return excs, nil
}

func DismissException(db *gorm.DB, id string) error {
	return db.Model(&models.Exception{}).Where("id = ?", id).Update("visible", false).Error
}

// Achievements

func GetActiveAchievements(db *gorm.DB) ([]models.Achievement, error) {
	var achievements []models.Achievement
	if err := db.Where("disabled = ?", false).Find(&achievements).Error; err != nil {
		return nil, err
	}
	return achievements, nil
}

func HasEarnedAchievement(db *gorm.DB, aid, tid string) (bool, error) {
	var count int64
	err := db.Model(&models.EarnedAchievement{}).
		Where("aid = ? AND tid = ?", aid, tid).
		Count(&count).Error
	return count > 0, err
}

func CreateEarnedAchievement(db *gorm.DB, earned *models.EarnedAchievement) error {
	return db.Create(earned).Error
}

func GetEarnedAchievements(db *gorm.DB, tid string) ([]models.EarnedAchievement, error) {
	var earned []models.EarnedAchievement
	if err := db.Where("tid = ?", tid).Order("created_at desc").Find(&earned).Error; err != nil {
		return nil, err
	}
	return earned, nil
}
