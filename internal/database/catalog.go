package database

import (
	"github.com/openctf/ctfcore/internal/database/models"
	"gorm.io/gorm"
)

// Problem CRUD
func GetProblemByPID(db *gorm.DB, pid string) (*models.Problem, error) {
	var problem models.Problem
	if err := db.Preload("Instances").Where("pid = ?", pid).First(&problem).Error; err != nil {
		return nil, err
	}
	return &problem, nil
}

func GetProblemBySanitizedName(db *gorm.DB, name string) (*models.Problem, error) {
	var problem models.Problem
	if err := db.Preload("Instances").Where("sanitized_name = ?", name).First(&problem).Error; err != nil {
		return nil, err
	}
	return &problem, nil
}

// GetAllProblems returns every problem with instances preloaded. Disabled
// problems are included; callers filter for non-admin views.
func GetAllProblems(db *gorm.DB) ([]models.Problem, error) {
	var problems []models.Problem
	if err := db.Preload("Instances").Order("score asc, name asc").Find(&problems).Error; err != nil {
		return nil, err
	}
	return problems, nil
}

func GetProblemsByCategory(db *gorm.DB, category string) ([]models.Problem, error) {
	var problems []models.Problem
	if err := db.Preload("Instances").Where("category = ?", category).
		Order("score asc, name asc").Find(&problems).Error; err != nil {
		return nil, err
	}
	return problems, nil
}

func SaveProblem(db *gorm.DB, problem *models.Problem) error {
	return db.Save(problem).Error
}

func DeleteProblem(db *gorm.DB, pid string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Instance{}, "pid = ?", pid).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Problem{}, "pid = ?", pid).Error
	})
}

// ReplaceInstances swaps the instances a shell server published for a
// problem: rows from other servers are retained untouched.
func ReplaceInstances(db *gorm.DB, pid, sid string, instances []models.Instance) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Instance{}, "pid = ? AND sid = ?", pid, sid).Error; err != nil {
			return err
		}
		for i := range instances {
			if err := tx.Create(&instances[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func GetInstanceByIID(db *gorm.DB, iid string) (*models.Instance, error) {
	var instance models.Instance
	if err := db.Where("iid = ?", iid).First(&instance).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

// Bundle CRUD
func GetBundleByBID(db *gorm.DB, bid string) (*models.Bundle, error) {
	var bundle models.Bundle
	if err := db.Where("bid = ?", bid).First(&bundle).Error; err != nil {
		return nil, err
	}
	return &bundle, nil
}

func GetAllBundles(db *gorm.DB) ([]models.Bundle, error) {
	var bundles []models.Bundle
	if err := db.Find(&bundles).Error; err != nil {
		return nil, err
	}
	return bundles, nil
}

func SaveBundle(db *gorm.DB, bundle *models.Bundle) error {
	return db.Save(bundle).Error
}

func DeleteBundle(db *gorm.DB, bid string) error {
	return db.Delete(&models.Bundle{}, "bid = ?", bid).Error
}

// ShellServer CRUD
func CreateShellServer(db *gorm.DB, server *models.ShellServer) error {
	return db.Create(server).Error
}

func GetShellServerBySID(db *gorm.DB, sid string) (*models.ShellServer, error) {
	var server models.ShellServer
	if err := db.Where("sid = ?", sid).First(&server).Error; err != nil {
		return nil, err
	}
	return &server, nil
}

func GetAllShellServers(db *gorm.DB) ([]models.ShellServer, error) {
	var servers []models.ShellServer
	if err := db.Order("server_number asc").Find(&servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}

func UpdateShellServer(db *gorm.DB, server *models.ShellServer) error {
	return db.Save(server).Error
}

func DeleteShellServer(db *gorm.DB, sid string) error {
	return db.Delete(&models.ShellServer{}, "sid = ?", sid).Error
}

// MaxServerNumber returns the highest server number currently installed,
// used to cap sharding when limit_added_range is on.
func MaxServerNumber(db *gorm.DB) (int, error) {
	var max *int
	if err := db.Model(&models.ShellServer{}).Select("max(server_number)").Scan(&max).Error; err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}
