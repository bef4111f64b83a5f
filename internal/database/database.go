package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/openctf/ctfcore/internal/database/models"
	"go.uber.org/zap"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func Init(dsn string) (*gorm.DB, error) {
	if _, err := os.Stat(dsn); os.IsNotExist(err) {
		zap.S().Infof("database file not found at '%s', creating directory for it.", dsn)
		dbDir := filepath.Dir(dsn)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// InitMemory opens a private in-memory database, used by tests. Each call
// gets its own namespace; cache=shared keeps the pooled connections on the
// same database.
func InitMemory() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates the schema, including the compound submission indexes
// the scoring queries depend on.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Team{},
		&models.Group{},
		&models.Scoreboard{},
		&models.Problem{},
		&models.Instance{},
		&models.Bundle{},
		&models.ShellServer{},
		&models.Submission{},
		&models.Token{},
		&models.Settings{},
		&models.Exception{},
		&models.Achievement{},
		&models.EarnedAchievement{},
	)
}
