package database

import (
	"fmt"
	"time"

	"challenge-tasks/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to PostgreSQL and configures the connection pool.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Migrate creates or updates every table the pipeline touches.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Challenge{},
		&models.Enrollment{},
		&models.Team{},
		&models.TeamMember{},
		&models.Submission{},
		&models.User{},
		&models.Wallet{},
		&models.StatDocument{},
		&models.StatMetric{},
		&models.TaskRun{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
