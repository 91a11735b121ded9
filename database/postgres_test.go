package database

import (
	"testing"

	"challenge-tasks/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestMigrateCreatesTables(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}

	if err := Migrate(db); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate (should be no-op): %v", err)
	}

	for _, model := range []any{
		&models.Challenge{}, &models.Enrollment{}, &models.Team{}, &models.TeamMember{},
		&models.Submission{}, &models.User{}, &models.Wallet{}, &models.StatDocument{},
		&models.StatMetric{}, &models.TaskRun{},
	} {
		if !db.Migrator().HasTable(model) {
			t.Errorf("table for %T not created", model)
		}
	}
	if !db.Migrator().HasTable("user_challenges") {
		t.Error("enrollments should live in user_challenges")
	}
}
