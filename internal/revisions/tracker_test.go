package revisions

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/assignx/assignx-backend/pkg/models"
)

/* ===== helpers ===== */

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = godotenv.Load()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Fatal("TEST_DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Project{}, &models.Revision{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	revisions,
	projects,
	users
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

func withTx(t *testing.T, db *gorm.DB, fn func(tx *gorm.DB)) {
	t.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		t.Fatalf("begin tx: %v", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	fn(tx)
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit tx: %v", err)
	}
}

func seedProject(t *testing.T, tx *gorm.DB) uuid.UUID {
	t.Helper()
	clientID := uuid.New()
	if err := tx.Create(&models.User{
		ID:    clientID,
		Email: "c+" + uuid.NewString() + "@test.local",
		Role:  models.RoleClient,
	}).Error; err != nil {
		t.Fatal(err)
	}
	p := models.Project{
		Number:      "AX-TEST-" + uuid.NewString()[:8],
		ClientID:    clientID,
		Title:       "T",
		Subject:     "math",
		WordCount:   100,
		UrgencyTier: models.UrgencyStandard,
		Deadline:    time.Now().Add(72 * time.Hour),
		Status:      models.ProjectSubmittedForQC,
	}
	if err := tx.Create(&p).Error; err != nil {
		t.Fatal(err)
	}
	return p.ID
}

/* ================== TESTS ================== */

func Test_Open_NumbersAreMonotonic(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		projectID := seedProject(t, tx)
		supervisorID := uuid.New()

		for want := 1; want <= 3; want++ {
			r, err := Open(tx, projectID, supervisorID, "fix it")
			if err != nil {
				t.Fatalf("open %d: %v", want, err)
			}
			if r.Number != want {
				t.Fatalf("revision number = %d, want %d", r.Number, want)
			}
			if err := Close(tx, projectID); err != nil {
				t.Fatalf("close %d: %v", want, err)
			}
		}

		cnt, err := Count(tx, projectID)
		if err != nil {
			t.Fatal(err)
		}
		if cnt != 3 {
			t.Fatalf("count = %d, want 3", cnt)
		}
	})
}

func Test_Open_RejectsSecondOpenRevision(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		projectID := seedProject(t, tx)
		supervisorID := uuid.New()

		if _, err := Open(tx, projectID, supervisorID, "first"); err != nil {
			t.Fatal(err)
		}
		_, err := Open(tx, projectID, supervisorID, "second")
		if !errors.Is(err, ErrRevisionAlreadyOpen) {
			t.Fatalf("want ErrRevisionAlreadyOpen, got %v", err)
		}
	})
}

func Test_Close_WithoutOpenRevision(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		projectID := seedProject(t, tx)

		if err := Close(tx, projectID); !errors.Is(err, ErrNoOpenRevision) {
			t.Fatalf("want ErrNoOpenRevision, got %v", err)
		}
	})
}

func Test_Close_SetsResolvedAt(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		projectID := seedProject(t, tx)

		if _, err := Open(tx, projectID, uuid.New(), "redo section 2"); err != nil {
			t.Fatal(err)
		}
		if err := Close(tx, projectID); err != nil {
			t.Fatal(err)
		}

		var r models.Revision
		if err := tx.First(&r, "project_id = ?", projectID).Error; err != nil {
			t.Fatal(err)
		}
		if r.ResolvedAt == nil {
			t.Fatal("resolved_at not set")
		}
		if r.Feedback != "redo section 2" {
			t.Fatalf("feedback = %q", r.Feedback)
		}
	})
}
