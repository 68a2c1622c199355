package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/dkovalenko/crpt-relay/internal/repository"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createSubmissionsTable(),
		createSubmissionAttemptsTable(),
	})

	return m.Migrate()
}

func createSubmissionsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_submissions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SubmissionModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_submissions_status_created ON submissions (status, created_at)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_idempotency_key ON submissions (idempotency_key) WHERE idempotency_key IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_submissions_retry ON submissions (next_retry_at) WHERE status = 'QUEUED'`,
				`CREATE INDEX IF NOT EXISTS idx_submissions_correlation_id ON submissions (correlation_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SubmissionModel{})
		},
	}
}

func createSubmissionAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_submission_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SubmissionAttemptModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_attempts_submission_id ON submission_attempts (submission_id)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SubmissionAttemptModel{})
		},
	}
}
