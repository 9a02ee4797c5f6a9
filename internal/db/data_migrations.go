package db

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// DataMigration represents a data migration
type DataMigration struct {
	Version     string
	Description string
	Up          func(*sql.DB) error
}

// GetDataMigrations return all data migrations, applied in order
func GetDataMigrations() []DataMigration {
	return []DataMigration{
		{
			Version:     "data_001",
			Description: "Status check constraints",
			Up:          addStatusConstraints,
		},
		{
			Version:     "data_002",
			Description: "Purged packs carry no plaintext",
			Up:          addPurgeConsistencyTrigger,
		},
	}
}

// RunDataMigrations applies every migration not yet recorded in schema_data_migrations.
func RunDataMigrations(db *sql.DB, log *logrus.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_data_migrations (
			version     VARCHAR(64) PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_data_migrations: %w", err)
	}

	for _, m := range GetDataMigrations() {
		var exists bool
		if err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM schema_data_migrations WHERE version = $1)`, m.Version).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.Version, err)
		}
		if exists {
			continue
		}

		log.WithFields(logrus.Fields{"version": m.Version, "description": m.Description}).Info("Applying data migration")
		if err := m.Up(db); err != nil {
			return fmt.Errorf("data migration %s failed: %w", m.Version, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_data_migrations (version, description) VALUES ($1, $2)`, m.Version, m.Description); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}
	}
	return nil
}

func addStatusConstraints(db *sql.DB) error {
	statements := []string{
		`ALTER TABLE batches ADD CONSTRAINT chk_batches_status CHECK (status IN ('CREATED', 'ACTIVE'))`,
		`ALTER TABLE code_packs ADD CONSTRAINT chk_code_packs_status CHECK (status IN ('GENERATING', 'READY', 'PRINT_CONFIRMED'))`,
		`ALTER TABLE verify_intents ADD CONSTRAINT chk_verify_intents_status CHECK (status IN ('ISSUED', 'CONFIRMED', 'EXPIRED'))`,
		`ALTER TABLE verifications ADD CONSTRAINT chk_verifications_reward CHECK (reward_amount >= 0)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// addPurgeConsistencyTrigger rejects writes that put plaintext back on a purged pack.
func addPurgeConsistencyTrigger(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE OR REPLACE FUNCTION reject_plaintext_after_purge() RETURNS trigger AS $$
		BEGIN
			IF (NEW.code_plaintext IS NOT NULL OR NEW.qr_payload IS NOT NULL) AND EXISTS (
				SELECT 1 FROM code_packs WHERE pack_id = NEW.pack_id AND plaintext_purged_at IS NOT NULL
			) THEN
				RAISE EXCEPTION 'pack % plaintext already purged', NEW.pack_id;
			END IF;
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS trg_codes_purged ON codes;
		CREATE TRIGGER trg_codes_purged BEFORE INSERT OR UPDATE ON codes
			FOR EACH ROW EXECUTE FUNCTION reject_plaintext_after_purge();
	`)
	return err
}
