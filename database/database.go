package database

import (
	"fmt"
	"log"
	"os"

	"mention-engine/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the process-wide store handle. Composition roots should prefer
// building their own *gorm.DB and passing it explicitly; this package
// variable exists for main.go's startup sequence only.
var DB *gorm.DB

// Open connects to the relational store using DB_* environment
// variables and runs the initial schema migration.
func Open() (*gorm.DB, error) {
	host := os.Getenv("DB_HOST")
	port := os.Getenv("DB_PORT")
	user := os.Getenv("DB_USER")
	password := os.Getenv("DB_PASSWORD")
	dbname := os.Getenv("DB_NAME")
	sslmode := os.Getenv("DB_SSLMODE")
	if sslmode == "" {
		sslmode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}

	log.Println("Store connected successfully")

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	DB = db
	return db, nil
}

// Migrate auto-migrates the GORM-representable tables and then applies
// the hand-written SQL this schema needs but GORM tags cannot express:
// the partial unique indexes and the tasks GIN index.
func Migrate(db *gorm.DB) error {
	tables := []struct {
		name  string
		model interface{}
	}{
		{"users", &models.User{}},
		{"mentions", &models.Mention{}},
		{"tasks", &models.Task{}},
		{"audits", &models.Audit{}},
		{"circuit_breaker_states", &models.CircuitBreakerState{}},
	}

	for _, t := range tables {
		if !db.Migrator().HasTable(t.model) {
			log.Printf("table '%s' not found, creating...", t.name)
			if err := db.AutoMigrate(t.model); err != nil {
				return fmt.Errorf("migrate table %s: %w", t.name, err)
			}
		}
	}

	return applyRawIndexes(db)
}

// applyRawIndexes creates the partial unique indexes and the tasks GIN
// index. These cannot be expressed via GORM struct tags.
func applyRawIndexes(db *gorm.DB) error {
	statements := []string{
		// At most one in-flight REPLY_MENTION task per mention.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_reply_mention_unique
			ON tasks ((data->>'mentionId'))
			WHERE code = 'REPLY_MENTION'`,
		// No duplicate content resubmission for the same mention.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_reply_mention_content_unique
			ON tasks ((data->>'mentionId'), (data->>'content'))
			WHERE code = 'REPLY_MENTION'`,
		// Keep the "recently fetched posts" / "mentionId lookup" queries cheap.
		`CREATE INDEX IF NOT EXISTS idx_tasks_data_gin ON tasks USING GIN (data)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_code ON tasks (code)`,
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply index: %w", err)
		}
	}
	return nil
}

// Notify wires a Postgres NOTIFY trigger on task inserts so background
// recovery loops can wake promptly instead of waiting for the poll tick.
func Notify(db *gorm.DB, channel string) error {
	fn := fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION notify_%s() RETURNS TRIGGER AS $$
		BEGIN
			PERFORM pg_notify('%s', NEW.code);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;
	`, channel, channel)
	if err := db.Exec(fn).Error; err != nil {
		return fmt.Errorf("create notify function: %w", err)
	}

	trigger := fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_insert_trigger ON tasks`, channel)
	if err := db.Exec(trigger).Error; err != nil {
		return fmt.Errorf("drop existing trigger: %w", err)
	}

	create := fmt.Sprintf(`
		CREATE TRIGGER %s_insert_trigger
		AFTER INSERT ON tasks
		FOR EACH ROW
		EXECUTE FUNCTION notify_%s();
	`, channel, channel)
	if err := db.Exec(create).Error; err != nil {
		return fmt.Errorf("create trigger: %w", err)
	}

	log.Printf("notify trigger created on channel %s", channel)
	return nil
}

// GetDB returns the process-wide store handle set up by Open.
func GetDB() *gorm.DB { return DB }
