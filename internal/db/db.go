package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"floor-monitor-backend/config"
	"floor-monitor-backend/internal/model"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Println("Running database migrations...")
	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Println("Database initialization complete.")
	return db, nil
}

// Migrate runs AutoMigrate plus the DDL gorm cannot express. Shared with the
// sqlite-backed tests.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Machine{},
		&model.MachineConfig{},
		&model.ProductionCounter{},
		&model.ProductionSnapshot{},
		&model.ProductionPopup{},
		&model.ProductionAlert{},
		&model.AlertChannelPreference{},
		&model.NotificationLogEntry{},
		&model.User{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}

	if err := applyConstraintDDL(db); err != nil {
		log.Printf("Warning: failed to apply some constraint DDL: %v. Continuing without them.", err)
	}
	return nil
}

// applyConstraintDDL creates the partial unique indexes that make popup and
// alert creation safe against the check-then-insert race: a second concurrent
// crossing lands as an upsert on the same row instead of a duplicate.
func applyConstraintDDL(db *gorm.DB) error {
	ddls := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_production_popups_active ON production_popups (machine_id, day) WHERE is_active;",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_production_alerts_active ON production_alerts (machine_id, day) WHERE is_active;",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
