package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"kladovka/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB represents the database connection and its box cache.
type DB struct {
	*sql.DB
	boxesCache map[string]models.Box
	cacheTime  time.Time
	mu         sync.RWMutex
	logger     *zerolog.Logger
}

var (
	ErrBoxNotFound     = errors.New("box not found")
	ErrBookingNotFound = errors.New("booking not found")
	ErrDuplicate       = errors.New("already exists")
)

// NewDB initializes a new database connection and creates tables if they don't exist.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	// Создаем директорию для БД, если её нет
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Добавляем параметры для SQLite: WAL mode, busy timeout
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{
		DB:         db,
		boxesCache: make(map[string]models.Box),
		logger:     logger,
	}

	// Создаем таблицы
	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	// Load boxes into cache
	if err := instance.LoadBoxes(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Failed to load boxes into cache")
		// We don't return error here to allow the app to start even if boxes are missing
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		// Таблица боксов
		`CREATE TABLE IF NOT EXISTS boxes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			size_m2 REAL NOT NULL DEFAULT 0,
			device_id TEXT NOT NULL DEFAULT '',
			allow_hourly BOOLEAN NOT NULL DEFAULT 0,
			allow_daily BOOLEAN NOT NULL DEFAULT 0,
			allow_monthly BOOLEAN NOT NULL DEFAULT 0,
			price_per_hour REAL,
			price_per_day REAL,
			price_per_31days REAL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		// Таблица бронирований
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			user_name TEXT NOT NULL,
			box_id TEXT NOT NULL,
			device_id TEXT NOT NULL DEFAULT '',
			extra_device_ids TEXT NOT NULL DEFAULT '[]',
			access_code TEXT NOT NULL,
			seam_access_code_id TEXT,
			extra_seam_access_code_ids TEXT NOT NULL DEFAULT '[]',
			user_id TEXT,
			pricing_mode TEXT NOT NULL DEFAULT '',
			unit_label TEXT NOT NULL DEFAULT '',
			billed_units INTEGER NOT NULL DEFAULT 0,
			price_for_period REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			valid_until DATETIME NOT NULL,
			FOREIGN KEY(box_id) REFERENCES boxes(id)
		)`,
		// Журнал изменений (boxes + bookings)
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			action TEXT NOT NULL,
			actor TEXT,
			detail TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Индексы для бронирований
		`CREATE INDEX IF NOT EXISTS idx_bookings_box_id ON bookings(box_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_valid_until ON bookings(valid_until)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_access_code ON bookings(access_code)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id)`,

		// Составной индекс для проверки занятости бокса
		`CREATE INDEX IF NOT EXISTS idx_bookings_box_valid ON bookings(box_id, valid_until)`,

		// Индексы для журнала
		`CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}

	return db.ensureNewColumns()
}

// ensureNewColumns adds new columns to existing tables if they don't exist
func (db *DB) ensureNewColumns() error {
	migrations := []string{
		`ALTER TABLE boxes ADD COLUMN price_per_31days REAL`,
		`ALTER TABLE bookings ADD COLUMN user_id TEXT`,
		`ALTER TABLE bookings ADD COLUMN pricing_mode TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE bookings ADD COLUMN unit_label TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE bookings ADD COLUMN billed_units INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE bookings ADD COLUMN price_for_period REAL NOT NULL DEFAULT 0`,
	}

	for _, m := range migrations {
		_, err := db.Exec(m)
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			// Log but don't fail - column might already exist
			if db.logger != nil {
				db.logger.Debug().Err(err).Str("migration", m).Msg("Migration skipped")
			}
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
