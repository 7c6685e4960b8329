package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/storage/repository"
	_ "github.com/lib/pq"
)

// PostgresStorage фасад над репозиториями PostgreSQL
type PostgresStorage struct {
	db          *sql.DB
	preferences *repository.PreferencesRepository
	audit       *repository.AuditRepository
	results     *repository.ResultRepository
}

// NewPostgresStorage подключается к БД, настраивает пул и прогоняет миграции
func NewPostgresStorage(host string, port int, user, password, dbname, sslmode string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*PostgresStorage, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
	return Open(dsn, maxOpenConns, maxIdleConns, connMaxLifetime)
}

// Open то же по готовому DSN (используется в интеграционных тестах)
func Open(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Настройка connection pool из конфигурации
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	storage := &PostgresStorage{
		db:          db,
		preferences: repository.NewPreferencesRepository(db),
		audit:       repository.NewAuditRepository(db),
		results:     repository.NewResultRepository(db),
	}

	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) migrate() error {
	migrations := []string{
		// Настройки ребалансировки, документ целиком в JSONB
		`CREATE TABLE IF NOT EXISTS user_preferences (
			wallet_address VARCHAR(64) PRIMARY KEY,
			enabled BOOLEAN NOT NULL DEFAULT false,
			data JSONB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		// Аудит, append-only
		`CREATE TABLE IF NOT EXISTS audit_events (
			id VARCHAR(36) PRIMARY KEY,
			event_type VARCHAR(40) NOT NULL,
			wallet_address VARCHAR(64) NOT NULL,
			details JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		// Подписанные транзакции
		`CREATE TABLE IF NOT EXISTS rebalance_results (
			id SERIAL PRIMARY KEY,
			signature VARCHAR(100) NOT NULL UNIQUE,
			wallet_address VARCHAR(64) NOT NULL,
			pool VARCHAR(100) NOT NULL,
			venue VARCHAR(20) NOT NULL,
			action JSONB NOT NULL,
			estimated_value DECIMAL(20, 8) NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		// Индексы
		`CREATE INDEX IF NOT EXISTS idx_user_preferences_enabled ON user_preferences(enabled)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_wallet ON audit_events(wallet_address)`,
		`CREATE INDEX IF NOT EXISTS idx_rebalance_results_wallet ON rebalance_results(wallet_address, created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Preferences репозиторий настроек
func (s *PostgresStorage) Preferences() *repository.PreferencesRepository {
	return s.preferences
}

// Audit репозиторий аудита
func (s *PostgresStorage) Audit() *repository.AuditRepository {
	return s.audit
}

// Results репозиторий результатов
func (s *PostgresStorage) Results() *repository.ResultRepository {
	return s.results
}

// Close закрывает соединение
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// DB для health check
func (s *PostgresStorage) DB() *sql.DB {
	return s.db
}
