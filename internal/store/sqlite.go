package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tier_configs (
			profile TEXT NOT NULL,
			tier TEXT NOT NULL,
			primary_model TEXT NOT NULL,
			fallback TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (profile, tier)
		)`,
		`CREATE TABLE IF NOT EXISTS model_pricing (
			model_id TEXT PRIMARY KEY,
			input_price_per_m REAL NOT NULL DEFAULT 0,
			output_price_per_m REAL NOT NULL DEFAULT 0,
			context_window INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS catalog_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			baseline_model TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS scoring_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			weights_json TEXT NOT NULL DEFAULT '{}',
			boundaries_json TEXT NOT NULL DEFAULT '{}',
			overrides_json TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadCatalogConfig reads the full routing table: every (profile, tier)
// mapping, every model's pricing/context window, and the baseline model.
func (s *SQLiteStore) LoadCatalogConfig(ctx context.Context) (CatalogConfig, error) {
	var cfg CatalogConfig

	rows, err := s.db.QueryContext(ctx, `SELECT profile, tier, primary_model, fallback FROM tier_configs`)
	if err != nil {
		return cfg, fmt.Errorf("load tier configs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec TierConfigRecord
		var fallbackJSON string
		if err := rows.Scan(&rec.Profile, &rec.Tier, &rec.Primary, &fallbackJSON); err != nil {
			return cfg, fmt.Errorf("scan tier config: %w", err)
		}
		if err := json.Unmarshal([]byte(fallbackJSON), &rec.Fallback); err != nil {
			return cfg, fmt.Errorf("decode fallback list for %s/%s: %w", rec.Profile, rec.Tier, err)
		}
		cfg.TierConfigs = append(cfg.TierConfigs, rec)
	}
	if err := rows.Err(); err != nil {
		return cfg, err
	}

	priceRows, err := s.db.QueryContext(ctx, `SELECT model_id, input_price_per_m, output_price_per_m, context_window FROM model_pricing`)
	if err != nil {
		return cfg, fmt.Errorf("load model pricing: %w", err)
	}
	defer priceRows.Close()
	for priceRows.Next() {
		var rec ModelPricingRecord
		if err := priceRows.Scan(&rec.ModelID, &rec.InputPricePerM, &rec.OutputPricePerM, &rec.ContextWindow); err != nil {
			return cfg, fmt.Errorf("scan model pricing: %w", err)
		}
		cfg.Pricing = append(cfg.Pricing, rec)
	}
	if err := priceRows.Err(); err != nil {
		return cfg, err
	}

	var baseline sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT baseline_model FROM catalog_meta WHERE id = 1`).Scan(&baseline)
	if err != nil && err != sql.ErrNoRows {
		return cfg, fmt.Errorf("load baseline model: %w", err)
	}
	cfg.Baseline = baseline.String

	return cfg, nil
}

// SaveCatalogConfig replaces the entire routing table in one transaction.
func (s *SQLiteStore) SaveCatalogConfig(ctx context.Context, cfg CatalogConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tier_configs`); err != nil {
		return fmt.Errorf("clear tier configs: %w", err)
	}
	for _, rec := range cfg.TierConfigs {
		fallbackJSON, err := json.Marshal(rec.Fallback)
		if err != nil {
			return fmt.Errorf("encode fallback list for %s/%s: %w", rec.Profile, rec.Tier, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tier_configs (profile, tier, primary_model, fallback) VALUES (?, ?, ?, ?)`,
			rec.Profile, rec.Tier, rec.Primary, string(fallbackJSON))
		if err != nil {
			return fmt.Errorf("insert tier config %s/%s: %w", rec.Profile, rec.Tier, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM model_pricing`); err != nil {
		return fmt.Errorf("clear model pricing: %w", err)
	}
	for _, rec := range cfg.Pricing {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO model_pricing (model_id, input_price_per_m, output_price_per_m, context_window) VALUES (?, ?, ?, ?)`,
			rec.ModelID, rec.InputPricePerM, rec.OutputPricePerM, rec.ContextWindow)
		if err != nil {
			return fmt.Errorf("insert model pricing %s: %w", rec.ModelID, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO catalog_meta (id, baseline_model) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET baseline_model = excluded.baseline_model`,
		cfg.Baseline)
	if err != nil {
		return fmt.Errorf("save baseline model: %w", err)
	}

	return tx.Commit()
}

// LoadScoringConfig reads the single scoring-config row, returning the zero
// value (empty JSON objects) if none has been saved yet.
func (s *SQLiteStore) LoadScoringConfig(ctx context.Context) (ScoringConfigRecord, error) {
	rec := ScoringConfigRecord{WeightsJSON: "{}", BoundariesJSON: "{}", OverridesJSON: "{}"}
	err := s.db.QueryRowContext(ctx,
		`SELECT weights_json, boundaries_json, overrides_json FROM scoring_config WHERE id = 1`,
	).Scan(&rec.WeightsJSON, &rec.BoundariesJSON, &rec.OverridesJSON)
	if err != nil && err != sql.ErrNoRows {
		return rec, fmt.Errorf("load scoring config: %w", err)
	}
	return rec, nil
}

// SaveScoringConfig upserts the single scoring-config row.
func (s *SQLiteStore) SaveScoringConfig(ctx context.Context, cfg ScoringConfigRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scoring_config (id, weights_json, boundaries_json, overrides_json) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			weights_json = excluded.weights_json,
			boundaries_json = excluded.boundaries_json,
			overrides_json = excluded.overrides_json`,
		cfg.WeightsJSON, cfg.BoundariesJSON, cfg.OverridesJSON)
	if err != nil {
		return fmt.Errorf("save scoring config: %w", err)
	}
	return nil
}
