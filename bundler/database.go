package bundler

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DBBundleAttempt struct {
	ID           int64          `db:"id"`
	Block        int64          `db:"block"`
	TargetBlock  int64          `db:"target_block"`
	BundleHash   []byte         `db:"bundle_hash"`
	BundleSize   int            `db:"bundle_size"`
	Stage        string         `db:"stage"`
	Resolution   string         `db:"resolution"`
	Balance      sql.NullString `db:"balance"`
	Spendable    sql.NullString `db:"spendable"`
	GasPriceGwei sql.NullString `db:"gas_price_gwei"`
	SimSuccess   sql.NullBool   `db:"sim_success"`
	SimError     sql.NullString `db:"sim_error"`
	Error        sql.NullString `db:"error"`
	DurationMs   int64          `db:"duration_ms"`
	InsertedAt   time.Time      `db:"inserted_at"`
}

var insertAttemptQuery = `
INSERT INTO bundle_attempt (block, target_block, bundle_hash, bundle_size, stage, resolution,
                            balance, spendable, gas_price_gwei, sim_success, sim_error, error, duration_ms)
VALUES (:block, :target_block, :bundle_hash, :bundle_size, :stage, :resolution,
        :balance, :spendable, :gas_price_gwei, :sim_success, :sim_error, :error, :duration_ms)
RETURNING id`

var selectRecentAttemptsQuery = `
SELECT id, block, target_block, bundle_hash, bundle_size, stage, resolution, balance, spendable, gas_price_gwei,
       sim_success, sim_error, error, duration_ms, inserted_at
FROM bundle_attempt
ORDER BY id DESC
LIMIT $1`

// DBBackend stores the history of submission attempts in postgres
type DBBackend struct {
	db *sqlx.DB

	insertAttempt  *sqlx.NamedStmt
	recentAttempts *sqlx.Stmt
}

func NewDBBackend(postgresDSN string) (*DBBackend, error) {
	db, err := sqlx.Connect("postgres", postgresDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	insertAttempt, err := db.PrepareNamed(insertAttemptQuery)
	if err != nil {
		return nil, err
	}
	recentAttempts, err := db.Preparex(selectRecentAttemptsQuery)
	if err != nil {
		return nil, err
	}

	return &DBBackend{
		db:             db,
		insertAttempt:  insertAttempt,
		recentAttempts: recentAttempts,
	}, nil
}

func attemptFromOutcome(outcome *TickOutcome) DBBundleAttempt {
	summary := outcome.Summary()
	attempt := DBBundleAttempt{
		Block:        int64(outcome.Block),
		TargetBlock:  int64(outcome.TargetBlock),
		BundleSize:   outcome.BundleSize,
		Stage:        string(outcome.Stage),
		Resolution:   outcome.Resolution.String(),
		Balance:      sql.NullString{String: summary.Balance, Valid: summary.Balance != ""},
		Spendable:    sql.NullString{String: summary.Spendable, Valid: summary.Spendable != ""},
		GasPriceGwei: sql.NullString{String: summary.GasPriceGwei, Valid: summary.GasPriceGwei != ""},
		SimError:     sql.NullString{String: summary.SimError, Valid: summary.SimError != ""},
		Error:        sql.NullString{String: summary.Error, Valid: summary.Error != ""},
		DurationMs:   summary.DurationMs,
	}
	if summary.BundleHash != nil {
		attempt.BundleHash = summary.BundleHash.Bytes()
	}
	if summary.SimSuccess != nil {
		attempt.SimSuccess = sql.NullBool{Bool: *summary.SimSuccess, Valid: true}
	}
	return attempt
}

// RecordOutcome inserts one row per tick
func (b *DBBackend) RecordOutcome(ctx context.Context, outcome *TickOutcome) error {
	var id int64
	return b.insertAttempt.GetContext(ctx, &id, attemptFromOutcome(outcome))
}

func (b *DBBackend) RecentAttempts(ctx context.Context, limit int) ([]DBBundleAttempt, error) {
	res := make([]DBBundleAttempt, 0, limit)
	err := b.recentAttempts.SelectContext(ctx, &res, limit)
	return res, err
}

func (b *DBBackend) Close() error {
	return b.db.Close()
}
