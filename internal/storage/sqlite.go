package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/log"

	_ "modernc.org/sqlite"
)

const timestampLayout = time.RFC3339Nano

// SQLiteStore keeps both views in a SQLite database. Every Save replaces the
// contents of both tables in one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database and migrates it.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Load reads both tables. A failure reading one table does not prevent the
// other from loading.
func (s *SQLiteStore) Load(ctx context.Context) (ledger.Snapshot, error) {
	snap := ledger.NewSnapshot()
	var errs []error

	current, err := s.loadCurrent(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		snap.Current = currentMaps(current)
	}

	history, err := s.loadHistory(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		snap.History = history
	}

	return snap, errors.Join(errs...)
}

func (s *SQLiteStore) loadCurrent(ctx context.Context) (map[string][]core.CurrentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, timestamp, amount_cents, currency, payee
		FROM current_transactions`)
	if err != nil {
		return nil, fmt.Errorf("query current transactions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]core.CurrentRecord)
	for rows.Next() {
		var (
			account, ts, currency, payee string
			cents                        int64
		)
		if err := rows.Scan(&account, &ts, &cents, &currency, &payee); err != nil {
			return nil, fmt.Errorf("scan current transaction: %w", err)
		}
		id, err := scanID(ts, cents, currency, payee)
		if err != nil {
			return nil, err
		}
		out[account] = append(out[account], core.CurrentRecord{AccountID: account, ID: id})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate current transactions: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) loadHistory(ctx context.Context) (map[string][]core.HistoricalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, timestamp, amount_cents, currency, payee, memo
		FROM historical_transactions
		ORDER BY account_id, position`)
	if err != nil {
		return nil, fmt.Errorf("query historical transactions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]core.HistoricalRecord)
	for rows.Next() {
		var (
			account, ts, currency, payee string
			cents                        int64
			memo                         sql.NullString
		)
		if err := rows.Scan(&account, &ts, &cents, &currency, &payee, &memo); err != nil {
			return nil, fmt.Errorf("scan historical transaction: %w", err)
		}
		id, err := scanID(ts, cents, currency, payee)
		if err != nil {
			return nil, err
		}
		rec := core.HistoricalRecord{AccountID: account, ID: id}
		if memo.Valid {
			rec.Memo = &memo.String
		}
		out[account] = append(out[account], rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate historical transactions: %w", err)
	}
	return out, nil
}

func scanID(ts string, cents int64, currency, payee string) (core.TransactionID, error) {
	t, err := time.Parse(timestampLayout, ts)
	if err != nil {
		return core.TransactionID{}, fmt.Errorf("parse stored timestamp %q: %w", ts, err)
	}
	return core.NewTransactionID(t, cents, currency, payee), nil
}

// Save replaces both tables with the snapshot.
func (s *SQLiteStore) Save(ctx context.Context, snap ledger.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM current_transactions`); err != nil {
		return fmt.Errorf("clear current transactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM historical_transactions`); err != nil {
		return fmt.Errorf("clear historical transactions: %w", err)
	}

	insertCurrent, err := tx.PrepareContext(ctx, `
		INSERT INTO current_transactions (account_id, timestamp, amount_cents, currency, payee)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare current insert: %w", err)
	}
	defer insertCurrent.Close()

	for account, txs := range snap.Current {
		for id := range txs {
			if _, err := insertCurrent.ExecContext(ctx, account,
				id.Timestamp.UTC().Format(timestampLayout), id.AmountMinorUnits, id.Currency, id.Payee); err != nil {
				return fmt.Errorf("insert current transaction: %w", err)
			}
		}
	}

	insertHistory, err := tx.PrepareContext(ctx, `
		INSERT INTO historical_transactions (account_id, position, timestamp, amount_cents, currency, payee, memo)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer insertHistory.Close()

	for account, records := range snap.History {
		for pos, rec := range records {
			var memo sql.NullString
			if rec.Memo != nil {
				memo = sql.NullString{String: *rec.Memo, Valid: true}
			}
			if _, err := insertHistory.ExecContext(ctx, account, pos,
				rec.ID.Timestamp.UTC().Format(timestampLayout), rec.ID.AmountMinorUnits, rec.ID.Currency, rec.ID.Payee, memo); err != nil {
				return fmt.Errorf("insert historical transaction: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	log.FromContext(ctx).WithComponent(log.ComponentStorage).DebugContext(ctx, "Snapshot saved to SQLite",
		log.FieldOperation, log.OpFlush,
		log.FieldAccountsCount, len(snap.History))
	return nil
}
