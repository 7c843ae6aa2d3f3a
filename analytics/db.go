// Package analytics projects completed quizzes into a SQLite database and
// answers aggregate queries over them.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arloliu/quizflow/types"
)

// Completion is one scored quiz as recorded by analytics.
type Completion struct {
	QuizID      string
	WorksheetID string
	UserID      string
	Difficulty  types.Difficulty
	Score       int
	CompletedAt time.Time
	RecordedAt  time.Time
}

// TierStats aggregates the completions of one difficulty.
type TierStats struct {
	Difficulty   types.Difficulty
	Completions  int
	AverageScore float64
	Perfect      int
}

// DB is the analytics projection.
type DB struct {
	db *sql.DB
}

// OpenDB opens the SQLite database at dsn and creates the schema.
//
// dsn is passed to go-sqlite3 unchanged, so ":memory:" and query options such
// as "_busy_timeout" work.
func OpenDB(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection also keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{db: db}
	if err := d.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS completions (
			worksheet_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			quiz_id TEXT NOT NULL,
			score INTEGER NOT NULL,
			completed_at DATETIME NOT NULL,
			recorded_at DATETIME NOT NULL,
			PRIMARY KEY (worksheet_id, user_id, difficulty)
		)`,
		`CREATE INDEX IF NOT EXISTS completions_user ON completions (user_id, completed_at)`,
	}

	for _, query := range queries {
		if _, err := d.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute %s: %w", query, err)
		}
	}

	return nil
}

// Record inserts c unless a completion for its (worksheet, user, difficulty)
// is already present. It reports whether a row was inserted.
func (d *DB) Record(ctx context.Context, c Completion) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO completions (worksheet_id, user_id, difficulty, quiz_id, score, completed_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (worksheet_id, user_id, difficulty) DO NOTHING`,
		c.WorksheetID, c.UserID, string(c.Difficulty), c.QuizID, c.Score, c.CompletedAt.UTC(), c.RecordedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record completion: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record completion: %w", err)
	}

	return n > 0, nil
}

// WorksheetStats returns per-difficulty aggregates for the worksheet in tier order.
// Difficulties without completions are omitted.
func (d *DB) WorksheetStats(ctx context.Context, worksheetID string) ([]TierStats, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT difficulty, COUNT(*), AVG(score), SUM(CASE WHEN score = ? THEN 1 ELSE 0 END)
		FROM completions WHERE worksheet_id = ? GROUP BY difficulty`,
		types.MaxScore, worksheetID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query worksheet stats: %w", err)
	}
	defer rows.Close()

	var stats []TierStats
	for rows.Next() {
		var (
			s    TierStats
			diff string
		)
		if err := rows.Scan(&diff, &s.Completions, &s.AverageScore, &s.Perfect); err != nil {
			return nil, fmt.Errorf("failed to scan worksheet stats: %w", err)
		}
		s.Difficulty = types.Difficulty(diff)
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read worksheet stats: %w", err)
	}

	slices.SortFunc(stats, func(a, b TierStats) int {
		return slices.Index(types.Difficulties, a.Difficulty) - slices.Index(types.Difficulties, b.Difficulty)
	})

	return stats, nil
}

// UserCompletions returns the user's completions, most recent first.
func (d *DB) UserCompletions(ctx context.Context, userID string) ([]Completion, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT quiz_id, worksheet_id, user_id, difficulty, score, completed_at, recorded_at
		FROM completions WHERE user_id = ? ORDER BY completed_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query completions: %w", err)
	}
	defer rows.Close()

	var out []Completion
	for rows.Next() {
		var (
			c    Completion
			diff string
		)
		if err := rows.Scan(&c.QuizID, &c.WorksheetID, &c.UserID, &diff, &c.Score, &c.CompletedAt, &c.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		c.Difficulty = types.Difficulty(diff)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read completions: %w", err)
	}

	return out, nil
}
