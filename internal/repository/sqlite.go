package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

// sqliteTimeLayout is fixed width so timestamps sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository stores diagnosis records in a single SQLite file.
// It serves single-node deployments and the CLI.
type SQLiteRepository struct {
	db     *sql.DB
	dbPath string
	log    *logrus.Logger
	now    func() time.Time
}

// NewSQLiteRepository opens the database file, creating it and its schema
// when they don't exist.
func NewSQLiteRepository(dbPath string, logger *logrus.Logger) (*SQLiteRepository, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.WithField("path", dbPath).Info("SQLite diagnosis store opened")

	return &SQLiteRepository{
		db:     db,
		dbPath: dbPath,
		log:    logger,
		now:    time.Now,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS diagnoses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		final_diagnosis TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		urgency_level TEXT NOT NULL DEFAULT '',
		overall_confidence REAL NOT NULL DEFAULT 0,
		routing_required INTEGER NOT NULL DEFAULT 0,
		is_archived INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		document TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_diagnoses_user_created ON diagnoses(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_diagnoses_final_diagnosis ON diagnoses(final_diagnosis);
	CREATE INDEX IF NOT EXISTS idx_diagnoses_status ON diagnoses(status);
	`

	_, err := db.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// Save inserts a record, or replaces it when the id already exists
func (s *SQLiteRepository) Save(ctx context.Context, record *domain.CombinedDiagnosis) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("%w: record id is required", domain.ErrInvalidInput)
	}
	doc, err := encodeRecord(record)
	if err != nil {
		return err
	}

	result := record.Predictions.CombinedResult
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO diagnoses (
			id, user_id, final_diagnosis, status, urgency_level, overall_confidence,
			routing_required, is_archived, created_at, updated_at, document
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			final_diagnosis = excluded.final_diagnosis,
			status = excluded.status,
			urgency_level = excluded.urgency_level,
			overall_confidence = excluded.overall_confidence,
			routing_required = excluded.routing_required,
			is_archived = excluded.is_archived,
			updated_at = excluded.updated_at,
			document = excluded.document
	`,
		record.ID,
		record.UserID,
		result.FinalDiagnosis,
		string(record.Status),
		string(result.UrgencyLevel),
		result.OverallConfidence,
		record.SpecialistRouting.IsRoutingRequired,
		record.IsArchived,
		formatTime(record.CreatedAt),
		formatTime(record.UpdatedAt),
		string(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

// FindByID loads a single record
func (s *SQLiteRepository) FindByID(ctx context.Context, id string) (*domain.CombinedDiagnosis, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, "SELECT document FROM diagnoses WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return decodeRecord([]byte(doc))
}

// FindByUser lists a user's unarchived records, newest first
func (s *SQLiteRepository) FindByUser(ctx context.Context, userID string, query domain.HistoryQuery) ([]*domain.CombinedDiagnosis, error) {
	where, args := historyFilterSQLite(userID, query)
	args = append(args, query.Limit, query.Offset())

	rows, err := s.db.QueryContext(ctx,
		"SELECT document FROM diagnoses WHERE "+where+" ORDER BY created_at DESC LIMIT ? OFFSET ?",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var records []*domain.CombinedDiagnosis
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		record, err := decodeRecord([]byte(doc))
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if records == nil {
		records = []*domain.CombinedDiagnosis{}
	}
	return records, nil
}

// CountByUser counts the records FindByUser would page through
func (s *SQLiteRepository) CountByUser(ctx context.Context, userID string, query domain.HistoryQuery) (int, error) {
	where, args := historyFilterSQLite(userID, query)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM diagnoses WHERE "+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return total, nil
}

func historyFilterSQLite(userID string, query domain.HistoryQuery) (string, []any) {
	clauses := []string{"user_id = ?", "is_archived = 0"}
	args := []any{userID}

	if len(query.Statuses) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(query.Statuses)), ",")
		clauses = append(clauses, "status IN ("+marks+")")
		for _, status := range statusStrings(query.Statuses) {
			args = append(args, status)
		}
	}
	if strings.TrimSpace(query.Diagnosis) != "" {
		clauses = append(clauses, `final_diagnosis LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(query.Diagnosis))
	}
	return strings.Join(clauses, " AND "), args
}

// Delete removes a record permanently
func (s *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM diagnoses WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return notFound(id)
	}
	return nil
}

// SetArchived flags or unflags a record as archived
func (s *SQLiteRepository) SetArchived(ctx context.Context, id string, archived bool) error {
	return s.mutate(ctx, id, func(record *domain.CombinedDiagnosis) {
		record.IsArchived = archived
	})
}

// UpdateFeedback attaches feedback to a record
func (s *SQLiteRepository) UpdateFeedback(ctx context.Context, id string, feedback *domain.Feedback) error {
	return s.mutate(ctx, id, func(record *domain.CombinedDiagnosis) {
		record.Feedback = feedback
	})
}

// UpdateRouting replaces a record's specialist routing
func (s *SQLiteRepository) UpdateRouting(ctx context.Context, id string, routing domain.SpecialistRouting) error {
	return s.mutate(ctx, id, func(record *domain.CombinedDiagnosis) {
		record.SpecialistRouting = routing
	})
}

func (s *SQLiteRepository) mutate(ctx context.Context, id string, fn func(*domain.CombinedDiagnosis)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var doc string
	err = tx.QueryRowContext(ctx, "SELECT document FROM diagnoses WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(id)
	}
	if err != nil {
		return fmt.Errorf("failed to scan: %w", err)
	}

	record, err := decodeRecord([]byte(doc))
	if err != nil {
		return err
	}
	fn(record)
	record.UpdatedAt = s.now().UTC()

	updated, err := encodeRecord(record)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE diagnoses
		SET routing_required = ?, is_archived = ?, updated_at = ?, document = ?
		WHERE id = ?
	`,
		record.SpecialistRouting.IsRoutingRequired,
		record.IsArchived,
		formatTime(record.UpdatedAt),
		string(updated),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update: %w", err)
	}
	return tx.Commit()
}

// DiagnosisStats groups a user's records since a point in time by final diagnosis
func (s *SQLiteRepository) DiagnosisStats(ctx context.Context, userID string, since time.Time) ([]domain.DiagnosisStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT final_diagnosis, COUNT(*), AVG(overall_confidence)
		FROM diagnoses
		WHERE user_id = ? AND created_at >= ?
		GROUP BY final_diagnosis
		ORDER BY COUNT(*) DESC, final_diagnosis
	`, userID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := []domain.DiagnosisStat{}
	for rows.Next() {
		var stat domain.DiagnosisStat
		if err := rows.Scan(&stat.Diagnosis, &stat.Count, &stat.AvgConfidence); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// Path returns the database file path
func (s *SQLiteRepository) Path() string {
	return s.dbPath
}

// Ping checks the database file is still usable
func (s *SQLiteRepository) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteRepository) Close() error {
	return s.db.Close()
}
