package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

// PostgresRepository stores diagnosis records in the diagnoses table created
// by the migrations. The record itself lives in the JSONB document column.
type PostgresRepository struct {
	db  *sql.DB
	log *logrus.Logger
	now func() time.Time
}

// NewPostgresRepository creates a repository over an open database handle
func NewPostgresRepository(db *sql.DB, logger *logrus.Logger) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &PostgresRepository{db: db, log: logger, now: time.Now}, nil
}

// Save inserts a record, or replaces it when the id already exists
func (r *PostgresRepository) Save(ctx context.Context, record *domain.CombinedDiagnosis) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("%w: record id is required", domain.ErrInvalidInput)
	}
	doc, err := encodeRecord(record)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO diagnoses (
			id, user_id, final_diagnosis, status, urgency_level, overall_confidence,
			routing_required, is_archived, created_at, updated_at, document
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			final_diagnosis = EXCLUDED.final_diagnosis,
			status = EXCLUDED.status,
			urgency_level = EXCLUDED.urgency_level,
			overall_confidence = EXCLUDED.overall_confidence,
			routing_required = EXCLUDED.routing_required,
			is_archived = EXCLUDED.is_archived,
			updated_at = EXCLUDED.updated_at,
			document = EXCLUDED.document`

	result := record.Predictions.CombinedResult
	_, err = r.db.ExecContext(ctx, query,
		record.ID,
		record.UserID,
		result.FinalDiagnosis,
		string(record.Status),
		string(result.UrgencyLevel),
		result.OverallConfidence,
		record.SpecialistRouting.IsRoutingRequired,
		record.IsArchived,
		record.CreatedAt,
		record.UpdatedAt,
		doc,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"record_id": record.ID,
			"user_id":   record.UserID,
			"error":     err,
		}).Error("Failed to save diagnosis")
		return fmt.Errorf("saving diagnosis: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"record_id": record.ID,
		"diagnosis": result.FinalDiagnosis,
		"status":    record.Status,
	}).Debug("Diagnosis saved")
	return nil
}

// FindByID loads a single record
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*domain.CombinedDiagnosis, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound(id)
	}

	var doc []byte
	err := r.db.QueryRowContext(ctx, `SELECT document FROM diagnoses WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting diagnosis by ID: %w", err)
	}
	return decodeRecord(doc)
}

// FindByUser lists a user's unarchived records, newest first
func (r *PostgresRepository) FindByUser(ctx context.Context, userID string, query domain.HistoryQuery) ([]*domain.CombinedDiagnosis, error) {
	where, args := r.historyFilter(userID, query)
	args = append(args, query.Limit, query.Offset())

	sqlQuery := fmt.Sprintf(`
		SELECT document FROM diagnoses
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("listing diagnoses: %w", err)
	}
	defer rows.Close()

	records := make([]*domain.CombinedDiagnosis, 0, query.Limit)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning diagnosis: %w", err)
		}
		record, err := decodeRecord(doc)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating diagnoses: %w", err)
	}
	return records, nil
}

// CountByUser counts the records FindByUser would page through
func (r *PostgresRepository) CountByUser(ctx context.Context, userID string, query domain.HistoryQuery) (int, error) {
	where, args := r.historyFilter(userID, query)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM diagnoses WHERE "+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting diagnoses: %w", err)
	}
	return total, nil
}

func (r *PostgresRepository) historyFilter(userID string, query domain.HistoryQuery) (string, []any) {
	clauses := []string{"user_id = $1", "is_archived = FALSE"}
	args := []any{userID}

	if len(query.Statuses) > 0 {
		args = append(args, pq.Array(statusStrings(query.Statuses)))
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d::text[])", len(args)))
	}
	if strings.TrimSpace(query.Diagnosis) != "" {
		args = append(args, likePattern(query.Diagnosis))
		clauses = append(clauses, fmt.Sprintf(`final_diagnosis ILIKE $%d ESCAPE '\'`, len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

// Delete removes a record permanently
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return notFound(id)
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM diagnoses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting diagnosis: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deleted rows: %w", err)
	}
	if affected == 0 {
		return notFound(id)
	}

	r.log.WithField("record_id", id).Info("Diagnosis deleted")
	return nil
}

// SetArchived flags or unflags a record as archived
func (r *PostgresRepository) SetArchived(ctx context.Context, id string, archived bool) error {
	return r.mutate(ctx, id, func(record *domain.CombinedDiagnosis) {
		record.IsArchived = archived
	})
}

// UpdateFeedback attaches feedback to a record
func (r *PostgresRepository) UpdateFeedback(ctx context.Context, id string, feedback *domain.Feedback) error {
	return r.mutate(ctx, id, func(record *domain.CombinedDiagnosis) {
		record.Feedback = feedback
	})
}

// UpdateRouting replaces a record's specialist routing
func (r *PostgresRepository) UpdateRouting(ctx context.Context, id string, routing domain.SpecialistRouting) error {
	return r.mutate(ctx, id, func(record *domain.CombinedDiagnosis) {
		record.SpecialistRouting = routing
	})
}

// mutate applies fn to the stored document under a row lock and writes the
// document and its indexed columns back.
func (r *PostgresRepository) mutate(ctx context.Context, id string, fn func(*domain.CombinedDiagnosis)) error {
	if _, err := uuid.Parse(id); err != nil {
		return notFound(id)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var doc []byte
	err = tx.QueryRowContext(ctx, `SELECT document FROM diagnoses WHERE id = $1 FOR UPDATE`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(id)
	}
	if err != nil {
		return fmt.Errorf("locking diagnosis: %w", err)
	}

	record, err := decodeRecord(doc)
	if err != nil {
		return err
	}
	fn(record)
	record.UpdatedAt = r.now().UTC()

	if doc, err = encodeRecord(record); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE diagnoses
		SET routing_required = $2, is_archived = $3, updated_at = $4, document = $5
		WHERE id = $1`,
		id,
		record.SpecialistRouting.IsRoutingRequired,
		record.IsArchived,
		record.UpdatedAt,
		doc,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"record_id": id,
			"error":     err,
		}).Error("Failed to update diagnosis")
		return fmt.Errorf("updating diagnosis: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing diagnosis update: %w", err)
	}
	return nil
}

// DiagnosisStats groups a user's records since a point in time by final diagnosis
func (r *PostgresRepository) DiagnosisStats(ctx context.Context, userID string, since time.Time) ([]domain.DiagnosisStat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT final_diagnosis, COUNT(*), AVG(overall_confidence)
		FROM diagnoses
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY final_diagnosis
		ORDER BY COUNT(*) DESC, final_diagnosis`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("aggregating diagnoses: %w", err)
	}
	defer rows.Close()

	stats := []domain.DiagnosisStat{}
	for rows.Next() {
		var stat domain.DiagnosisStat
		if err := rows.Scan(&stat.Diagnosis, &stat.Count, &stat.AvgConfidence); err != nil {
			return nil, fmt.Errorf("scanning diagnosis stats: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating diagnosis stats: %w", err)
	}
	return stats, nil
}

// Close releases the database handle
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}
