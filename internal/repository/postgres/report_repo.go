package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

type ReportRepo struct {
	db *sql.DB
}

// NewReportRepo создает новый экземпляр репозитория
func NewReportRepo(connString string) *ReportRepo {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		// В main мы проверим соединение через Ping
		log.Fatal(err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &ReportRepo{db: db}
}

// Upsert фиксирует запись отчета по натуральному ключу (report_id, submitted_at).
// Повтор той же версии — no-op, откат версии невозможен: это делает ретраи
// стадии персистенции безопасными.
func (r *ReportRepo) Upsert(ctx context.Context, rc domain.ReportContext) error {
	payload, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("postgres: marshal report: %w", err)
	}

	query := `
		INSERT INTO reports (report_id, submitted_at, version, status, review_status, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (report_id, submitted_at) DO UPDATE
		SET version = EXCLUDED.version,
		    status = EXCLUDED.status,
		    review_status = EXCLUDED.review_status,
		    payload = EXCLUDED.payload,
		    updated_at = NOW()
		WHERE reports.version < EXCLUDED.version`

	_, err = r.db.ExecContext(ctx, query,
		rc.ReportID, rc.SubmittedAt, rc.Version, string(rc.Status), rc.ReviewStatus, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert report: %w", err)
	}
	return nil
}

// Get возвращает последнюю по submitted_at запись отчета
func (r *ReportRepo) Get(ctx context.Context, reportID string) (domain.ReportContext, error) {
	query := `
		SELECT payload FROM reports
		WHERE report_id = $1
		ORDER BY submitted_at DESC
		LIMIT 1`

	var payload []byte
	err := r.db.QueryRowContext(ctx, query, reportID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReportContext{}, fmt.Errorf("postgres: report %s not found", reportID)
	}
	if err != nil {
		return domain.ReportContext{}, fmt.Errorf("postgres: failed to get report: %w", err)
	}

	var rc domain.ReportContext
	if err := json.Unmarshal(payload, &rc); err != nil {
		return domain.ReportContext{}, fmt.Errorf("postgres: decode report: %w", err)
	}
	return rc, nil
}

// List отдает страницу отчетов, новые сначала. Курсор — submitted_at
// последнего элемента предыдущей страницы (keyset-пагинация).
func (r *ReportRepo) List(ctx context.Context, limit int, before time.Time) ([]domain.ReportContext, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if before.IsZero() {
		before = time.Now().UTC().Add(time.Hour)
	}

	query := `
		SELECT payload FROM reports
		WHERE submitted_at < $1
		ORDER BY submitted_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list reports: %w", err)
	}
	defer rows.Close()

	var out []domain.ReportContext
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan report row: %w", err)
		}
		var rc domain.ReportContext
		if err := json.Unmarshal(payload, &rc); err != nil {
			return nil, fmt.Errorf("postgres: decode report row: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// Ping проверяет доступность базы при старте
func (r *ReportRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
