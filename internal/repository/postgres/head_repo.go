package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/ledger"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// HeadRepo хранит голову цепочки леджера в единственной строке.
// Условный UPDATE по наблюденному хэшу дает атомарный compare-and-swap:
// из двух конкурентных писателей продвинется ровно один.
type HeadRepo struct {
	db *sql.DB
}

func NewHeadRepo(connString string) *HeadRepo {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		// В main мы проверим соединение через Ping
		log.Fatal(err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &HeadRepo{db: db}
}

// Init гарантирует наличие строки головы. Пустой леджер засевается генезисом,
// чтобы первая CAS-попытка билдера совпала с содержимым строки.
func (r *HeadRepo) Init(ctx context.Context) error {
	query := `
		INSERT INTO ledger_head (id, head_hash, head_sequence, updated_at)
		VALUES (1, $1, 0, NOW())
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, ledger.GenesisHash)
	if err != nil {
		return fmt.Errorf("postgres: failed to init ledger head: %w", err)
	}
	return nil
}

func (r *HeadRepo) Load(ctx context.Context) (ledger.HeadState, error) {
	query := `SELECT head_hash, head_sequence FROM ledger_head WHERE id = 1`

	var state ledger.HeadState
	err := r.db.QueryRowContext(ctx, query).Scan(&state.Hash, &state.Sequence)
	if err == sql.ErrNoRows {
		return ledger.HeadState{Hash: ledger.GenesisHash, Sequence: 0}, nil
	}
	if err != nil {
		return ledger.HeadState{}, fmt.Errorf("postgres: failed to load ledger head: %w", err)
	}
	// Строка, засеянная пустым хэшем, эквивалентна генезису
	if state.Hash == "" {
		state.Hash = ledger.GenesisHash
	}
	return state, nil
}

// CompareAndSwap продвигает голову, только если она все еще равна наблюденной.
// Ноль затронутых строк означает, что голову успел сдвинуть кто-то другой.
// Пустой хэш в строке при sequence 0 считается равным генезису.
func (r *HeadRepo) CompareAndSwap(ctx context.Context, observed, next ledger.HeadState) error {
	query := `
		UPDATE ledger_head
		SET head_hash = $1, head_sequence = $2, updated_at = NOW()
		WHERE id = 1 AND head_sequence = $4
		  AND (head_hash = $3 OR (head_hash = '' AND $3 = $5))`

	result, err := r.db.ExecContext(ctx, query,
		next.Hash, next.Sequence, observed.Hash, observed.Sequence, ledger.GenesisHash)
	if err != nil {
		return fmt.Errorf("postgres: failed to advance ledger head: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrHeadConflict
	}
	return nil
}

// Ping проверяет доступность базы при старте
func (r *HeadRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
