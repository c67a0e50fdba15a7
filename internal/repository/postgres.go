// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/hive-onboarder/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RecentAccountsLimit — сколько последних аккаунтов хранится для каждого оператора.
const RecentAccountsLimit = 10

var (
	// ErrTokenNotFound возвращается, если у оператора нет сохранённого токена.
	ErrTokenNotFound = errors.New("token not found")
	// ErrPendingNotFound возвращается, если отложенная запись уже удалена.
	ErrPendingNotFound = errors.New("pending record not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// SaveToken сохраняет токен оператора, заменяя предыдущий.
func (r *PostgresRepository) SaveToken(ctx context.Context, session model.Session) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO session_tokens (account, token, role, updated_at) VALUES ($1, $2, $3, now())
			 ON CONFLICT (account) DO UPDATE SET token = EXCLUDED.token, role = EXCLUDED.role, updated_at = now()`,
			session.Account, session.Token, session.Role,
		)
		if err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		return nil
	})
}

// LoadToken возвращает сохранённую сессию оператора.
func (r *PostgresRepository) LoadToken(ctx context.Context, account string) (*model.Session, error) {
	var s model.Session
	err := r.pool.QueryRow(ctx,
		`SELECT account, token, role FROM session_tokens WHERE account = $1`,
		account,
	).Scan(&s.Account, &s.Token, &s.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("load token: %w", err)
	}
	return &s, nil
}

// DeleteToken удаляет токен оператора. Отсутствие токена ошибкой не считается.
func (r *PostgresRepository) DeleteToken(ctx context.Context, account string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM session_tokens WHERE account = $1`, account); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// TouchRecentAccount поднимает аккаунт в начало списка оператора и обрезает список до RecentAccountsLimit.
func (r *PostgresRepository) TouchRecentAccount(ctx context.Context, operator, account string) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO recent_accounts (operator, account, used_at) VALUES ($1, $2, clock_timestamp())
			 ON CONFLICT (operator, account) DO UPDATE SET used_at = clock_timestamp()`,
			operator, account,
		)
		if err != nil {
			return fmt.Errorf("upsert recent account: %w", err)
		}

		_, err = tx.Exec(ctx,
			`DELETE FROM recent_accounts
			 WHERE operator = $1 AND account NOT IN (
			     SELECT account FROM recent_accounts
			     WHERE operator = $1
			     ORDER BY used_at DESC
			     LIMIT $2
			 )`,
			operator, RecentAccountsLimit,
		)
		if err != nil {
			return fmt.Errorf("trim recent accounts: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// RecentAccounts возвращает последние аккаунты оператора, начиная с самого свежего.
func (r *PostgresRepository) RecentAccounts(ctx context.Context, operator string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT account FROM recent_accounts
		 WHERE operator = $1
		 ORDER BY used_at DESC
		 LIMIT $2`,
		operator, RecentAccountsLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("select recent accounts: %w", err)
	}

	accounts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect recent accounts: %w", err)
	}
	return accounts, nil
}

// EnqueuePending сохраняет запись, которую не удалось отправить в бэкенд.
// Повторная постановка той же пары обновляет данные и причину.
func (r *PostgresRepository) EnqueuePending(ctx context.Context, kind model.PendingKind, rec model.OnboardingRecord, cause string) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO pending_records (kind, onboarder, onboarded, amount, memo, comment_permlink, record_ts, last_error)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			string(kind), rec.Onboarder, rec.Onboarded, rec.Amount, rec.Memo, rec.CommentPermlink, rec.Timestamp, cause,
		)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
			return fmt.Errorf("insert pending record: %w", err)
		}

		_, err = r.pool.Exec(ctx,
			`UPDATE pending_records
			 SET amount = $4, memo = $5, comment_permlink = $6, record_ts = $7, last_error = $8
			 WHERE kind = $1 AND onboarder = $2 AND onboarded = $3`,
			string(kind), rec.Onboarder, rec.Onboarded, rec.Amount, rec.Memo, rec.CommentPermlink, rec.Timestamp, cause,
		)
		if err != nil {
			return fmt.Errorf("update pending record: %w", err)
		}
		return nil
	})
}

// PendingRecords возвращает отложенные записи в порядке постановки.
func (r *PostgresRepository) PendingRecords(ctx context.Context, limit int) ([]model.PendingRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, kind, onboarder, onboarded, amount, memo, comment_permlink, record_ts, attempts, last_error, created_at
		 FROM pending_records
		 ORDER BY id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending records: %w", err)
	}
	defer rows.Close()

	var res []model.PendingRecord
	for rows.Next() {
		var (
			p    model.PendingRecord
			kind string
		)
		if err := rows.Scan(
			&p.ID, &kind,
			&p.Record.Onboarder, &p.Record.Onboarded, &p.Record.Amount, &p.Record.Memo,
			&p.Record.CommentPermlink, &p.Record.Timestamp,
			&p.Attempts, &p.LastError, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending record: %w", err)
		}
		p.Kind = model.PendingKind(kind)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// DeletePending удаляет отложенную запись после успешной отправки.
func (r *PostgresRepository) DeletePending(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM pending_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pending record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPendingNotFound
	}
	return nil
}

// MarkPendingFailed увеличивает счётчик попыток и сохраняет причину ошибки.
func (r *PostgresRepository) MarkPendingFailed(ctx context.Context, id int64, cause string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE pending_records SET attempts = attempts + 1, last_error = $2 WHERE id = $1`,
		id, cause,
	)
	if err != nil {
		return fmt.Errorf("mark pending record: %w", err)
	}
	return nil
}
