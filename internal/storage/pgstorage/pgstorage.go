package pgstorage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/adwave/pointpay/internal/domain/balance"
	"github.com/adwave/pointpay/internal/domain/ledger"
	"github.com/adwave/pointpay/internal/domain/withdrawals"
	"github.com/adwave/pointpay/internal/storage"
	"github.com/adwave/pointpay/internal/storage/dbmodels"

	// Postgres driver.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

var _ storage.Storage = (*Storage)(nil)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Storage struct {
	db *sql.DB
}

type Config struct {
	maxOpenConns    int
	maxIdleConns    int
	connMaxIdleTime time.Duration
	connMaxLifetime time.Duration
}

type Option func(s *Config)

func WithMaxOpenConns(conns int) Option {
	return func(c *Config) {
		c.maxOpenConns = conns
	}
}

func WithMaxIdleConns(conns int) Option {
	return func(c *Config) {
		c.maxIdleConns = conns
	}
}

func WithConnMaxIdleTime(idleTime time.Duration) Option {
	return func(c *Config) {
		c.connMaxIdleTime = idleTime
	}
}

func WithConnMaxLifetime(lifetime time.Duration) Option {
	return func(c *Config) {
		c.connMaxLifetime = lifetime
	}
}

func NewStorage(connStr string, opts ...Option) (*Storage, error) {
	cfg := &Config{
		maxOpenConns:    10,
		maxIdleConns:    5,
		connMaxIdleTime: 180 * time.Second,
		connMaxLifetime: 3600 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	db.SetMaxOpenConns(cfg.maxOpenConns)
	db.SetMaxIdleConns(cfg.maxIdleConns)
	db.SetConnMaxIdleTime(cfg.connMaxIdleTime)
	db.SetConnMaxLifetime(cfg.connMaxLifetime)

	return &Storage{
		db: db,
	}, nil
}

// NewStorageWithDB wraps an existing database handle. Used by tests.
func NewStorageWithDB(db *sql.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Bootstrap(ctx context.Context) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, s.db, migrationsFS)
	if err != nil {
		return fmt.Errorf("goose.NewProvider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("provider.Up: %w", err)
	}

	return nil
}

func (s *Storage) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("db.Close: %w", err)
	}

	return nil
}

// isRetryableError checks if error is retryable.
func isRetryableError(err error) bool {
	// Connection refused error
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgerrcode.IsConnectionException(pgErr.Code) {
		return true
	}

	return false
}

// WithRetry retries operations in case of retryable errors.
func WithRetry(operation func() error) error {
	// Retry count
	retryCount := 3

	// Initial retry wait time
	var retryWaitTime time.Duration

	// Define the interval between retries
	retryWaitInterval := 2

	var err error

	for i := 0; i < retryCount; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if isRetryableError(err) {
			retryWaitTime = time.Duration((i*retryWaitInterval + 1)) * time.Second // 1s, 3s, 5s, etc.

			time.Sleep(retryWaitTime)
		} else {
			return fmt.Errorf("%w", err)
		}
	}

	return fmt.Errorf("retry attempts exceeded: %w", err)
}

func (s *Storage) Ping(ctx context.Context) error {
	err := WithRetry(func() error {
		if err := s.db.PingContext(ctx); err != nil {
			return fmt.Errorf("db.PingContext: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return nil
}

func (s *Storage) RecordEarn(ctx context.Context, userID string, amount int64, description string) (*ledger.Entry, error) {
	entry, err := ledger.NewEarned(userID, amount, description)
	if err != nil {
		return nil, err
	}

	err = WithRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("db.BeginTx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		// Balance row is created on the first earn event.
		upsertQuery := `INSERT INTO user_balance (user_id, current_balance, total_earned, updated_at)` +
			` VALUES ($1, $2, $2, now())` +
			` ON CONFLICT (user_id) DO UPDATE SET` +
			` current_balance = user_balance.current_balance + $2,` +
			` total_earned = user_balance.total_earned + $2,` +
			` updated_at = now()`

		if _, err := tx.ExecContext(ctx, upsertQuery, userID, amount); err != nil {
			return fmt.Errorf("tx.ExecContext: %w", err)
		}

		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("tx.Commit: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, entry *ledger.Entry) error {
	query := `INSERT INTO ledger_entries (id, user_id, amount, kind, status, description, created_at)` +
		` VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := tx.ExecContext(ctx, query,
		entry.ID(), entry.UserID(), entry.Amount(),
		string(entry.Kind()), string(entry.Status()), entry.Description(), entry.CreatedAt(),
	); err != nil {
		return fmt.Errorf("tx.ExecContext: %w", err)
	}

	return nil
}

// createHoldInTx performs the atomic check-and-decrement: the balance row
// is locked for the duration of the transaction, so two concurrent holds
// cannot both observe a balance that only covers one of them.
func createHoldInTx(ctx context.Context, tx *sql.Tx, userID string, amount int64, description string) (*ledger.Entry, error) {
	entry, err := ledger.NewHold(userID, amount, description)
	if err != nil {
		return nil, err
	}

	var current int64

	row := tx.QueryRowContext(ctx,
		`SELECT current_balance FROM user_balance WHERE user_id = $1 FOR UPDATE`, userID)

	if err := row.Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrBalanceNotFound
		}

		return nil, fmt.Errorf("tx.QueryRowContext: %w", err)
	}

	if current < amount {
		return nil, &balance.InsufficientError{Shortfall: amount - current}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE user_balance SET current_balance = current_balance - $1, updated_at = now() WHERE user_id = $2`,
		amount, userID,
	); err != nil {
		return nil, fmt.Errorf("tx.ExecContext: %w", err)
	}

	if err := insertEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	return entry, nil
}

func (s *Storage) CreateHold(ctx context.Context, userID string, amount int64, description string) (*ledger.Entry, error) {
	var entry *ledger.Entry

	err := WithRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("db.BeginTx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		entry, err = createHoldInTx(ctx, tx, userID, amount, description)
		if err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("tx.Commit: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// settleHoldInTx finalizes a pending hold: completed commits the amount to
// total_withdrawn, cancelled re-credits the current balance.
func settleHoldInTx(ctx context.Context, tx *sql.Tx, entryID string, outcome ledger.Status) error {
	dbEntry := new(dbmodels.LedgerEntry)

	row := tx.QueryRowContext(ctx,
		`SELECT id, user_id, amount, kind, status FROM ledger_entries WHERE id = $1 FOR UPDATE`, entryID)

	if err := row.Scan(&dbEntry.ID, &dbEntry.UserID, &dbEntry.Amount, &dbEntry.Kind, &dbEntry.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrEntryNotFound
		}

		return fmt.Errorf("tx.QueryRowContext: %w", err)
	}

	if dbEntry.Status != string(ledger.StatusPending) {
		return storage.ErrEntryAlreadySettled
	}

	if outcome != ledger.StatusCompleted && outcome != ledger.StatusCancelled {
		return ledger.ErrInvalidOutcome
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE ledger_entries SET status = $1 WHERE id = $2`, string(outcome), entryID,
	); err != nil {
		return fmt.Errorf("tx.ExecContext: %w", err)
	}

	held := -dbEntry.Amount

	balanceQuery := `UPDATE user_balance SET total_withdrawn = total_withdrawn + $1, updated_at = now() WHERE user_id = $2`
	if outcome == ledger.StatusCancelled {
		balanceQuery = `UPDATE user_balance SET current_balance = current_balance + $1, updated_at = now() WHERE user_id = $2`
	}

	if _, err := tx.ExecContext(ctx, balanceQuery, held, dbEntry.UserID); err != nil {
		return fmt.Errorf("tx.ExecContext: %w", err)
	}

	return nil
}

func (s *Storage) SettleHold(ctx context.Context, entryID string, outcome ledger.Status) error {
	err := WithRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("db.BeginTx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		if err := settleHoldInTx(ctx, tx, entryID, outcome); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("tx.Commit: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return nil
}

func (s *Storage) GetBalance(ctx context.Context, userID string) (*balance.Balance, error) {
	dbBalance := new(dbmodels.UserBalance)

	err := WithRetry(func() error {
		query := `SELECT user_id, current_balance, total_earned, total_withdrawn, updated_at` +
			` FROM user_balance WHERE user_id = $1`

		row := s.db.QueryRowContext(ctx, query, userID)

		if err := row.Scan(
			&dbBalance.UserID, &dbBalance.CurrentBalance, &dbBalance.TotalEarned,
			&dbBalance.TotalWithdrawn, &dbBalance.UpdatedAt,
		); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrBalanceNotFound
			}

			return fmt.Errorf("db.QueryRowContext: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return balance.Restore(
		dbBalance.UserID, dbBalance.CurrentBalance, dbBalance.TotalEarned,
		dbBalance.TotalWithdrawn, dbBalance.UpdatedAt,
	), nil
}

func (s *Storage) Entries(ctx context.Context, userID string) ([]*ledger.Entry, error) {
	dbEntries := make([]*dbmodels.LedgerEntry, 0)

	err := WithRetry(func() error {
		query := `SELECT id, user_id, amount, kind, status, description, created_at` +
			` FROM ledger_entries WHERE user_id = $1 ORDER BY created_at DESC`

		rows, err := s.db.QueryContext(ctx, query, userID)
		if err != nil {
			return fmt.Errorf("db.QueryContext: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			dbEntry := new(dbmodels.LedgerEntry)

			if err := rows.Scan(
				&dbEntry.ID, &dbEntry.UserID, &dbEntry.Amount,
				&dbEntry.Kind, &dbEntry.Status, &dbEntry.Description, &dbEntry.CreatedAt,
			); err != nil {
				return fmt.Errorf("rows.Scan: %w", err)
			}

			dbEntries = append(dbEntries, dbEntry)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	entries := make([]*ledger.Entry, 0, len(dbEntries))

	for _, dbEntry := range dbEntries {
		entry, err := ledger.Restore(
			dbEntry.ID, dbEntry.UserID, dbEntry.Amount,
			dbEntry.Kind, dbEntry.Status, dbEntry.Description, dbEntry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ledger.Restore: %w", err)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

const requestColumns = `id, user_id, ledger_entry_id, requested_amount, transfer_fee, tax_amount, net_amount,` +
	` total_required, breakdown_source, bank_name, bank_code, account_number, account_holder, description,` +
	` status, transfer_id, failure_reason, processed_by, processed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*dbmodels.WithdrawalRequest, error) {
	dbReq := new(dbmodels.WithdrawalRequest)

	if err := row.Scan(
		&dbReq.ID, &dbReq.UserID, &dbReq.LedgerEntryID, &dbReq.RequestedAmount,
		&dbReq.TransferFee, &dbReq.TaxAmount, &dbReq.NetAmount, &dbReq.TotalRequired,
		&dbReq.BreakdownSource, &dbReq.BankName, &dbReq.BankCode, &dbReq.AccountNumber,
		&dbReq.AccountHolder, &dbReq.Description, &dbReq.Status, &dbReq.TransferID,
		&dbReq.FailureReason, &dbReq.ProcessedBy, &dbReq.ProcessedAt, &dbReq.CreatedAt, &dbReq.UpdatedAt,
	); err != nil {
		return nil, err
	}

	return dbReq, nil
}

func restoreRequest(dbReq *dbmodels.WithdrawalRequest) (*withdrawals.Request, error) {
	source, err := withdrawals.ParseSource(dbReq.BreakdownSource)
	if err != nil {
		return nil, err
	}

	var processedAt *time.Time
	if dbReq.ProcessedAt.Valid {
		at := dbReq.ProcessedAt.Time
		processedAt = &at
	}

	req, err := withdrawals.Restore(
		dbReq.ID, dbReq.UserID, dbReq.RequestedAmount,
		withdrawals.Breakdown{
			TransferFee:   dbReq.TransferFee,
			TaxAmount:     dbReq.TaxAmount,
			FinalAmount:   dbReq.NetAmount,
			TotalRequired: dbReq.TotalRequired,
			Source:        source,
		},
		withdrawals.BankInfo{
			BankName:      dbReq.BankName,
			BankCode:      dbReq.BankCode,
			AccountNumber: dbReq.AccountNumber,
			AccountHolder: dbReq.AccountHolder,
		},
		dbReq.Description, dbReq.LedgerEntryID, dbReq.Status, dbReq.TransferID,
		dbReq.FailureReason, dbReq.ProcessedBy, processedAt, dbReq.CreatedAt, dbReq.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("withdrawals.Restore: %w", err)
	}

	return req, nil
}

func (s *Storage) CreateWithdrawal(ctx context.Context, req *withdrawals.Request) error {
	err := WithRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("db.BeginTx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		// Hold creation and request persistence are one atomic step.
		entry, err := createHoldInTx(ctx, tx, req.UserID(), req.Amount(), "withdrawal "+req.ID())
		if err != nil {
			return err
		}

		req.SetLedgerEntryID(entry.ID())

		breakdown := req.Breakdown()
		bank := req.Bank()

		query := `INSERT INTO withdrawal_requests (` + requestColumns + `)` +
			` VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

		if _, err := tx.ExecContext(ctx, query,
			req.ID(), req.UserID(), req.LedgerEntryID(), req.Amount(),
			breakdown.TransferFee, breakdown.TaxAmount, breakdown.FinalAmount, breakdown.TotalRequired,
			string(breakdown.Source), bank.BankName, bank.BankCode, bank.AccountNumber,
			bank.AccountHolder, req.Description(), string(req.Status()), req.TransferID(),
			req.FailureReason(), req.ProcessedBy(), req.ProcessedAt(), req.CreatedAt(), req.UpdatedAt(),
		); err != nil {
			return fmt.Errorf("tx.ExecContext: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("tx.Commit: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return nil
}

func (s *Storage) GetWithdrawal(ctx context.Context, id string) (*withdrawals.Request, error) {
	var dbReq *dbmodels.WithdrawalRequest

	err := WithRetry(func() error {
		query := `SELECT ` + requestColumns + ` FROM withdrawal_requests WHERE id = $1`

		var err error

		dbReq, err = scanRequest(s.db.QueryRowContext(ctx, query, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrWithdrawalNotFound
			}

			return fmt.Errorf("db.QueryRowContext: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return restoreRequest(dbReq)
}

func (s *Storage) ListWithdrawals(ctx context.Context, filter storage.ListFilter) ([]*withdrawals.Request, int, error) {
	filter = filter.Normalize()

	statuses := make([]string, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}

	var total int

	dbReqs := make([]*dbmodels.WithdrawalRequest, 0)

	err := WithRetry(func() error {
		countQuery := `SELECT count(*) FROM withdrawal_requests`
		query := `SELECT ` + requestColumns + ` FROM withdrawal_requests`

		if len(statuses) > 0 {
			countQuery += ` WHERE status = ANY($1)`
			query += ` WHERE status = ANY($1)`
		}

		query += ` ORDER BY created_at DESC`

		countArgs := []any{}
		args := []any{}

		if len(statuses) > 0 {
			countArgs = append(countArgs, pq.Array(statuses))
			args = append(args, pq.Array(statuses))
		}

		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
		args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)

		if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
			return fmt.Errorf("db.QueryRowContext: %w", err)
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("db.QueryContext: %w", err)
		}
		defer rows.Close()

		dbReqs = dbReqs[:0]

		for rows.Next() {
			dbReq, err := scanRequest(rows)
			if err != nil {
				return fmt.Errorf("rows.Scan: %w", err)
			}

			dbReqs = append(dbReqs, dbReq)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}

	reqs := make([]*withdrawals.Request, 0, len(dbReqs))

	for _, dbReq := range dbReqs {
		req, err := restoreRequest(dbReq)
		if err != nil {
			return nil, 0, err
		}

		reqs = append(reqs, req)
	}

	return reqs, total, nil
}

func (s *Storage) MarkProcessing(ctx context.Context, id, adminID string) (*withdrawals.Request, error) {
	err := WithRetry(func() error {
		// Compare-and-swap on status guards against two concurrent approvals
		// both triggering a transfer.
		query := `UPDATE withdrawal_requests SET status = $1, processed_by = $2, updated_at = now()` +
			` WHERE id = $3 AND status = $4`

		res, err := s.db.ExecContext(ctx, query,
			string(withdrawals.StatusProcessing), adminID, id, string(withdrawals.StatusPending))
		if err != nil {
			return fmt.Errorf("db.ExecContext: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("res.RowsAffected: %w", err)
		}

		if affected == 0 {
			var exists bool

			row := s.db.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM withdrawal_requests WHERE id = $1)`, id)

			if err := row.Scan(&exists); err != nil {
				return fmt.Errorf("db.QueryRowContext: %w", err)
			}

			if !exists {
				return storage.ErrWithdrawalNotFound
			}

			return storage.ErrDuplicateProcessing
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetWithdrawal(ctx, id)
}

func (s *Storage) FinalizeWithdrawal(ctx context.Context, req *withdrawals.Request) error {
	expectedFrom := withdrawals.StatusProcessing
	outcome := ledger.StatusCancelled

	switch req.Status() {
	case withdrawals.StatusCompleted:
		outcome = ledger.StatusCompleted
	case withdrawals.StatusFailed:
	case withdrawals.StatusRejected:
		expectedFrom = withdrawals.StatusPending
	default:
		return storage.ErrDuplicateProcessing
	}

	err := WithRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("db.BeginTx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		breakdown := req.Breakdown()

		query := `UPDATE withdrawal_requests SET` +
			` status = $1, transfer_fee = $2, tax_amount = $3, net_amount = $4, total_required = $5,` +
			` breakdown_source = $6, transfer_id = $7, failure_reason = $8, processed_by = $9,` +
			` processed_at = $10, updated_at = now()` +
			` WHERE id = $11 AND status = $12`

		res, err := tx.ExecContext(ctx, query,
			string(req.Status()), breakdown.TransferFee, breakdown.TaxAmount, breakdown.FinalAmount,
			breakdown.TotalRequired, string(breakdown.Source), req.TransferID(), req.FailureReason(),
			req.ProcessedBy(), req.ProcessedAt(), req.ID(), string(expectedFrom),
		)
		if err != nil {
			return fmt.Errorf("tx.ExecContext: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("res.RowsAffected: %w", err)
		}

		if affected == 0 {
			return storage.ErrDuplicateProcessing
		}

		if err := settleHoldInTx(ctx, tx, req.LedgerEntryID(), outcome); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("tx.Commit: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return nil
}
