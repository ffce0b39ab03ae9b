package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/medpraxis/admin-api/internal/model"
	"github.com/medpraxis/admin-api/internal/repository"
	apperrors "github.com/medpraxis/admin-api/pkg/errors"
)

const accountColumns = `
	id, kind, name, email, password_hash, active, created_at, updated_at,
	specialty, phone, address,
	subscription_start, subscription_end,
	has_lab_account, pharmacy_account_id, lab_account_id,
	pharmacy_account_active, lab_account_active,
	doctor_id, access_code
`

type accountRepository struct {
	BaseRepository
}

func NewAccountRepository(base BaseRepository) repository.AccountRepository {
	return &accountRepository{base}
}

func (r *accountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		return insertAccount(ctx, tx, account)
	})
}

func insertAccount(ctx context.Context, tx *sqlx.Tx, account *model.Account) error {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES (
			:id, :kind, :name, :email, :password_hash, :active, :created_at, :updated_at,
			:specialty, :phone, :address,
			:subscription_start, :subscription_end,
			:has_lab_account, :pharmacy_account_id, :lab_account_id,
			:pharmacy_account_active, :lab_account_active,
			:doctor_id, :access_code
		)
	`
	_, err := tx.NamedExecContext(ctx, query, account)
	return err
}

func (r *accountRepository) Get(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	var account model.Account
	err := r.db.GetContext(ctx, &account, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("account", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) Update(ctx context.Context, account *model.Account) error {
	query := `
		UPDATE accounts SET
			name = :name,
			email = :email,
			password_hash = :password_hash,
			active = :active,
			updated_at = :updated_at,
			specialty = :specialty,
			phone = :phone,
			address = :address,
			subscription_start = :subscription_start,
			subscription_end = :subscription_end,
			has_lab_account = :has_lab_account,
			pharmacy_account_id = :pharmacy_account_id,
			lab_account_id = :lab_account_id,
			pharmacy_account_active = :pharmacy_account_active,
			lab_account_active = :lab_account_active,
			access_code = :access_code
		WHERE id = :id
	`
	account.UpdatedAt = time.Now()

	result, err := r.db.NamedExecContext(ctx, query, account)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("account", nil)
	}

	return nil
}

func (r *accountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("account", nil)
	}

	return nil
}

func (r *accountRepository) List(ctx context.Context, kind model.AccountKind) ([]*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE kind = $1 ORDER BY created_at DESC`

	var accounts []*model.Account
	if err := r.db.SelectContext(ctx, &accounts, query, kind); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

func (r *accountRepository) CreateFamily(ctx context.Context, accounts []*model.Account, event *model.OutboxEvent) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, account := range accounts {
			if err := insertAccount(ctx, tx, account); err != nil {
				return fmt.Errorf("failed to create %s account: %w", account.Kind, err)
			}
		}
		if event != nil {
			if err := insertOutboxEvent(ctx, tx, event); err != nil {
				return fmt.Errorf("failed to enqueue event: %w", err)
			}
		}
		return nil
	})
}

func (r *accountRepository) LinkLabAccount(ctx context.Context, lab, doctor *model.Account) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertAccount(ctx, tx, lab); err != nil {
			return fmt.Errorf("failed to create laboratory account: %w", err)
		}

		doctor.UpdatedAt = time.Now()
		query := `
			UPDATE accounts SET
				has_lab_account = :has_lab_account,
				lab_account_id = :lab_account_id,
				lab_account_active = :lab_account_active,
				updated_at = :updated_at
			WHERE id = :id
		`
		result, err := tx.NamedExecContext(ctx, query, doctor)
		if err != nil {
			return fmt.Errorf("failed to link laboratory account: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return apperrors.NotFound("doctor", nil)
		}
		return nil
	})
}

func (r *accountRepository) AccessCodeExists(ctx context.Context, code string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM accounts WHERE access_code = $1`, code)
	if err != nil {
		return false, fmt.Errorf("failed to check access code: %w", err)
	}
	return count > 0, nil
}

func (r *accountRepository) CountByKind(ctx context.Context) ([]repository.KindCount, error) {
	var counts []repository.KindCount
	err := r.db.SelectContext(ctx, &counts, `
		SELECT kind, active, COUNT(*) AS count
		FROM accounts
		GROUP BY kind, active
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count accounts: %w", err)
	}
	return counts, nil
}
