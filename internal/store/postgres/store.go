// Package postgres implements the card and credit summary repositories on
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/fincore/creditcheck-go/cards"
	"github.com/fincore/creditcheck-go/creditlimit"
)

const uniqueViolation = "23505"

// Schema is the subset of the banking schema the card flow touches
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id     BIGSERIAL PRIMARY KEY,
	salary BIGINT
);

CREATE TABLE IF NOT EXISTS accounts (
	id      BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS cards (
	id              BIGSERIAL PRIMARY KEY,
	account_id      BIGINT NOT NULL REFERENCES accounts(id),
	card_type       VARCHAR(16) NOT NULL,
	card_number     VARCHAR(19) NOT NULL UNIQUE,
	expiry          VARCHAR(7) NOT NULL,
	cvv_last_digits VARCHAR(2),
	active          BOOLEAN NOT NULL,
	balance         BIGINT
);
`

const creditSummaryQuery = `
	SELECT COALESCE(u.salary, 0) AS salary,
	       COALESCE(SUM(c.balance), 0) AS existing_credit_card_balances
	FROM users u
	LEFT JOIN accounts a ON a.user_id = u.id
	LEFT JOIN cards c ON c.account_id = a.id AND c.card_type = 'CREDIT'
	WHERE u.id = $1
	GROUP BY u.id, u.salary
`

const findAccountQuery = `SELECT id, user_id FROM accounts WHERE id = $1`

const insertCreditCardQuery = `
	INSERT INTO cards (account_id, card_type, card_number, expiry, cvv_last_digits, active, balance)
	VALUES (:account_id, 'CREDIT', :card_number, :expiry, :cvv_last_digits, :active, :balance)
	RETURNING id
`

// Store serves creditlimit.SummaryStore, cards.AccountRepository and
// cards.CardRepository from one connection pool
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn with the pq driver
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return New(db), nil
}

// New wraps an existing pool
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate creates missing tables
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreditSummary returns the user's salary and the sum of their credit card
// balances
func (s *Store) CreditSummary(ctx context.Context, userID int64) (creditlimit.CreditSummary, error) {
	var summary creditlimit.CreditSummary
	err := s.db.GetContext(ctx, &summary, creditSummaryQuery, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return summary, fmt.Errorf("%w: %d", creditlimit.ErrUserNotFound, userID)
	}
	if err != nil {
		return summary, fmt.Errorf("failed to load credit summary for user %d: %w", userID, err)
	}
	return summary, nil
}

// FindAccount loads an account by id
func (s *Store) FindAccount(ctx context.Context, accountID int64) (cards.Account, error) {
	var account cards.Account
	err := s.db.GetContext(ctx, &account, findAccountQuery, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return account, fmt.Errorf("%w: %d", cards.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return account, fmt.Errorf("failed to load account %d: %w", accountID, err)
	}
	return account, nil
}

// SaveCreditCard inserts card and sets its ID
func (s *Store) SaveCreditCard(ctx context.Context, card *cards.CreditCard) error {
	query, args, err := s.db.BindNamed(insertCreditCardQuery, card)
	if err != nil {
		return fmt.Errorf("failed to bind credit card insert: %w", err)
	}

	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&card.ID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return cards.ErrDuplicateCardNumber
		}
		return fmt.Errorf("failed to insert credit card: %w", err)
	}
	return nil
}

// PingContext checks the pool can reach the database
func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool
func (s *Store) Close() error {
	return s.db.Close()
}
