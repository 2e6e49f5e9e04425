// Package postgres implements store.Store on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bourse/internal/store"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) CreateGame(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO games (registration_open)
		VALUES (true)
		RETURNING id
	`).Scan(&id)
	return id, err
}

func (s *Store) Game(ctx context.Context, id int64) (store.GameRecord, error) {
	var rec store.GameRecord
	var startDay, endDay *time.Time
	err := s.db.QueryRow(ctx, `
		SELECT id, COALESCE(join_key, ''), name, config_link, timezone,
		       start_day, end_day, open_time, close_time,
		       market_open, registration_open,
		       start_price, start_cash, max_percentage,
		       sell_factor, buy_factor, extra_cash,
		       admin_contact, chart_link
		FROM games
		WHERE id = $1
	`, id).Scan(
		&rec.ID, &rec.JoinKey, &rec.Name, &rec.ConfigLink, &rec.Timezone,
		&startDay, &endDay, &rec.OpenTime, &rec.CloseTime,
		&rec.MarketOpen, &rec.RegistrationOpen,
		&rec.StartPrice, &rec.StartCash, &rec.MaxPercentage,
		&rec.SellFactor, &rec.BuyFactor, &rec.ExtraCash,
		&rec.AdminContact, &rec.ChartLink,
	)
	if err != nil {
		return store.GameRecord{}, mapErr(err)
	}
	if startDay != nil {
		rec.StartDay = store.Day(*startDay)
	}
	if endDay != nil {
		rec.EndDay = store.Day(*endDay)
	}
	return rec, nil
}

func (s *Store) GameIDs(ctx context.Context) ([]int64, error) {
	return s.idList(ctx, `SELECT id FROM games ORDER BY id`)
}

func (s *Store) GameIDByJoinKey(ctx context.Context, key string) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `SELECT id FROM games WHERE join_key = $1`, key).Scan(&id)
	if err != nil {
		return 0, mapErr(err)
	}
	return id, nil
}

func (s *Store) UpdateGame(ctx context.Context, rec store.GameRecord) error {
	cmd, err := s.db.Exec(ctx, `
		UPDATE games
		SET join_key = NULLIF($2, ''), name = $3, config_link = $4, timezone = $5,
		    start_day = $6, end_day = $7, open_time = $8, close_time = $9,
		    market_open = $10, registration_open = $11,
		    start_price = $12, start_cash = $13, max_percentage = $14,
		    sell_factor = $15, buy_factor = $16, extra_cash = $17,
		    admin_contact = $18, chart_link = $19,
		    updated_at = now()
		WHERE id = $1
	`, rec.ID, rec.JoinKey, rec.Name, rec.ConfigLink, rec.Timezone,
		dayOrNil(rec.StartDay), dayOrNil(rec.EndDay), rec.OpenTime, rec.CloseTime,
		rec.MarketOpen, rec.RegistrationOpen,
		rec.StartPrice, rec.StartCash, rec.MaxPercentage,
		rec.SellFactor, rec.BuyFactor, rec.ExtraCash,
		rec.AdminContact, rec.ChartLink)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateCompany(ctx context.Context, rec store.CompanyRecord) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO companies (game_id, name, ticker, price, effect)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, rec.GameID, rec.Name, rec.Ticker, rec.Price, rec.Effect).Scan(&id)
	return id, mapErr(err)
}

func (s *Store) Company(ctx context.Context, id int64) (store.CompanyRecord, error) {
	var rec store.CompanyRecord
	err := s.db.QueryRow(ctx, `
		SELECT id, game_id, name, ticker, price, effect
		FROM companies
		WHERE id = $1
	`, id).Scan(&rec.ID, &rec.GameID, &rec.Name, &rec.Ticker, &rec.Price, &rec.Effect)
	if err != nil {
		return store.CompanyRecord{}, mapErr(err)
	}
	return rec, nil
}

func (s *Store) CompanyIDs(ctx context.Context, gameID int64) ([]int64, error) {
	return s.idList(ctx, `SELECT id FROM companies WHERE game_id = $1 ORDER BY id`, gameID)
}

func (s *Store) UpdateCompany(ctx context.Context, rec store.CompanyRecord) error {
	cmd, err := s.db.Exec(ctx, `
		UPDATE companies
		SET name = $2, ticker = $3, price = $4, effect = $5, updated_at = now()
		WHERE id = $1
	`, rec.ID, rec.Name, rec.Ticker, rec.Price, rec.Effect)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateGameUser(ctx context.Context, rec store.GameUserRecord) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO game_users (identity_id, game_id, first_name, last_name, nickname, cash, is_active)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		RETURNING id
	`, rec.IdentityID, rec.GameID, rec.FirstName, rec.LastName, rec.Nickname, rec.Cash, rec.Active).Scan(&id)
	return id, mapErr(err)
}

func (s *Store) GameUser(ctx context.Context, id int64) (store.GameUserRecord, error) {
	var rec store.GameUserRecord
	err := s.db.QueryRow(ctx, `
		SELECT id, identity_id, game_id, first_name, last_name, COALESCE(nickname, ''), cash, is_active
		FROM game_users
		WHERE id = $1
	`, id).Scan(&rec.ID, &rec.IdentityID, &rec.GameID, &rec.FirstName, &rec.LastName, &rec.Nickname, &rec.Cash, &rec.Active)
	if err != nil {
		return store.GameUserRecord{}, mapErr(err)
	}
	return rec, nil
}

func (s *Store) GameUserIDs(ctx context.Context, gameID int64) ([]int64, error) {
	return s.idList(ctx, `SELECT id FROM game_users WHERE game_id = $1 ORDER BY id`, gameID)
}

func (s *Store) GameUserIDByIdentity(ctx context.Context, identityID, gameID int64) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		SELECT id FROM game_users WHERE identity_id = $1 AND game_id = $2
	`, identityID, gameID).Scan(&id)
	if err != nil {
		return 0, mapErr(err)
	}
	return id, nil
}

func (s *Store) ActiveGameUserID(ctx context.Context, identityID int64) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		SELECT id FROM game_users WHERE identity_id = $1 AND is_active
	`, identityID).Scan(&id)
	if err != nil {
		return 0, mapErr(err)
	}
	return id, nil
}

func (s *Store) UpdateGameUser(ctx context.Context, rec store.GameUserRecord) error {
	cmd, err := s.db.Exec(ctx, `
		UPDATE game_users
		SET first_name = $2, last_name = $3, nickname = NULLIF($4, ''),
		    cash = $5, is_active = $6, updated_at = now()
		WHERE id = $1
	`, rec.ID, rec.FirstName, rec.LastName, rec.Nickname, rec.Cash, rec.Active)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ActivateGameUser(ctx context.Context, id int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var identityID int64
	if err := tx.QueryRow(ctx, `SELECT identity_id FROM game_users WHERE id = $1`, id).Scan(&identityID); err != nil {
		return mapErr(err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE game_users SET is_active = false, updated_at = now()
		WHERE identity_id = $1 AND is_active AND id <> $2
	`, identityID, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE game_users SET is_active = true, updated_at = now()
		WHERE id = $1
	`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) NicknameTaken(ctx context.Context, nickname string) (bool, error) {
	var taken bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM game_users WHERE nickname = $1)
	`, nickname).Scan(&taken)
	return taken, err
}

func (s *Store) CreateShare(ctx context.Context, companyID, ownerID int64) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO shares (company_id, owner_game_user_id)
		VALUES ($1, $2)
		RETURNING id
	`, companyID, ownerID).Scan(&id)
	return id, mapErr(err)
}

func (s *Store) Share(ctx context.Context, id int64) (store.ShareRecord, error) {
	var rec store.ShareRecord
	err := s.db.QueryRow(ctx, `
		SELECT id, company_id, owner_game_user_id
		FROM shares
		WHERE id = $1
	`, id).Scan(&rec.ID, &rec.CompanyID, &rec.OwnerID)
	if err != nil {
		return store.ShareRecord{}, mapErr(err)
	}
	return rec, nil
}

func (s *Store) ShareIDs(ctx context.Context, ownerID, companyID int64) ([]int64, error) {
	if companyID != 0 {
		return s.idList(ctx, `
			SELECT id FROM shares
			WHERE owner_game_user_id = $1 AND company_id = $2
			ORDER BY id
		`, ownerID, companyID)
	}
	return s.idList(ctx, `
		SELECT id FROM shares WHERE owner_game_user_id = $1 ORDER BY id
	`, ownerID)
}

func (s *Store) DeleteShare(ctx context.Context, id int64) error {
	cmd, err := s.db.Exec(ctx, `DELETE FROM shares WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AppendTransaction(ctx context.Context, rec store.TransactionRecord) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO transactions (day, actor_game_user_id, type, company_id, quantity)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, store.Day(rec.Day), rec.ActorID, string(rec.Type), rec.CompanyID, rec.Quantity).Scan(&id)
	return id, err
}

func (s *Store) SharesTraded(ctx context.Context, companyID int64, day time.Time, deal store.DealType) (int, error) {
	var total int
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM transactions
		WHERE company_id = $1 AND day = $2 AND type = $3
	`, companyID, store.Day(day), string(deal)).Scan(&total)
	return total, err
}

func (s *Store) AppendCompanyHistory(ctx context.Context, companyID int64, day time.Time, price float64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO company_history (company_id, day, price)
		VALUES ($1, $2, $3)
	`, companyID, store.Day(day), price)
	return err
}

func (s *Store) UpsertIdentity(ctx context.Context, id int64, displayName string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO identities (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE identities.display_name END
	`, id, displayName)
	return err
}

func (s *Store) Identity(ctx context.Context, id int64) (store.IdentityRecord, error) {
	var rec store.IdentityRecord
	err := s.db.QueryRow(ctx, `
		SELECT id, display_name, is_superadmin, is_blocked
		FROM identities
		WHERE id = $1
	`, id).Scan(&rec.ID, &rec.DisplayName, &rec.Superadmin, &rec.Blocked)
	if err != nil {
		return store.IdentityRecord{}, mapErr(err)
	}
	return rec, nil
}

func (s *Store) SetSuperadmin(ctx context.Context, id int64, v bool) error {
	return s.setIdentityFlag(ctx, id, `is_superadmin`, v)
}

func (s *Store) SetBlocked(ctx context.Context, id int64, v bool) error {
	return s.setIdentityFlag(ctx, id, `is_blocked`, v)
}

func (s *Store) setIdentityFlag(ctx context.Context, id int64, column string, v bool) error {
	cmd, err := s.db.Exec(ctx, `UPDATE identities SET `+column+` = $2 WHERE id = $1`, id, v)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SuperadminIDs(ctx context.Context) ([]int64, error) {
	return s.idList(ctx, `SELECT id FROM identities WHERE is_superadmin ORDER BY id`)
}

func (s *Store) idList(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func dayOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	d := store.Day(t)
	return &d
}

const uniqueViolation = "23505"

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch {
		case strings.Contains(pgErr.ConstraintName, "nickname"):
			return store.ErrDuplicateNickname
		case strings.Contains(pgErr.ConstraintName, "join_key"):
			return store.ErrDuplicateJoinKey
		}
	}
	return err
}
