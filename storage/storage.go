package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tabpay/loyalty"
	"tabpay/merchants"
	"tabpay/settlement"
	"tabpay/tier"
)

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("storage: path must be configured")
	// ErrProfileNotFound indicates no loyalty profile exists for the account.
	ErrProfileNotFound = errors.New("storage: profile not found")
)

const schema = `
CREATE TABLE IF NOT EXISTS merchants (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    status        TEXT NOT NULL,
    busy_minimum  TEXT NOT NULL,
    accepts_token INTEGER NOT NULL,
    opens_at      INTEGER NOT NULL,
    closes_at     INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS profiles (
    account     TEXT PRIMARY KEY,
    tier        TEXT NOT NULL,
    spend_total TEXT NOT NULL,
    tx_count    INTEGER NOT NULL,
    streak_days INTEGER NOT NULL,
    joined_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS rewards (
    id          TEXT PRIMARY KEY,
    type        TEXT NOT NULL,
    recipient   TEXT NOT NULL,
    amount      TEXT NOT NULL,
    tx_amount   TEXT NOT NULL,
    rate_bps    INTEGER NOT NULL,
    tier        TEXT NOT NULL,
    description TEXT NOT NULL,
    status      TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS rewards_recipient ON rewards(recipient);
`

// Store persists merchants, loyalty profiles, and reward line items.
type Store struct {
	db *sql.DB
}

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertMerchant stores or replaces a merchant-state record.
func (s *Store) UpsertMerchant(ctx context.Context, record merchants.Constraints) error {
	normalized := record.Normalize()
	if err := normalized.Validate(); err != nil {
		return err
	}
	accepts := 0
	if normalized.AcceptsToken {
		accepts = 1
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO merchants(id, name, status, busy_minimum, accepts_token, opens_at, closes_at, updated_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            status = excluded.status,
            busy_minimum = excluded.busy_minimum,
            accepts_token = excluded.accepts_token,
            opens_at = excluded.opens_at,
            closes_at = excluded.closes_at,
            updated_at = excluded.updated_at
    `, normalized.ID, normalized.Name, string(normalized.Status), normalized.BusyMinimum.String(),
		accepts, normalized.OpensAtUTC, normalized.ClosesAtUTC, normalized.UpdatedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("upsert merchant: %w", err)
	}
	return nil
}

// GetMerchant loads the merchant-state record for the supplied id.
func (s *Store) GetMerchant(ctx context.Context, id string) (merchants.Constraints, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, name, status, busy_minimum, accepts_token, opens_at, closes_at, updated_at
        FROM merchants WHERE id = ?
    `, strings.TrimSpace(id))
	var (
		record    merchants.Constraints
		status    string
		busyMin   string
		accepts   int
		updatedAt int64
	)
	err := row.Scan(&record.ID, &record.Name, &status, &busyMin, &accepts,
		&record.OpensAtUTC, &record.ClosesAtUTC, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return merchants.Constraints{}, merchants.ErrNotFound
	}
	if err != nil {
		return merchants.Constraints{}, fmt.Errorf("load merchant: %w", err)
	}
	record.Status = merchants.Status(status)
	record.BusyMinimum, err = parseStored(busyMin)
	if err != nil {
		return merchants.Constraints{}, fmt.Errorf("load merchant: %w", err)
	}
	record.AcceptsToken = accepts != 0
	record.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return record, nil
}

// GetProfile loads the loyalty profile for the supplied account.
func (s *Store) GetProfile(ctx context.Context, account string) (loyalty.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT account, tier, spend_total, tx_count, streak_days, joined_at
        FROM profiles WHERE account = ?
    `, strings.TrimSpace(account))
	var (
		profile  loyalty.Profile
		tierName string
		spend    string
		joinedAt int64
	)
	err := row.Scan(&profile.Account, &tierName, &spend, &profile.TxCount, &profile.StreakDays, &joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return loyalty.Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return loyalty.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	parsed, ok := tier.Parse(tierName)
	if !ok {
		return loyalty.Profile{}, fmt.Errorf("load profile: unknown tier %q", tierName)
	}
	profile.Tier = parsed
	profile.SpendTotal, err = parseStored(spend)
	if err != nil {
		return loyalty.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	profile.JoinedAt = time.Unix(joinedAt, 0).UTC()
	return profile, nil
}

// SaveProfile stores or replaces the loyalty profile.
func (s *Store) SaveProfile(ctx context.Context, profile loyalty.Profile) error {
	normalized := profile.Normalize()
	if err := normalized.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO profiles(account, tier, spend_total, tx_count, streak_days, joined_at)
        VALUES(?, ?, ?, ?, ?, ?)
        ON CONFLICT(account) DO UPDATE SET
            tier = excluded.tier,
            spend_total = excluded.spend_total,
            tx_count = excluded.tx_count,
            streak_days = excluded.streak_days,
            joined_at = excluded.joined_at
    `, normalized.Account, normalized.Tier.String(), normalized.SpendTotal.String(),
		normalized.TxCount, normalized.StreakDays, normalized.JoinedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// InsertRewards records the settled line items.
func (s *Store) InsertRewards(ctx context.Context, items []settlement.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rewards tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO rewards(id, type, recipient, amount, tx_amount, rate_bps, tier, description, status, created_at)
            VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        `, item.ID, string(item.Type), item.Recipient, item.Amount.String(), item.TxAmount.String(),
			item.RateBps, item.Tier.String(), item.Description, string(item.Status), item.CreatedAt.UTC().Unix())
		if err != nil {
			return fmt.Errorf("insert reward %s: %w", item.ID, err)
		}
	}
	return tx.Commit()
}

// RewardTotals is the aggregate view over an account's recorded line items.
// Only rewards attributed to the account are counted, so merchant cashback
// and referral rewards never inflate a payer's totals.
type RewardTotals struct {
	Account     string
	TotalEarned *big.Int
	CountByType map[settlement.RewardType]uint64
}

// Totals aggregates the recorded rewards for the supplied account.
func (s *Store) Totals(ctx context.Context, account string) (RewardTotals, error) {
	totals := RewardTotals{
		Account:     strings.TrimSpace(account),
		TotalEarned: big.NewInt(0),
		CountByType: make(map[settlement.RewardType]uint64),
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT type, amount FROM rewards WHERE recipient = ? ORDER BY created_at
    `, totals.Account)
	if err != nil {
		return totals, fmt.Errorf("query rewards: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind   string
			amount string
		)
		if err := rows.Scan(&kind, &amount); err != nil {
			return totals, fmt.Errorf("scan reward: %w", err)
		}
		rewardType, err := settlement.ParseRewardType(kind)
		if err != nil {
			return totals, err
		}
		value, err := parseStored(amount)
		if err != nil {
			return totals, fmt.Errorf("scan reward: %w", err)
		}
		totals.TotalEarned.Add(totals.TotalEarned, value)
		totals.CountByType[rewardType]++
	}
	return totals, rows.Err()
}

func parseStored(value string) (*big.Int, error) {
	parsed, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid stored amount %q", value)
	}
	return parsed, nil
}
