package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/campaign-views/internal/model"
	"github.com/sells-group/campaign-views/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. Money is stored as
// integer micro-cents and timestamps as UTC RFC 3339 text with milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serializes writers; transactions below must only
	// use their tx handle.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS campaigns (
	id                     TEXT PRIMARY KEY,
	title                  TEXT NOT NULL DEFAULT '',
	type                   TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'DRAFT',
	cost_per_hundred_views INTEGER,
	view_cap               INTEGER,
	current_views          INTEGER NOT NULL DEFAULT 0,
	tracking_url           TEXT NOT NULL DEFAULT '',
	created_at             TEXT NOT NULL,
	updated_at             TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS promoter_campaigns (
	promoter_id         TEXT NOT NULL,
	campaign_id         TEXT NOT NULL REFERENCES campaigns(id),
	status              TEXT NOT NULL DEFAULT 'ONGOING',
	views_generated     INTEGER NOT NULL DEFAULT 0,
	earnings_micros     INTEGER NOT NULL DEFAULT 0,
	budget_held_micros  INTEGER NOT NULL DEFAULT 0,
	spent_budget_micros INTEGER NOT NULL DEFAULT 0,
	joined_at           TEXT NOT NULL,
	updated_at          TEXT NOT NULL,
	PRIMARY KEY (promoter_id, campaign_id)
);

CREATE INDEX IF NOT EXISTS idx_promoter_campaigns_campaign_status ON promoter_campaigns(campaign_id, status);

CREATE TABLE IF NOT EXISTS campaign_budget_tracking (
	campaign_id          TEXT PRIMARY KEY REFERENCES campaigns(id),
	spent_budget_micros  INTEGER NOT NULL DEFAULT 0,
	platform_fees_micros INTEGER NOT NULL DEFAULT 0,
	updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS promoter_stats (
	promoter_id                    TEXT PRIMARY KEY,
	total_views_generated          INTEGER NOT NULL DEFAULT 0,
	total_campaigns_completed      INTEGER NOT NULL DEFAULT 0,
	visibility_campaigns_completed INTEGER NOT NULL DEFAULT 0,
	consultant_campaigns_completed INTEGER NOT NULL DEFAULT 0,
	seller_campaigns_completed     INTEGER NOT NULL DEFAULT 0,
	salesman_campaigns_completed   INTEGER NOT NULL DEFAULT 0,
	updated_at                     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS unique_views (
	id             TEXT PRIMARY KEY,
	campaign_id    TEXT NOT NULL,
	promoter_id    TEXT NOT NULL,
	fingerprint    TEXT NOT NULL,
	source_address TEXT NOT NULL DEFAULT '',
	user_agent     TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	UNIQUE (campaign_id, promoter_id, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_unique_views_campaign_created ON unique_views(campaign_id, created_at);
CREATE INDEX IF NOT EXISTS idx_unique_views_created ON unique_views(created_at);

CREATE TABLE IF NOT EXISTS campaign_earnings (
	id                           TEXT PRIMARY KEY,
	promoter_id                  TEXT NOT NULL,
	campaign_id                  TEXT NOT NULL,
	views_generated              INTEGER NOT NULL,
	cost_per_hundred_views_cents INTEGER NOT NULL,
	gross_earnings_cents         INTEGER NOT NULL,
	platform_fee_cents           INTEGER NOT NULL,
	net_earnings_cents           INTEGER NOT NULL,
	qualifies_for_payout         INTEGER NOT NULL DEFAULT 0,
	payout_executed              INTEGER NOT NULL DEFAULT 0,
	payout_amount_cents          INTEGER,
	payout_date                  TEXT,
	payout_reference             TEXT,
	calculated_at                TEXT NOT NULL,
	updated_at                   TEXT NOT NULL,
	UNIQUE (promoter_id, campaign_id)
);

CREATE INDEX IF NOT EXISTS idx_campaign_earnings_eligible ON campaign_earnings(qualifies_for_payout, payout_executed);

CREATE TABLE IF NOT EXISTS accounting_failures (
	id          TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL,
	promoter_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL DEFAULT '',
	stage       TEXT NOT NULL,
	error       TEXT NOT NULL,
	error_type  TEXT NOT NULL DEFAULT 'permanent',
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounting_failures_created ON accounting_failures(created_at);
`

// sqliteNow is the SQL expression matching sqliteTimeLayout.
const sqliteNow = `strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`

const sqliteTimeLayout = "2006-01-02T15:04:05.000Z"

func sqliteTime(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

func sqliteTimeArg(t time.Time) any { return sqliteTime(t) }

func sqlitePlaceholder(int) string { return "?" }

func parseSQLiteTime(v string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, v)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse time %q", v)
	}
	return t, nil
}

func toMicros(d decimal.Decimal) int64 { return d.Shift(6).IntPart() }

func fromMicros(v int64) decimal.Decimal { return decimal.New(v, -6) }

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction, committing on nil.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// --- Campaigns and assignments ---

func (s *SQLiteStore) GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	var (
		c                model.Campaign
		typ, status      string
		cpv, viewCap     sql.NullInt64
		created, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`,
		campaignID,
	).Scan(&c.ID, &c.Title, &typ, &status, &cpv, &viewCap, &c.CurrentViews, &c.TrackingURL, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get campaign %s", campaignID)
	}
	c.Type = model.CampaignType(typ)
	c.Status = model.CampaignStatus(status)
	if cpv.Valid {
		c.CostPerHundredViews = &cpv.Int64
	}
	if viewCap.Valid {
		c.ViewCap = &viewCap.Int64
	}
	if c.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, eris.Wrap(err, "sqlite: get campaign")
	}
	if c.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return nil, eris.Wrap(err, "sqlite: get campaign")
	}
	return &c, nil
}

func (s *SQLiteStore) SaveCampaign(ctx context.Context, c *model.Campaign) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (`+campaignColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			type = excluded.type,
			status = excluded.status,
			cost_per_hundred_views = excluded.cost_per_hundred_views,
			view_cap = excluded.view_cap,
			current_views = excluded.current_views,
			tracking_url = excluded.tracking_url,
			updated_at = excluded.updated_at`,
		c.ID, c.Title, string(c.Type), string(c.Status), c.CostPerHundredViews, c.ViewCap,
		c.CurrentViews, c.TrackingURL, sqliteTime(c.CreatedAt), sqliteTime(c.UpdatedAt),
	)
	return eris.Wrapf(err, "sqlite: save campaign %s", c.ID)
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, promoterID, campaignID string) (*model.Assignment, error) {
	var (
		a                     model.Assignment
		status                string
		earnings, held, spent int64
		joined, updated       string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT promoter_id, campaign_id, status, views_generated,
			earnings_micros, budget_held_micros, spent_budget_micros, joined_at, updated_at
		 FROM promoter_campaigns WHERE promoter_id = ? AND campaign_id = ?`,
		promoterID, campaignID,
	).Scan(&a.PromoterID, &a.CampaignID, &status, &a.ViewsGenerated, &earnings, &held, &spent, &joined, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get assignment %s/%s", campaignID, promoterID)
	}
	a.Status = model.AssignmentStatus(status)
	a.Earnings = fromMicros(earnings)
	a.BudgetHeld = fromMicros(held)
	a.SpentBudget = fromMicros(spent)
	if a.JoinedAt, err = parseSQLiteTime(joined); err != nil {
		return nil, eris.Wrap(err, "sqlite: get assignment")
	}
	if a.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return nil, eris.Wrap(err, "sqlite: get assignment")
	}
	return &a, nil
}

func (s *SQLiteStore) SaveAssignment(ctx context.Context, a *model.Assignment) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if a.JoinedAt.IsZero() {
		a.JoinedAt = now
	}
	a.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO promoter_campaigns (promoter_id, campaign_id, status, views_generated,
			earnings_micros, budget_held_micros, spent_budget_micros, joined_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (promoter_id, campaign_id) DO UPDATE SET
			status = excluded.status,
			views_generated = excluded.views_generated,
			earnings_micros = excluded.earnings_micros,
			budget_held_micros = excluded.budget_held_micros,
			spent_budget_micros = excluded.spent_budget_micros,
			updated_at = excluded.updated_at`,
		a.PromoterID, a.CampaignID, string(a.Status), a.ViewsGenerated,
		toMicros(a.Earnings), toMicros(a.BudgetHeld), toMicros(a.SpentBudget),
		sqliteTime(a.JoinedAt), sqliteTime(a.UpdatedAt),
	)
	return eris.Wrapf(err, "sqlite: save assignment %s/%s", a.CampaignID, a.PromoterID)
}

func (s *SQLiteStore) GetBudgetTracking(ctx context.Context, campaignID string) (*model.BudgetTracking, error) {
	var (
		b           model.BudgetTracking
		spent, fees int64
		updated     string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT campaign_id, spent_budget_micros, platform_fees_micros, updated_at
		 FROM campaign_budget_tracking WHERE campaign_id = ?`,
		campaignID,
	).Scan(&b.CampaignID, &spent, &fees, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get budget tracking %s", campaignID)
	}
	b.SpentBudgetCents = fromMicros(spent)
	b.PlatformFeesCollectedCents = fromMicros(fees)
	if b.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return nil, eris.Wrap(err, "sqlite: get budget tracking")
	}
	return &b, nil
}

func (s *SQLiteStore) GetPromoterStats(ctx context.Context, promoterID string) (*model.PromoterStats, error) {
	var (
		p       model.PromoterStats
		updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+promoterStatsColumns+` FROM promoter_stats WHERE promoter_id = ?`,
		promoterID,
	).Scan(&p.PromoterID, &p.TotalViewsGenerated, &p.TotalCampaignsCompleted,
		&p.VisibilityCampaignsCompleted, &p.ConsultantCampaignsCompleted,
		&p.SellerCampaignsCompleted, &p.SalesmanCampaignsCompleted, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get promoter stats %s", promoterID)
	}
	if p.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return nil, eris.Wrap(err, "sqlite: get promoter stats")
	}
	return &p, nil
}

// --- View ledger ---

func (s *SQLiteStore) InsertUniqueView(ctx context.Context, v *model.UniqueView) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unique_views (id, campaign_id, promoter_id, fingerprint, source_address, user_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.CampaignID, v.PromoterID, v.Fingerprint, v.SourceAddress, v.UserAgent, sqliteTime(v.CreatedAt),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return ErrDuplicateView
		}
		return eris.Wrapf(err, "sqlite: insert unique view %s/%s", v.CampaignID, v.PromoterID)
	}
	return nil
}

func (s *SQLiteStore) CountUniqueViews(ctx context.Context, f ViewFilter) (int64, error) {
	where, args := viewConditions(f, sqlitePlaceholder, sqliteTimeArg)
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM unique_views`+where, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count unique views")
	}
	return n, nil
}

func (s *SQLiteStore) DailyUniqueViews(ctx context.Context, f ViewFilter) ([]model.DailyViewCount, error) {
	where, args := viewConditions(f, sqlitePlaceholder, sqliteTimeArg)
	rows, err := s.db.QueryContext(ctx,
		`SELECT substr(created_at, 1, 10) AS day, COUNT(*)
		 FROM unique_views`+where+`
		 GROUP BY day ORDER BY day`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: daily unique views")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DailyViewCount
	for rows.Next() {
		var d model.DailyViewCount
		if err := rows.Scan(&d.Date, &d.Views); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan daily unique views")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate daily unique views")
}

// --- Accounting and completion ---

func (s *SQLiteStore) ApplyViewAccounting(ctx context.Context, inc model.ViewIncrement) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE campaigns SET current_views = current_views + 1, updated_at = `+sqliteNow+`
			 WHERE id = ? AND status = 'ACTIVE'`,
			inc.CampaignID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: increment campaign views %s", inc.CampaignID)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrInactive
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE promoter_campaigns
			 SET views_generated = views_generated + 1, earnings_micros = earnings_micros + ?, updated_at = `+sqliteNow+`
			 WHERE promoter_id = ? AND campaign_id = ? AND status = 'ONGOING'`,
			toMicros(inc.Earning), inc.PromoterID, inc.CampaignID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: increment assignment %s/%s", inc.CampaignID, inc.PromoterID)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrInactive
		}

		if !inc.Billable {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO campaign_budget_tracking (campaign_id, spent_budget_micros, platform_fees_micros, updated_at)
			 VALUES (?, ?, ?, `+sqliteNow+`)
			 ON CONFLICT (campaign_id) DO UPDATE SET
				spent_budget_micros = spent_budget_micros + excluded.spent_budget_micros,
				platform_fees_micros = platform_fees_micros + excluded.platform_fees_micros,
				updated_at = excluded.updated_at`,
			inc.CampaignID, toMicros(inc.Earning), toMicros(inc.PlatformFee),
		); err != nil {
			return eris.Wrapf(err, "sqlite: increment budget tracking %s", inc.CampaignID)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO promoter_stats (promoter_id, total_views_generated, updated_at)
			 VALUES (?, 1, `+sqliteNow+`)
			 ON CONFLICT (promoter_id) DO UPDATE SET
				total_views_generated = total_views_generated + 1,
				updated_at = excluded.updated_at`,
			inc.PromoterID,
		); err != nil {
			return eris.Wrapf(err, "sqlite: increment promoter stats %s", inc.PromoterID)
		}
		return nil
	})
}

func (s *SQLiteStore) CompleteCampaign(ctx context.Context, campaignID string) (*CompletionResult, error) {
	res := &CompletionResult{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var typ string
		err := tx.QueryRowContext(ctx,
			`UPDATE campaigns SET status = 'ENDED', updated_at = `+sqliteNow+`
			 WHERE id = ? AND status <> 'ENDED'
			 RETURNING type`,
			campaignID,
		).Scan(&typ)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return eris.Wrapf(err, "sqlite: end campaign %s", campaignID)
		}
		res.Ended = true
		res.CampaignType = model.CampaignType(typ)

		col, err := completionColumn(res.CampaignType)
		if err != nil {
			return eris.Wrapf(err, "sqlite: end campaign %s", campaignID)
		}

		rows, err := tx.QueryContext(ctx,
			`UPDATE promoter_campaigns SET status = 'COMPLETED', updated_at = `+sqliteNow+`
			 WHERE campaign_id = ? AND status = 'ONGOING'
			 RETURNING promoter_id`,
			campaignID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: complete assignments %s", campaignID)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close() //nolint:errcheck
				return eris.Wrap(err, "sqlite: scan completed promoter")
			}
			res.PromoterIDs = append(res.PromoterIDs, id)
		}
		if err := rows.Close(); err != nil {
			return eris.Wrapf(err, "sqlite: complete assignments %s", campaignID)
		}
		if err := rows.Err(); err != nil {
			return eris.Wrapf(err, "sqlite: complete assignments %s", campaignID)
		}

		q := fmt.Sprintf(
			`INSERT INTO promoter_stats (promoter_id, total_campaigns_completed, %[1]s, updated_at)
			 VALUES (?, 1, 1, ?)
			 ON CONFLICT (promoter_id) DO UPDATE SET
				total_campaigns_completed = total_campaigns_completed + 1,
				%[1]s = %[1]s + 1,
				updated_at = excluded.updated_at`, col)
		now := sqliteTime(time.Now())
		for _, id := range res.PromoterIDs {
			if _, err := tx.ExecContext(ctx, q, id, now); err != nil {
				return eris.Wrapf(err, "sqlite: increment completions %s", id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// --- Earnings ---

func (s *SQLiteStore) ListReconciliationInputs(ctx context.Context, includeEnded bool) ([]model.ReconciliationInput, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uv.promoter_id, uv.campaign_id, COUNT(*) AS view_count, c.cost_per_hundred_views
		 FROM unique_views uv
		 JOIN campaigns c ON c.id = uv.campaign_id
		 WHERE c.type = 'VISIBILITY'
			AND c.cost_per_hundred_views IS NOT NULL
			AND (c.status = 'ACTIVE' OR (? AND c.status = 'ENDED'))
		 GROUP BY uv.promoter_id, uv.campaign_id, c.cost_per_hundred_views
		 ORDER BY uv.campaign_id, uv.promoter_id`,
		includeEnded,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reconciliation inputs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ReconciliationInput
	for rows.Next() {
		var in model.ReconciliationInput
		if err := rows.Scan(&in.PromoterID, &in.CampaignID, &in.ViewCount, &in.CostPerHundredViews); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan reconciliation input")
		}
		out = append(out, in)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate reconciliation inputs")
}

func (s *SQLiteStore) UpsertEarningsRecord(ctx context.Context, rec *model.EarningsRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO campaign_earnings (id, promoter_id, campaign_id, views_generated,
			cost_per_hundred_views_cents, gross_earnings_cents, platform_fee_cents,
			net_earnings_cents, qualifies_for_payout, calculated_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (promoter_id, campaign_id) DO UPDATE SET
			views_generated = excluded.views_generated,
			cost_per_hundred_views_cents = excluded.cost_per_hundred_views_cents,
			gross_earnings_cents = excluded.gross_earnings_cents,
			platform_fee_cents = excluded.platform_fee_cents,
			net_earnings_cents = excluded.net_earnings_cents,
			qualifies_for_payout = excluded.qualifies_for_payout,
			calculated_at = excluded.calculated_at,
			updated_at = excluded.updated_at
		 WHERE views_generated <> excluded.views_generated
			OR cost_per_hundred_views_cents <> excluded.cost_per_hundred_views_cents
			OR gross_earnings_cents <> excluded.gross_earnings_cents
			OR platform_fee_cents <> excluded.platform_fee_cents
			OR net_earnings_cents <> excluded.net_earnings_cents
			OR qualifies_for_payout <> excluded.qualifies_for_payout`,
		rec.ID, rec.PromoterID, rec.CampaignID, rec.ViewsGenerated,
		rec.CostPerHundredViewsCents, rec.GrossEarningsCents, rec.PlatformFeeCents,
		rec.NetEarningsCents, rec.QualifiesForPayout, sqliteTime(rec.CalculatedAt), sqliteTime(rec.UpdatedAt),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: upsert earnings %s/%s", rec.CampaignID, rec.PromoterID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteEarnings(row scannable) (*model.EarningsRecord, error) {
	var (
		r                   model.EarningsRecord
		amount              sql.NullInt64
		payoutDate, ref     sql.NullString
		calculated, updated string
	)
	err := row.Scan(&r.ID, &r.PromoterID, &r.CampaignID, &r.ViewsGenerated, &r.CostPerHundredViewsCents,
		&r.GrossEarningsCents, &r.PlatformFeeCents, &r.NetEarningsCents, &r.QualifiesForPayout,
		&r.PayoutExecuted, &amount, &payoutDate, &ref, &calculated, &updated)
	if err != nil {
		return nil, err
	}
	if amount.Valid {
		r.PayoutAmountCents = &amount.Int64
	}
	if ref.Valid {
		r.PayoutReference = &ref.String
	}
	if payoutDate.Valid {
		t, err := parseSQLiteTime(payoutDate.String)
		if err != nil {
			return nil, err
		}
		r.PayoutDate = &t
	}
	if r.CalculatedAt, err = parseSQLiteTime(calculated); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) GetEarningsRecord(ctx context.Context, id string) (*model.EarningsRecord, error) {
	r, err := scanSQLiteEarnings(s.db.QueryRowContext(ctx,
		`SELECT `+earningsColumns+` FROM campaign_earnings WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get earnings record %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListEligiblePayouts(ctx context.Context) ([]model.EarningsRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+earningsColumns+` FROM campaign_earnings
		 WHERE qualifies_for_payout = 1 AND payout_executed = 0
		 ORDER BY calculated_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list eligible payouts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.EarningsRecord
	for rows.Next() {
		r, err := scanSQLiteEarnings(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan earnings record")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate eligible payouts")
}

func (s *SQLiteStore) MarkPayoutExecuted(ctx context.Context, id string, p model.Payout) (*model.EarningsRecord, error) {
	r, err := scanSQLiteEarnings(s.db.QueryRowContext(ctx,
		`UPDATE campaign_earnings SET
			payout_executed = 1,
			payout_amount_cents = ?,
			payout_date = ?,
			payout_reference = ?,
			updated_at = `+sqliteNow+`
		 WHERE id = ? AND payout_executed = 0
		 RETURNING `+earningsColumns,
		p.AmountCents, sqliteTime(p.ExecutedAt), p.Reference, id,
	))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(err, "sqlite: mark payout %s", id)
	}

	var executed bool
	err = s.db.QueryRowContext(ctx, `SELECT payout_executed FROM campaign_earnings WHERE id = ?`, id).Scan(&executed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: mark payout %s", id)
	}
	return nil, ErrPayoutAlreadyExecuted
}

// --- Accounting failures ---

func (s *SQLiteStore) RecordAccountingFailure(ctx context.Context, f resilience.AccountingFailure) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounting_failures (id, campaign_id, promoter_id, fingerprint, stage, error, error_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.CampaignID, f.PromoterID, f.Fingerprint, f.Stage, f.Error, f.ErrorType, sqliteTime(f.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: record accounting failure %s", f.ID)
}

func (s *SQLiteStore) ListAccountingFailures(ctx context.Context, filter resilience.FailureFilter) ([]resilience.AccountingFailure, error) {
	q := `SELECT id, campaign_id, promoter_id, fingerprint, stage, error, error_type, created_at
		FROM accounting_failures WHERE 1=1`
	var args []any
	if filter.CampaignID != "" {
		q += " AND campaign_id = ?"
		args = append(args, filter.CampaignID)
	}
	if filter.Stage != "" {
		q += " AND stage = ?"
		args = append(args, filter.Stage)
	}
	if filter.ErrorType != "" {
		q += " AND error_type = ?"
		args = append(args, filter.ErrorType)
	}
	q += " ORDER BY created_at LIMIT ?"
	args = append(args, failureLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list accounting failures")
	}
	defer rows.Close() //nolint:errcheck

	var out []resilience.AccountingFailure
	for rows.Next() {
		var (
			f       resilience.AccountingFailure
			created string
		)
		if err := rows.Scan(&f.ID, &f.CampaignID, &f.PromoterID, &f.Fingerprint,
			&f.Stage, &f.Error, &f.ErrorType, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan accounting failure")
		}
		if f.CreatedAt, err = parseSQLiteTime(created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan accounting failure")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate accounting failures")
}

func (s *SQLiteStore) ResolveAccountingFailure(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounting_failures WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve accounting failure %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CountAccountingFailures(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounting_failures`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count accounting failures")
	}
	return n, nil
}
