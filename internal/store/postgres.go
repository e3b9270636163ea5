package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/campaign-views/internal/db"
	"github.com/sells-group/campaign-views/internal/model"
	"github.com/sells-group/campaign-views/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// One short transaction per confirmed view on the redirect path.
	maxConns := int32(20)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS campaigns (
	id                     TEXT PRIMARY KEY,
	title                  TEXT NOT NULL DEFAULT '',
	type                   TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'DRAFT',
	cost_per_hundred_views BIGINT,
	view_cap               BIGINT,
	current_views          BIGINT NOT NULL DEFAULT 0,
	tracking_url           TEXT NOT NULL DEFAULT '',
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS promoter_campaigns (
	promoter_id     TEXT NOT NULL,
	campaign_id     TEXT NOT NULL REFERENCES campaigns(id),
	status          TEXT NOT NULL DEFAULT 'ONGOING',
	views_generated BIGINT NOT NULL DEFAULT 0,
	earnings        NUMERIC(20,6) NOT NULL DEFAULT 0,
	budget_held     NUMERIC(20,6) NOT NULL DEFAULT 0,
	spent_budget    NUMERIC(20,6) NOT NULL DEFAULT 0,
	joined_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (promoter_id, campaign_id)
);

CREATE INDEX IF NOT EXISTS idx_promoter_campaigns_campaign_status ON promoter_campaigns(campaign_id, status);

CREATE TABLE IF NOT EXISTS campaign_budget_tracking (
	campaign_id                   TEXT PRIMARY KEY REFERENCES campaigns(id),
	spent_budget_cents            NUMERIC(20,6) NOT NULL DEFAULT 0,
	platform_fees_collected_cents NUMERIC(20,6) NOT NULL DEFAULT 0,
	updated_at                    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS promoter_stats (
	promoter_id                    TEXT PRIMARY KEY,
	total_views_generated          BIGINT NOT NULL DEFAULT 0,
	total_campaigns_completed      BIGINT NOT NULL DEFAULT 0,
	visibility_campaigns_completed BIGINT NOT NULL DEFAULT 0,
	consultant_campaigns_completed BIGINT NOT NULL DEFAULT 0,
	seller_campaigns_completed     BIGINT NOT NULL DEFAULT 0,
	salesman_campaigns_completed   BIGINT NOT NULL DEFAULT 0,
	updated_at                     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS unique_views (
	id             TEXT PRIMARY KEY,
	campaign_id    TEXT NOT NULL,
	promoter_id    TEXT NOT NULL,
	fingerprint    TEXT NOT NULL,
	source_address TEXT NOT NULL DEFAULT '',
	user_agent     TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT uq_unique_views_triple UNIQUE (campaign_id, promoter_id, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_unique_views_campaign_created ON unique_views(campaign_id, created_at);
CREATE INDEX IF NOT EXISTS idx_unique_views_created ON unique_views(created_at);

CREATE TABLE IF NOT EXISTS campaign_earnings (
	id                           TEXT PRIMARY KEY,
	promoter_id                  TEXT NOT NULL,
	campaign_id                  TEXT NOT NULL,
	views_generated              BIGINT NOT NULL,
	cost_per_hundred_views_cents BIGINT NOT NULL,
	gross_earnings_cents         BIGINT NOT NULL,
	platform_fee_cents           BIGINT NOT NULL,
	net_earnings_cents           BIGINT NOT NULL,
	qualifies_for_payout         BOOLEAN NOT NULL DEFAULT false,
	payout_executed              BOOLEAN NOT NULL DEFAULT false,
	payout_amount_cents          BIGINT,
	payout_date                  TIMESTAMPTZ,
	payout_reference             TEXT,
	calculated_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                   TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT uq_campaign_earnings_pair UNIQUE (promoter_id, campaign_id)
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
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_accounting_failures_campaign ON accounting_failures(campaign_id);
CREATE INDEX IF NOT EXISTS idx_accounting_failures_created ON accounting_failures(created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func pgPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

func pgTime(t time.Time) any { return t.UTC() }

func parseDecimal(field, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "parse %s", field)
	}
	return d, nil
}

// --- Campaigns and assignments ---

const campaignColumns = `id, title, type, status, cost_per_hundred_views, view_cap, current_views, tracking_url, created_at, updated_at`

func (s *PostgresStore) GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	var (
		c      model.Campaign
		typ    string
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`,
		campaignID,
	).Scan(&c.ID, &c.Title, &typ, &status, &c.CostPerHundredViews, &c.ViewCap,
		&c.CurrentViews, &c.TrackingURL, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get campaign %s", campaignID)
	}
	c.Type = model.CampaignType(typ)
	c.Status = model.CampaignStatus(status)
	return &c, nil
}

func (s *PostgresStore) SaveCampaign(ctx context.Context, c *model.Campaign) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO campaigns (`+campaignColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			cost_per_hundred_views = EXCLUDED.cost_per_hundred_views,
			view_cap = EXCLUDED.view_cap,
			current_views = EXCLUDED.current_views,
			tracking_url = EXCLUDED.tracking_url,
			updated_at = EXCLUDED.updated_at`,
		c.ID, c.Title, string(c.Type), string(c.Status), c.CostPerHundredViews, c.ViewCap,
		c.CurrentViews, c.TrackingURL, c.CreatedAt, c.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save campaign %s", c.ID)
}

func (s *PostgresStore) GetAssignment(ctx context.Context, promoterID, campaignID string) (*model.Assignment, error) {
	var (
		a                     model.Assignment
		status                string
		earnings, held, spent string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT promoter_id, campaign_id, status, views_generated,
			earnings::text, budget_held::text, spent_budget::text, joined_at, updated_at
		 FROM promoter_campaigns WHERE promoter_id = $1 AND campaign_id = $2`,
		promoterID, campaignID,
	).Scan(&a.PromoterID, &a.CampaignID, &status, &a.ViewsGenerated,
		&earnings, &held, &spent, &a.JoinedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get assignment %s/%s", campaignID, promoterID)
	}
	a.Status = model.AssignmentStatus(status)
	if a.Earnings, err = parseDecimal("earnings", earnings); err != nil {
		return nil, eris.Wrap(err, "postgres: get assignment")
	}
	if a.BudgetHeld, err = parseDecimal("budget_held", held); err != nil {
		return nil, eris.Wrap(err, "postgres: get assignment")
	}
	if a.SpentBudget, err = parseDecimal("spent_budget", spent); err != nil {
		return nil, eris.Wrap(err, "postgres: get assignment")
	}
	return &a, nil
}

func (s *PostgresStore) SaveAssignment(ctx context.Context, a *model.Assignment) error {
	now := time.Now().UTC()
	if a.JoinedAt.IsZero() {
		a.JoinedAt = now
	}
	a.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO promoter_campaigns
			(promoter_id, campaign_id, status, views_generated, earnings, budget_held, spent_budget, joined_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9)
		 ON CONFLICT (promoter_id, campaign_id) DO UPDATE SET
			status = EXCLUDED.status,
			views_generated = EXCLUDED.views_generated,
			earnings = EXCLUDED.earnings,
			budget_held = EXCLUDED.budget_held,
			spent_budget = EXCLUDED.spent_budget,
			updated_at = EXCLUDED.updated_at`,
		a.PromoterID, a.CampaignID, string(a.Status), a.ViewsGenerated,
		a.Earnings.String(), a.BudgetHeld.String(), a.SpentBudget.String(), a.JoinedAt, a.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save assignment %s/%s", a.CampaignID, a.PromoterID)
}

func (s *PostgresStore) GetBudgetTracking(ctx context.Context, campaignID string) (*model.BudgetTracking, error) {
	var (
		b           model.BudgetTracking
		spent, fees string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT campaign_id, spent_budget_cents::text, platform_fees_collected_cents::text, updated_at
		 FROM campaign_budget_tracking WHERE campaign_id = $1`,
		campaignID,
	).Scan(&b.CampaignID, &spent, &fees, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get budget tracking %s", campaignID)
	}
	if b.SpentBudgetCents, err = parseDecimal("spent_budget_cents", spent); err != nil {
		return nil, eris.Wrap(err, "postgres: get budget tracking")
	}
	if b.PlatformFeesCollectedCents, err = parseDecimal("platform_fees_collected_cents", fees); err != nil {
		return nil, eris.Wrap(err, "postgres: get budget tracking")
	}
	return &b, nil
}

const promoterStatsColumns = `promoter_id, total_views_generated, total_campaigns_completed,
	visibility_campaigns_completed, consultant_campaigns_completed,
	seller_campaigns_completed, salesman_campaigns_completed, updated_at`

func (s *PostgresStore) GetPromoterStats(ctx context.Context, promoterID string) (*model.PromoterStats, error) {
	var p model.PromoterStats
	err := s.pool.QueryRow(ctx,
		`SELECT `+promoterStatsColumns+` FROM promoter_stats WHERE promoter_id = $1`,
		promoterID,
	).Scan(&p.PromoterID, &p.TotalViewsGenerated, &p.TotalCampaignsCompleted,
		&p.VisibilityCampaignsCompleted, &p.ConsultantCampaignsCompleted,
		&p.SellerCampaignsCompleted, &p.SalesmanCampaignsCompleted, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get promoter stats %s", promoterID)
	}
	return &p, nil
}

// --- View ledger ---

func (s *PostgresStore) InsertUniqueView(ctx context.Context, v *model.UniqueView) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO unique_views (id, campaign_id, promoter_id, fingerprint, source_address, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.CampaignID, v.PromoterID, v.Fingerprint, v.SourceAddress, v.UserAgent, v.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateView
		}
		return eris.Wrapf(err, "postgres: insert unique view %s/%s", v.CampaignID, v.PromoterID)
	}
	return nil
}

func (s *PostgresStore) CountUniqueViews(ctx context.Context, f ViewFilter) (int64, error) {
	where, args := viewConditions(f, pgPlaceholder, pgTime)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM unique_views`+where, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count unique views")
	}
	return n, nil
}

func (s *PostgresStore) DailyUniqueViews(ctx context.Context, f ViewFilter) ([]model.DailyViewCount, error) {
	where, args := viewConditions(f, pgPlaceholder, pgTime)
	rows, err := s.pool.Query(ctx,
		`SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*)
		 FROM unique_views`+where+`
		 GROUP BY day ORDER BY day`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: daily unique views")
	}
	defer rows.Close()

	var out []model.DailyViewCount
	for rows.Next() {
		var d model.DailyViewCount
		if err := rows.Scan(&d.Date, &d.Views); err != nil {
			return nil, eris.Wrap(err, "postgres: scan daily unique views")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate daily unique views")
}

// --- Accounting and completion ---

func (s *PostgresStore) ApplyViewAccounting(ctx context.Context, inc model.ViewIncrement) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE campaigns SET current_views = current_views + 1, updated_at = now()
			 WHERE id = $1 AND status = 'ACTIVE'`,
			inc.CampaignID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: increment campaign views %s", inc.CampaignID)
		}
		if tag.RowsAffected() == 0 {
			return ErrInactive
		}

		tag, err = tx.Exec(ctx,
			`UPDATE promoter_campaigns
			 SET views_generated = views_generated + 1, earnings = earnings + $3::numeric, updated_at = now()
			 WHERE promoter_id = $1 AND campaign_id = $2 AND status = 'ONGOING'`,
			inc.PromoterID, inc.CampaignID, inc.Earning.String(),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: increment assignment %s/%s", inc.CampaignID, inc.PromoterID)
		}
		if tag.RowsAffected() == 0 {
			return ErrInactive
		}

		if !inc.Billable {
			return nil
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO campaign_budget_tracking (campaign_id, spent_budget_cents, platform_fees_collected_cents, updated_at)
			 VALUES ($1, $2::numeric, $3::numeric, now())
			 ON CONFLICT (campaign_id) DO UPDATE SET
				spent_budget_cents = campaign_budget_tracking.spent_budget_cents + EXCLUDED.spent_budget_cents,
				platform_fees_collected_cents = campaign_budget_tracking.platform_fees_collected_cents + EXCLUDED.platform_fees_collected_cents,
				updated_at = now()`,
			inc.CampaignID, inc.Earning.String(), inc.PlatformFee.String(),
		); err != nil {
			return eris.Wrapf(err, "postgres: increment budget tracking %s", inc.CampaignID)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO promoter_stats (promoter_id, total_views_generated, updated_at)
			 VALUES ($1, 1, now())
			 ON CONFLICT (promoter_id) DO UPDATE SET
				total_views_generated = promoter_stats.total_views_generated + 1,
				updated_at = now()`,
			inc.PromoterID,
		); err != nil {
			return eris.Wrapf(err, "postgres: increment promoter stats %s", inc.PromoterID)
		}
		return nil
	})
}

func (s *PostgresStore) CompleteCampaign(ctx context.Context, campaignID string) (*CompletionResult, error) {
	res := &CompletionResult{}
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var typ string
		err := tx.QueryRow(ctx,
			`UPDATE campaigns SET status = 'ENDED', updated_at = now()
			 WHERE id = $1 AND status <> 'ENDED'
			 RETURNING type`,
			campaignID,
		).Scan(&typ)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return eris.Wrapf(err, "postgres: end campaign %s", campaignID)
		}
		res.Ended = true
		res.CampaignType = model.CampaignType(typ)

		col, err := completionColumn(res.CampaignType)
		if err != nil {
			return eris.Wrapf(err, "postgres: end campaign %s", campaignID)
		}

		rows, err := tx.Query(ctx,
			`UPDATE promoter_campaigns SET status = 'COMPLETED', updated_at = now()
			 WHERE campaign_id = $1 AND status = 'ONGOING'
			 RETURNING promoter_id`,
			campaignID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: complete assignments %s", campaignID)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return eris.Wrap(err, "postgres: scan completed promoter")
			}
			res.PromoterIDs = append(res.PromoterIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return eris.Wrapf(err, "postgres: complete assignments %s", campaignID)
		}

		q := fmt.Sprintf(
			`INSERT INTO promoter_stats (promoter_id, total_campaigns_completed, %[1]s, updated_at)
			 VALUES ($1, 1, 1, now())
			 ON CONFLICT (promoter_id) DO UPDATE SET
				total_campaigns_completed = promoter_stats.total_campaigns_completed + 1,
				%[1]s = promoter_stats.%[1]s + 1,
				updated_at = now()`, col)
		for _, id := range res.PromoterIDs {
			if _, err := tx.Exec(ctx, q, id); err != nil {
				return eris.Wrapf(err, "postgres: increment completions %s", id)
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

func (s *PostgresStore) ListReconciliationInputs(ctx context.Context, includeEnded bool) ([]model.ReconciliationInput, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT uv.promoter_id, uv.campaign_id, COUNT(*) AS view_count, c.cost_per_hundred_views
		 FROM unique_views uv
		 JOIN campaigns c ON c.id = uv.campaign_id
		 WHERE c.type = 'VISIBILITY'
			AND c.cost_per_hundred_views IS NOT NULL
			AND (c.status = 'ACTIVE' OR ($1::boolean AND c.status = 'ENDED'))
		 GROUP BY uv.promoter_id, uv.campaign_id, c.cost_per_hundred_views
		 ORDER BY uv.campaign_id, uv.promoter_id`,
		includeEnded,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reconciliation inputs")
	}
	defer rows.Close()

	var out []model.ReconciliationInput
	for rows.Next() {
		var in model.ReconciliationInput
		if err := rows.Scan(&in.PromoterID, &in.CampaignID, &in.ViewCount, &in.CostPerHundredViews); err != nil {
			return nil, eris.Wrap(err, "postgres: scan reconciliation input")
		}
		out = append(out, in)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate reconciliation inputs")
}

func (s *PostgresStore) UpsertEarningsRecord(ctx context.Context, rec *model.EarningsRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO campaign_earnings (id, promoter_id, campaign_id, views_generated,
			cost_per_hundred_views_cents, gross_earnings_cents, platform_fee_cents,
			net_earnings_cents, qualifies_for_payout, calculated_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (promoter_id, campaign_id) DO UPDATE SET
			views_generated = EXCLUDED.views_generated,
			cost_per_hundred_views_cents = EXCLUDED.cost_per_hundred_views_cents,
			gross_earnings_cents = EXCLUDED.gross_earnings_cents,
			platform_fee_cents = EXCLUDED.platform_fee_cents,
			net_earnings_cents = EXCLUDED.net_earnings_cents,
			qualifies_for_payout = EXCLUDED.qualifies_for_payout,
			calculated_at = EXCLUDED.calculated_at,
			updated_at = EXCLUDED.updated_at
		 WHERE campaign_earnings.views_generated <> EXCLUDED.views_generated
			OR campaign_earnings.cost_per_hundred_views_cents <> EXCLUDED.cost_per_hundred_views_cents
			OR campaign_earnings.gross_earnings_cents <> EXCLUDED.gross_earnings_cents
			OR campaign_earnings.platform_fee_cents <> EXCLUDED.platform_fee_cents
			OR campaign_earnings.net_earnings_cents <> EXCLUDED.net_earnings_cents
			OR campaign_earnings.qualifies_for_payout <> EXCLUDED.qualifies_for_payout`,
		rec.ID, rec.PromoterID, rec.CampaignID, rec.ViewsGenerated,
		rec.CostPerHundredViewsCents, rec.GrossEarningsCents, rec.PlatformFeeCents,
		rec.NetEarningsCents, rec.QualifiesForPayout, rec.CalculatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert earnings %s/%s", rec.CampaignID, rec.PromoterID)
	}
	return tag.RowsAffected() > 0, nil
}

const earningsColumns = `id, promoter_id, campaign_id, views_generated, cost_per_hundred_views_cents,
	gross_earnings_cents, platform_fee_cents, net_earnings_cents, qualifies_for_payout,
	payout_executed, payout_amount_cents, payout_date, payout_reference, calculated_at, updated_at`

func scanEarnings(row scannable) (*model.EarningsRecord, error) {
	var r model.EarningsRecord
	err := row.Scan(&r.ID, &r.PromoterID, &r.CampaignID, &r.ViewsGenerated, &r.CostPerHundredViewsCents,
		&r.GrossEarningsCents, &r.PlatformFeeCents, &r.NetEarningsCents, &r.QualifiesForPayout,
		&r.PayoutExecuted, &r.PayoutAmountCents, &r.PayoutDate, &r.PayoutReference, &r.CalculatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetEarningsRecord(ctx context.Context, id string) (*model.EarningsRecord, error) {
	r, err := scanEarnings(s.pool.QueryRow(ctx,
		`SELECT `+earningsColumns+` FROM campaign_earnings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get earnings record %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListEligiblePayouts(ctx context.Context) ([]model.EarningsRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+earningsColumns+` FROM campaign_earnings
		 WHERE qualifies_for_payout = true AND payout_executed = false
		 ORDER BY calculated_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list eligible payouts")
	}
	defer rows.Close()

	var out []model.EarningsRecord
	for rows.Next() {
		r, err := scanEarnings(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan earnings record")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate eligible payouts")
}

func (s *PostgresStore) MarkPayoutExecuted(ctx context.Context, id string, p model.Payout) (*model.EarningsRecord, error) {
	r, err := scanEarnings(s.pool.QueryRow(ctx,
		`UPDATE campaign_earnings SET
			payout_executed = true,
			payout_amount_cents = $2,
			payout_date = $3,
			payout_reference = $4,
			updated_at = now()
		 WHERE id = $1 AND payout_executed = false
		 RETURNING `+earningsColumns,
		id, p.AmountCents, p.ExecutedAt.UTC(), p.Reference,
	))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: mark payout %s", id)
	}

	var executed bool
	err = s.pool.QueryRow(ctx, `SELECT payout_executed FROM campaign_earnings WHERE id = $1`, id).Scan(&executed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: mark payout %s", id)
	}
	return nil, ErrPayoutAlreadyExecuted
}

// --- Accounting failures ---

func (s *PostgresStore) RecordAccountingFailure(ctx context.Context, f resilience.AccountingFailure) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounting_failures (id, campaign_id, promoter_id, fingerprint, stage, error, error_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.ID, f.CampaignID, f.PromoterID, f.Fingerprint, f.Stage, f.Error, f.ErrorType, f.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: record accounting failure %s", f.ID)
}

func (s *PostgresStore) ListAccountingFailures(ctx context.Context, filter resilience.FailureFilter) ([]resilience.AccountingFailure, error) {
	q := `SELECT id, campaign_id, promoter_id, fingerprint, stage, error, error_type, created_at
		FROM accounting_failures WHERE 1=1`
	var args []any
	if filter.CampaignID != "" {
		args = append(args, filter.CampaignID)
		q += " AND campaign_id = " + pgPlaceholder(len(args))
	}
	if filter.Stage != "" {
		args = append(args, filter.Stage)
		q += " AND stage = " + pgPlaceholder(len(args))
	}
	if filter.ErrorType != "" {
		args = append(args, filter.ErrorType)
		q += " AND error_type = " + pgPlaceholder(len(args))
	}
	args = append(args, failureLimit(filter.Limit))
	q += " ORDER BY created_at LIMIT " + pgPlaceholder(len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list accounting failures")
	}
	defer rows.Close()

	var out []resilience.AccountingFailure
	for rows.Next() {
		var f resilience.AccountingFailure
		if err := rows.Scan(&f.ID, &f.CampaignID, &f.PromoterID, &f.Fingerprint,
			&f.Stage, &f.Error, &f.ErrorType, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan accounting failure")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate accounting failures")
}

func (s *PostgresStore) ResolveAccountingFailure(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounting_failures WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve accounting failure %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountAccountingFailures(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounting_failures`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count accounting failures")
	}
	return n, nil
}
