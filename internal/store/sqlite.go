// Package store is the SQLite persistence layer. It implements every
// storage port the pipeline stages declare: raw-metric aggregation for
// KPI computation, idempotent result upserts, and the read sides the
// pipeline fetch stages consume.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"insight-engine/internal/forecast"
	"insight-engine/internal/kpi"
	"insight-engine/internal/risk"
	"insight-engine/internal/segment"
	"insight-engine/internal/signal"
)

const schema = `
CREATE TABLE IF NOT EXISTS raw_metrics (
	id          TEXT PRIMARY KEY,
	entity_name TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	value       REAL NOT NULL,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_raw_metrics_entity ON raw_metrics (entity_name, recorded_at);

CREATE TABLE IF NOT EXISTS computed_kpis (
	id            TEXT PRIMARY KEY,
	entity_name   TEXT NOT NULL,
	period_start  TEXT NOT NULL,
	period_end    TEXT NOT NULL,
	computed_kpis TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	UNIQUE (entity_name, period_start, period_end)
);

CREATE TABLE IF NOT EXISTS forecasts (
	id          TEXT PRIMARY KEY,
	entity_name TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	period_end  TEXT NOT NULL,
	position    INTEGER NOT NULL DEFAULT 0,
	payload     TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	UNIQUE (entity_name, metric_name, period_end)
);

CREATE TABLE IF NOT EXISTS risk_scores (
	id          TEXT PRIMARY KEY,
	entity_name TEXT NOT NULL,
	period_end  TEXT NOT NULL,
	risk_score  INTEGER NOT NULL,
	risk_level  TEXT NOT NULL,
	inputs      TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	UNIQUE (entity_name, period_end)
);

CREATE TABLE IF NOT EXISTS segment_insights (
	id          TEXT PRIMARY KEY,
	entity_name TEXT NOT NULL,
	n_clusters  INTEGER NOT NULL,
	segments    TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	UNIQUE (entity_name)
);
`

// Store wraps a SQLite database. One Store is safe for concurrent use by
// independent pipeline runs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %q: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent runs.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	log.Debug().Str("path", path).Msg("sqlite store ready")
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// InsertRawMetric records one raw observation. This is the ingest side
// used by loaders and tests.
func (s *Store) InsertRawMetric(ctx context.Context, entity, metric string, value float64, recordedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_metrics (id, entity_name, metric_name, value, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), entity, metric, value, recordedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting raw metric %s/%s: %w", entity, metric, err)
	}
	return nil
}

// Raw metric names the aggregator understands, grouped by business type.
const (
	rawSubscriptionRevenue = "subscription_revenue"
	rawStartingCustomers   = "starting_customers"
	rawLostCustomers       = "lost_customers"
	rawGrossMargin         = "gross_margin"

	rawOrderValue      = "order_value"
	rawVisitors        = "visitors"
	rawMarketingSpend  = "marketing_spend"
	rawNewCustomers    = "new_customers"
	rawUniqueCustomers = "unique_customers"

	rawRetainerFee       = "retainer_fee"
	rawProjectValue      = "project_value"
	rawStartingClients   = "starting_clients"
	rawLostClients       = "lost_clients"
	rawBillableHours     = "billable_hours"
	rawAvailableHours    = "available_hours"
	rawTotalEmployees    = "total_employees"
	rawClientLifespanMon = "avg_client_lifespan_months"
)

// Aggregate implements kpi.Aggregator: it folds the raw observations of
// one period window into formula inputs for the business type.
func (s *Store) Aggregate(ctx context.Context, entity string, bt kpi.BusinessType, periodStart, periodEnd time.Time) (kpi.Inputs, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric_name, value FROM raw_metrics
		 WHERE entity_name = ? AND recorded_at >= ? AND recorded_at < ?
		 ORDER BY recorded_at ASC`,
		entity, periodStart.UTC().Format(time.RFC3339), periodEnd.UTC().Format(time.RFC3339))
	if err != nil {
		return kpi.Inputs{}, fmt.Errorf("querying raw metrics for %s: %w", entity, err)
	}
	defer rows.Close()

	series := make(map[string][]float64)
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return kpi.Inputs{}, fmt.Errorf("scanning raw metric: %w", err)
		}
		series[name] = append(series[name], value)
	}
	if err := rows.Err(); err != nil {
		return kpi.Inputs{}, fmt.Errorf("iterating raw metrics: %w", err)
	}

	in := kpi.Inputs{}
	switch bt {
	case kpi.SaaS:
		in.ActiveSubscriptions = series[rawSubscriptionRevenue]
		in.StartingCustomers = int(latest(series[rawStartingCustomers]))
		in.LostCustomers = int(sum(series[rawLostCustomers]))
		in.GrossMargin = latest(series[rawGrossMargin])
	case kpi.Ecommerce:
		in.Orders = series[rawOrderValue]
		in.TotalVisitors = int(sum(series[rawVisitors]))
		in.MarketingSpend = sum(series[rawMarketingSpend])
		in.NewCustomers = int(sum(series[rawNewCustomers]))
		in.UniqueCustomers = int(latest(series[rawUniqueCustomers]))
	case kpi.Agency:
		in.RetainerFees = series[rawRetainerFee]
		in.ProjectValues = series[rawProjectValue]
		in.StartingClients = int(latest(series[rawStartingClients]))
		in.LostClients = int(sum(series[rawLostClients]))
		in.BillableHours = sum(series[rawBillableHours])
		in.AvailableHours = sum(series[rawAvailableHours])
		in.TotalEmployees = int(latest(series[rawTotalEmployees]))
		in.AvgClientLifespanMonths = latest(series[rawClientLifespanMon])
	default:
		return kpi.Inputs{}, fmt.Errorf("%w: %q", kpi.ErrUnknownBusinessType, bt)
	}
	return in, nil
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func latest(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// UpsertKPI implements kpi.Sink. The (entity, period window) key makes
// re-running a period overwrite rather than duplicate.
func (s *Store) UpsertKPI(ctx context.Context, entity string, periodStart, periodEnd time.Time, metrics map[string]kpi.Metric) (uuid.UUID, error) {
	payload, err := json.Marshal(metrics)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encoding kpi payload: %w", err)
	}

	id := uuid.New()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO computed_kpis (id, entity_name, period_start, period_end, computed_kpis, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (entity_name, period_start, period_end)
		 DO UPDATE SET computed_kpis = excluded.computed_kpis, created_at = excluded.created_at`,
		id.String(), entity,
		periodStart.UTC().Format(time.RFC3339), periodEnd.UTC().Format(time.RFC3339),
		string(payload), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return uuid.Nil, fmt.Errorf("upserting kpi record for %s: %w", entity, err)
	}
	return id, nil
}

// GetKPIs returns the computed KPI records overlapping [periodStart,
// periodEnd], ordered by (period_end, created_at) ascending. Unparsable
// timestamps sort first instead of failing the read.
func (s *Store) GetKPIs(ctx context.Context, entity string, periodStart, periodEnd time.Time) (kpi.Payload, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT period_start, period_end, computed_kpis, created_at FROM computed_kpis
		 WHERE entity_name = ? AND period_end > ? AND period_start < ?
		 ORDER BY period_end ASC, created_at ASC`,
		entity, periodStart.UTC().Format(time.RFC3339), periodEnd.UTC().Format(time.RFC3339))
	if err != nil {
		return kpi.Payload{}, fmt.Errorf("querying kpis for %s: %w", entity, err)
	}
	defer rows.Close()

	payload := kpi.Payload{EntityName: entity}
	for rows.Next() {
		var start, end, blob, created string
		if err := rows.Scan(&start, &end, &blob, &created); err != nil {
			return kpi.Payload{}, fmt.Errorf("scanning kpi record: %w", err)
		}
		rec := kpi.Record{
			EntityName:  entity,
			PeriodStart: parseTimeLenient(start),
			PeriodEnd:   parseTimeLenient(end),
			CreatedAt:   parseTimeLenient(created),
		}
		if err := json.Unmarshal([]byte(blob), &rec.ComputedKPIs); err != nil {
			return kpi.Payload{}, fmt.Errorf("decoding kpi payload for %s: %w", entity, err)
		}
		payload.Records = append(payload.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return kpi.Payload{}, fmt.Errorf("iterating kpi records: %w", err)
	}
	return payload, nil
}

// UpsertForecast implements forecast.Sink, keyed by (entity, metric,
// period end). The position records where the row sat in the generated
// payload.
func (s *Store) UpsertForecast(ctx context.Context, entity string, periodEnd time.Time, position int, result forecast.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding forecast payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO forecasts (id, entity_name, metric_name, period_end, position, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (entity_name, metric_name, period_end)
		 DO UPDATE SET position = excluded.position, payload = excluded.payload, created_at = excluded.created_at`,
		uuid.NewString(), entity, result.MetricName,
		periodEnd.UTC().Format(time.RFC3339), position, string(payload), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting forecast %s/%s: %w", entity, result.MetricName, err)
	}
	return nil
}

// GetLatestForecasts returns the most recent stored forecast per metric.
// Rows come back in the order they were generated; downstream signal
// extraction is first-match-wins, so the stored payload must keep the
// layout it was written with.
func (s *Store) GetLatestForecasts(ctx context.Context, entity string) (forecast.Payload, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM forecasts f
		 WHERE entity_name = ?
		   AND period_end = (SELECT MAX(period_end) FROM forecasts
		                     WHERE entity_name = f.entity_name AND metric_name = f.metric_name)
		 ORDER BY position ASC`,
		entity)
	if err != nil {
		return forecast.Payload{}, fmt.Errorf("querying forecasts for %s: %w", entity, err)
	}
	defer rows.Close()

	payload := forecast.Payload{EntityName: entity}
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return forecast.Payload{}, fmt.Errorf("scanning forecast: %w", err)
		}
		var result forecast.Result
		if err := json.Unmarshal([]byte(blob), &result); err != nil {
			return forecast.Payload{}, fmt.Errorf("decoding forecast payload: %w", err)
		}
		payload.Forecasts = append(payload.Forecasts, result)
	}
	if err := rows.Err(); err != nil {
		return forecast.Payload{}, fmt.Errorf("iterating forecasts: %w", err)
	}
	return payload, nil
}

// UpsertRiskScore implements risk.Sink, keyed by (entity, period end).
func (s *Store) UpsertRiskScore(ctx context.Context, entity string, periodEnd time.Time, result risk.Result, inputs signal.FlatSignals) error {
	encoded, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Errorf("encoding risk inputs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO risk_scores (id, entity_name, period_end, risk_score, risk_level, inputs, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (entity_name, period_end)
		 DO UPDATE SET risk_score = excluded.risk_score, risk_level = excluded.risk_level,
		               inputs = excluded.inputs, created_at = excluded.created_at`,
		uuid.NewString(), entity, periodEnd.UTC().Format(time.RFC3339),
		result.Score, result.Level, string(encoded), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting risk score for %s: %w", entity, err)
	}
	return nil
}

// UpsertSegments implements segment.Sink. Segmentation is a whole-history
// artifact, so the key is the entity alone.
func (s *Store) UpsertSegments(ctx context.Context, entity string, nClusters int, segments map[int]segment.Profile) error {
	encoded, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("encoding segments: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO segment_insights (id, entity_name, n_clusters, segments, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (entity_name)
		 DO UPDATE SET n_clusters = excluded.n_clusters, segments = excluded.segments, created_at = excluded.created_at`,
		uuid.NewString(), entity, nClusters, string(encoded), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting segments for %s: %w", entity, err)
	}
	return nil
}

// parseTimeLenient accepts the formats that have historically appeared in
// timestamp columns. Unparsable input maps to the zero time so it sorts
// first; a bad timestamp must never take the read path down.
func parseTimeLenient(raw string) time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	var epoch int64
	if _, err := fmt.Sscanf(raw, "%d", &epoch); err == nil && epoch > 0 {
		return time.Unix(epoch, 0).UTC()
	}
	return time.Time{}
}
