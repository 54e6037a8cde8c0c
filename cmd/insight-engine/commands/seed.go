package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"insight-engine/internal/kpi"
	"insight-engine/internal/store"
)

var (
	seedEntity       string
	seedBusinessType string
	seedDB           string
	seedMonths       int
)

// Demo observations per business type: one value per raw metric per month,
// scaled by the month index so forecasts and deltas are non-trivial.
var seedMetrics = map[kpi.BusinessType]map[string]float64{
	kpi.SaaS: {
		"subscription_revenue": 1000,
		"starting_customers":   40,
		"lost_customers":       3,
		"gross_margin":         0.7,
	},
	kpi.Ecommerce: {
		"order_value":      120,
		"visitors":         4000,
		"marketing_spend":  900,
		"new_customers":    60,
		"unique_customers": 180,
	},
	kpi.Agency: {
		"retainer_fee":               2500,
		"project_value":              4000,
		"starting_clients":           12,
		"lost_clients":               1,
		"billable_hours":             1100,
		"available_hours":            1600,
		"total_employees":            10,
		"avg_client_lifespan_months": 18,
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert deterministic demo metrics for an entity",
	RunE: func(cmd *cobra.Command, args []string) error {
		bt, err := kpi.ParseBusinessType(seedBusinessType)
		if err != nil {
			return err
		}
		dbPath := seedDB
		if dbPath == "" {
			dbPath = cfg.DatabasePath
		}
		st, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		now := time.Now().UTC()
		inserted := 0
		for month := seedMonths - 1; month >= 0; month-- {
			recordedAt := now.AddDate(0, -month, 0)
			growth := 1.0 + 0.05*float64(seedMonths-1-month)
			for metric, base := range seedMetrics[bt] {
				if err := st.InsertRawMetric(cmd.Context(), seedEntity, metric, base*growth, recordedAt); err != nil {
					return err
				}
				inserted++
			}
		}

		log.Info().
			Str("entity", seedEntity).
			Str("business_type", string(bt)).
			Int("observations", inserted).
			Msg("demo data seeded")
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedEntity, "entity", "Acme", "entity name to seed")
	seedCmd.Flags().StringVar(&seedBusinessType, "business-type", "saas", "saas, ecommerce or agency")
	seedCmd.Flags().StringVar(&seedDB, "db", "", "sqlite database path (defaults to DATABASE_PATH)")
	seedCmd.Flags().IntVar(&seedMonths, "months", 3, "months of history to generate")
	rootCmd.AddCommand(seedCmd)
}
