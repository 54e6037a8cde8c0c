package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"insight-engine/internal/forecast"
	"insight-engine/internal/kpi"
	"insight-engine/internal/pipeline"
	"insight-engine/internal/risk"
	"insight-engine/internal/segment"
	"insight-engine/internal/store"
	"insight-engine/internal/synthesis"
)

var (
	runEntity       string
	runBusinessType string
	runQuery        string
	runDB           string
	runClusters     int
	runWindowDays   int
	runRetries      int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one full analytics pipeline run for an entity",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := runDB
		if dbPath == "" {
			dbPath = cfg.DatabasePath
		}
		if !cmd.Flags().Changed("window-days") {
			runWindowDays = cfg.WindowDays
		}
		if !cmd.Flags().Changed("retries") {
			runRetries = cfg.SynthesisRetries
		}
		st, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		th := cfg.Thresholds
		p, err := pipeline.New(pipeline.Options{
			Thresholds: th,
			Computer:   kpi.NewOrchestrator(st, st),
			KPIs:       st,
			Forecaster: forecast.NewOrchestrator(forecast.NewTrendClassifier(th.Trend), st),
			Forecasts:  st,
			Risk:       risk.NewOrchestrator(risk.NewModel(th.Risk), st),
			Segmenter:  segment.NewOrchestrator(segment.NewKMeans(th.Cluster), segment.NewLabeler(th.Labeling), st),
			Generator:  synthesis.MockGenerator{},
			Metrics:    pipeline.NewMetrics(prometheus.NewRegistry()),

			MaxSynthesisRetries: runRetries,
		})
		if err != nil {
			return err
		}

		periodEnd := time.Now().UTC()
		result, err := p.Run(cmd.Context(), pipeline.Request{
			Query:        runQuery,
			EntityName:   runEntity,
			BusinessType: runBusinessType,
			PeriodStart:  periodEnd.AddDate(0, 0, -runWindowDays),
			PeriodEnd:    periodEnd,
			Clusters:     runClusters,
		})
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(out))

		log.Info().Str("entity", result.EntityName).Msg("run finished")
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runEntity, "entity", "", "entity name (derived from --query when omitted)")
	runCmd.Flags().StringVar(&runBusinessType, "business-type", "", "saas, ecommerce or agency (derived from --query when omitted)")
	runCmd.Flags().StringVar(&runQuery, "query", "", "free-text analysis question")
	runCmd.Flags().StringVar(&runDB, "db", "", "sqlite database path (defaults to DATABASE_PATH)")
	runCmd.Flags().IntVar(&runClusters, "clusters", 0, "fixed segmentation cluster count")
	runCmd.Flags().IntVar(&runWindowDays, "window-days", 90, "analysis window size in days (defaults to ANALYSIS_WINDOW_DAYS)")
	runCmd.Flags().IntVar(&runRetries, "retries", 2, "synthesis validation retries (defaults to SYNTHESIS_RETRIES)")
	rootCmd.AddCommand(runCmd)
}
