package segment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Sink persists labeled segment profiles.
type Sink interface {
	UpsertSegments(ctx context.Context, entityName string, nClusters int, segments map[int]Profile) error
}

// Result is the output of one segmentation run. Cluster ids are 0-indexed
// and stable only within the run that produced them.
type Result struct {
	EntityName string          `json:"entity_name"`
	NClusters  int             `json:"n_clusters"`
	Segments   map[int]Profile `json:"segments"`
}

// Orchestrator wires feature engineering, clustering, profiling, labeling
// and persistence. It contains no clustering math of its own.
type Orchestrator struct {
	clusterer *KMeans
	labeler   *Labeler
	sink      Sink
}

func NewOrchestrator(clusterer *KMeans, labeler *Labeler, sink Sink) *Orchestrator {
	return &Orchestrator{clusterer: clusterer, labeler: labeler, sink: sink}
}

// Run executes the full segmentation pipeline for one entity. A nil sink
// skips persistence, which keeps dry runs cheap.
func (o *Orchestrator) Run(ctx context.Context, entityName string, records []Record, nClusters int) (Result, error) {
	features, _ := BuildFeatureMatrix(records)

	labels, _, err := o.clusterer.Cluster(features, nClusters)
	if err != nil {
		return Result{}, fmt.Errorf("segmentation for %s: %w", entityName, err)
	}

	profiles, err := ProfileClusters(records, labels)
	if err != nil {
		return Result{}, fmt.Errorf("segmentation for %s: %w", entityName, err)
	}
	segments := o.labeler.Apply(profiles)

	if o.sink != nil {
		if err := o.sink.UpsertSegments(ctx, entityName, nClusters, segments); err != nil {
			return Result{}, fmt.Errorf("persist segments for %s: %w", entityName, err)
		}
	}

	log.Info().
		Str("entity", entityName).
		Int("n_clusters", nClusters).
		Int("records", len(records)).
		Msg("segmentation complete")

	return Result{EntityName: entityName, NClusters: nClusters, Segments: segments}, nil
}
