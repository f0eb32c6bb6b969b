package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// chunksTotal counts every chunk the pipeline saw, partitioned by outcome
// (ingested vs skipped-as-duplicate), so dedup effectiveness shows up on a
// dashboard without log scraping.
var chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ragcore",
	Subsystem: "ingest",
	Name:      "chunks_total",
	Help:      "Total chunks processed by the ingest pipeline, partitioned by outcome.",
}, []string{"outcome"})

// pointsUpsertedTotal counts acknowledged point upserts per destination
// collection.
var pointsUpsertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ragcore",
	Subsystem: "ingest",
	Name:      "points_upserted_total",
	Help:      "Total points successfully upserted into the vector store, partitioned by collection.",
}, []string{"collection"})

func recordChunk(outcome string) {
	chunksTotal.WithLabelValues(outcome).Inc()
}

func recordUpserted(collection string, n int) {
	pointsUpsertedTotal.WithLabelValues(collection).Add(float64(n))
}
