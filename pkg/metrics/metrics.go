// Package metrics reports relay counters to Datadog. Reporting is
// best-effort: failures are logged and never affect relay progress.
package metrics

import (
	"context"
	"os"
	"time"

	datadog "github.com/DataDog/datadog-api-client-go/api/v2/datadog"
	"github.com/rs/zerolog/log"
)

type Reporter struct {
	client *datadog.APIClient
	ctx    context.Context
	tags   []string
}

// NewReporter reads DD_API_KEY/DD_APP_KEY from the environment and returns a
// nil reporter when they are unset; a nil *Reporter is a safe no-op.
func NewReporter(tags []string) *Reporter {
	apiKey := os.Getenv("DD_API_KEY")
	if apiKey == "" {
		return nil
	}
	ctx := context.WithValue(context.Background(), datadog.ContextAPIKeys, map[string]datadog.APIKey{
		"apiKeyAuth": {Key: apiKey},
		"appKeyAuth": {Key: os.Getenv("DD_APP_KEY")},
	})
	return &Reporter{
		client: datadog.NewAPIClient(datadog.NewConfiguration()),
		ctx:    ctx,
		tags:   tags,
	}
}

// Gauge posts a single gauge point for metric name.
func (r *Reporter) Gauge(name string, value float64) {
	r.post(name, value, datadog.METRICINTAKETYPE_GAUGE)
}

// Count posts a single count point for metric name.
func (r *Reporter) Count(name string, value float64) {
	r.post(name, value, datadog.METRICINTAKETYPE_COUNT)
}

func (r *Reporter) post(name string, value float64, kind datadog.MetricIntakeType) {
	if r == nil {
		return
	}
	now := time.Now().Unix()
	payload := datadog.MetricPayload{
		Series: []datadog.MetricSeries{{
			Metric: name,
			Type:   kind.Ptr(),
			Points: []datadog.MetricPoint{{
				Timestamp: datadog.PtrInt64(now),
				Value:     datadog.PtrFloat64(value),
			}},
			Tags: r.tags,
		}},
	}
	if _, _, err := r.client.MetricsApi.SubmitMetrics(r.ctx, payload); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("failed to submit metric")
	}
}
