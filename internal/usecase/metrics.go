package usecase

import "context"

// MetricsSummary represents aggregated pipeline insights.
type MetricsSummary struct {
	TotalQueries      int64   `json:"total_queries"`
	DoneQueries       int64   `json:"done_queries"`
	ErrorQueries      int64   `json:"error_queries"`
	DoneRate          float64 `json:"done_rate"`
	AverageConfidence float64 `json:"average_confidence"`
}

// GetMetricsSummary aggregates query metrics from the status store.
func (uc *QueryUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.store.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalQueries:      aggregation.TotalCount,
		DoneQueries:       aggregation.DoneCount,
		ErrorQueries:      aggregation.ErrorCount,
		AverageConfidence: aggregation.AverageConfidence,
	}

	if aggregation.TotalCount > 0 {
		summary.DoneRate = float64(aggregation.DoneCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
