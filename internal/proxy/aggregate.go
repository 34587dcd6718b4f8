package proxy

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// ProbeRegion probes every endpoint concurrently and waits for the whole
// batch. Records come back in endpoint order.
func ProbeRegion(ctx context.Context, prober Prober, region string, endpoints []string) []HealthRecord {
	records := make([]HealthRecord, len(endpoints))
	var g errgroup.Group
	for i, endpoint := range endpoints {
		g.Go(func() error {
			records[i] = prober.Probe(ctx, region, endpoint)
			return nil
		})
	}
	_ = g.Wait() // probes never fail
	return records
}

// HealthyEndpoints filters records down to the endpoints that passed.
func HealthyEndpoints(records []HealthRecord) []string {
	var out []string
	for _, r := range records {
		if r.Healthy {
			out = append(out, r.Endpoint)
		}
	}
	return out
}

// Summarize reduces a probe batch for one region. Average response time is in
// seconds and is zero when the region has no endpoints.
func Summarize(region string, records []HealthRecord, now time.Time) RegionStatus {
	status := RegionStatus{
		Region:         region,
		TotalEndpoints: len(records),
		LastChecked:    now,
	}
	if len(records) == 0 {
		return status
	}
	var total time.Duration
	for _, r := range records {
		if r.Healthy {
			status.HealthyEndpoints++
		}
		total += r.ResponseTime
	}
	status.Healthy = status.HealthyEndpoints > 0
	status.AvgResponseTime = total.Seconds() / float64(len(records))
	status.LastChecked = records[0].CheckedAt
	return status
}
