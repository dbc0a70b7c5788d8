package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iliyamo/parking-lot-allocation/internal/logging"
	"github.com/iliyamo/parking-lot-allocation/internal/parking"
)

// StatusSource reports the occupancy of every lot.
type StatusSource interface {
	FleetStatus(ctx context.Context) ([]parking.LotStatus, error)
}

// FleetCollector exposes lot occupancy on /metrics.  Values are read from
// the store on each scrape.
type FleetCollector struct {
	source  StatusSource
	timeout time.Duration

	capacity  *prometheus.Desc
	occupied  *prometheus.Desc
	available *prometheus.Desc
	full      *prometheus.Desc
	up        *prometheus.Desc
}

func NewFleetCollector(source StatusSource) *FleetCollector {
	labels := []string{"lot_id"}
	return &FleetCollector{
		source:    source,
		timeout:   3 * time.Second,
		capacity:  prometheus.NewDesc("parking_lot_capacity", "Total spaces of the lot.", labels, nil),
		occupied:  prometheus.NewDesc("parking_lot_occupied", "Vehicles currently parked in the lot.", labels, nil),
		available: prometheus.NewDesc("parking_lot_available", "Free spaces in the lot.", labels, nil),
		full:      prometheus.NewDesc("parking_lot_full", "1 when the lot has no free space.", labels, nil),
		up:        prometheus.NewDesc("parking_fleet_scrape_success", "1 when fleet status could be read.", nil, nil),
	}
}

func (c *FleetCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.capacity
	ch <- c.occupied
	ch <- c.available
	ch <- c.full
	ch <- c.up
}

func (c *FleetCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	st, err := c.source.FleetStatus(ctx)
	if err != nil {
		logging.Warn(ctx).Err(err).Msg("fleet collector: status unavailable")
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	for _, s := range st {
		full := 0.0
		if s.IsFull {
			full = 1
		}
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity), s.LotID)
		ch <- prometheus.MustNewConstMetric(c.occupied, prometheus.GaugeValue, float64(s.OccupiedCount), s.LotID)
		ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, float64(s.AvailableCapacity), s.LotID)
		ch <- prometheus.MustNewConstMetric(c.full, prometheus.GaugeValue, full, s.LotID)
	}
}
