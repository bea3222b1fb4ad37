package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "open_cycles",
			Help: "Reading cycles currently in OPEN or IN_PROGRESS status",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM reading_cycles WHERE status IN ('OPEN','IN_PROGRESS')")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "open_assignments",
			Help: "Meter reading assignments not yet completed",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM meter_reading_assignments WHERE completed_at IS NULL")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "active_meters",
			Help: "Active meter records",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM meters WHERE active")
		},
	))
}

func queryCount(db *sql.DB, logger *zap.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.Error(err))
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
