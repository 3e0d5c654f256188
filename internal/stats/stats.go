package stats

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"bwmon/internal/model"
	"bwmon/internal/rows"
)

// Sample is one parsed measurement row.
type Sample struct {
	Timestamp    time.Time
	Server       string
	Location     string
	PacketLoss   float64
	LatencyMs    float64
	DownloadMbps float64
	UploadMbps   float64
}

// Summary is a basic statistics snapshot for one table.
type Summary struct {
	Table           string
	Count           int
	From            time.Time
	To              time.Time
	AvgDownloadMbps float64
	P5DownloadMbps  float64
	MinDownloadMbps float64
	MaxDownloadMbps float64
	AvgUploadMbps   float64
	AvgLatencyMs    float64
	AvgPacketLoss   float64
}

// ParseRows converts table rows into samples, skipping the header row.
func ParseRows(table []model.Row) ([]Sample, error) {
	items := make([]Sample, 0, len(table))
	for i, rec := range table {
		if len(rec) > 0 && rec[0] == rows.Header()[0] {
			continue
		}
		if len(rec) < rows.Width {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		ts, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp at line %d: %w", i+1, err)
		}
		loss, _ := strconv.ParseFloat(rec[3], 64)
		latency, _ := strconv.ParseFloat(rec[4], 64)
		down, _ := strconv.ParseFloat(rec[5], 64)
		up, _ := strconv.ParseFloat(rec[7], 64)
		items = append(items, Sample{
			Timestamp:    ts,
			Server:       rec[1],
			Location:     rec[2],
			PacketLoss:   loss,
			LatencyMs:    latency,
			DownloadMbps: down,
			UploadMbps:   up,
		})
	}
	return items, nil
}

// Summarize computes summary metrics for samples at or after since.
func Summarize(table string, items []Sample, since time.Time) Summary {
	filtered := make([]Sample, 0, len(items))
	for _, s := range items {
		if !s.Timestamp.Before(since) {
			filtered = append(filtered, s)
		}
	}

	if len(filtered) == 0 {
		return Summary{Table: table}
	}

	values := make([]float64, 0, len(filtered))
	var sumDown, sumUp, sumLatency, sumLoss float64
	minDown := math.MaxFloat64
	maxDown := 0.0
	from := filtered[0].Timestamp
	to := filtered[0].Timestamp

	for _, s := range filtered {
		values = append(values, s.DownloadMbps)
		sumDown += s.DownloadMbps
		sumUp += s.UploadMbps
		sumLatency += s.LatencyMs
		sumLoss += s.PacketLoss
		if s.DownloadMbps < minDown {
			minDown = s.DownloadMbps
		}
		if s.DownloadMbps > maxDown {
			maxDown = s.DownloadMbps
		}
		if s.Timestamp.Before(from) {
			from = s.Timestamp
		}
		if s.Timestamp.After(to) {
			to = s.Timestamp
		}
	}

	sort.Float64s(values)
	count := float64(len(filtered))

	return Summary{
		Table:           table,
		Count:           len(filtered),
		From:            from,
		To:              to,
		AvgDownloadMbps: sumDown / count,
		P5DownloadMbps:  percentile(values, 0.05),
		MinDownloadMbps: minDown,
		MaxDownloadMbps: maxDown,
		AvgUploadMbps:   sumUp / count,
		AvgLatencyMs:    sumLatency / count,
		AvgPacketLoss:   sumLoss / count,
	}
}

// percentile expects sorted values.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
