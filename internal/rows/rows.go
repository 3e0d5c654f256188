// Package rows shapes test results into the fixed sheet layout.
package rows

import (
	"strconv"

	"bwmon/internal/model"
)

// TimeLayout is RFC 3339 with a numeric offset (never "Z") and
// fractional seconds only when present.
const TimeLayout = "2006-01-02T15:04:05.999999999-07:00"

// bytesPerMegabit converts the CLI's bytes/s bandwidth into Mbps.
const bytesPerMegabit = 125000

// Width is the number of cells in every row.
const Width = 9

var header = model.Row{
	"Time",
	"Server Name",
	"Server Location",
	"Packet Loss",
	"Idle Latency (ms)",
	"Download (Mbps)",
	"Download Latency (ms)",
	"Upload (Mbps)",
	"Upload Latency (ms)",
}

// Header returns the label row written once to every new table.
func Header() model.Row {
	out := make(model.Row, len(header))
	copy(out, header)
	return out
}

// FromResult maps a measurement to a row in Header order. A missing packet
// loss figure is written as "0", which is indistinguishable from a measured
// zero.
func FromResult(server model.Server, res model.TestResult) model.Row {
	loss := "0"
	if res.PacketLoss != nil {
		loss = formatFloat(*res.PacketLoss)
	}

	return model.Row{
		res.Timestamp.Format(TimeLayout),
		server.Name,
		server.Location,
		loss,
		formatFloat(res.Ping.Latency),
		formatFloat(Mbps(res.Download.Bandwidth)),
		formatFloat(res.Download.Latency.IQM),
		formatFloat(Mbps(res.Upload.Bandwidth)),
		formatFloat(res.Upload.Latency.IQM),
	}
}

// Mbps converts a bytes/s bandwidth figure to megabits per second.
func Mbps(bandwidth uint32) float32 {
	return float32(bandwidth) / bytesPerMegabit
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}
