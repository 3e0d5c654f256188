package model

import "time"

// Server identifies a speedtest probe endpoint. Name doubles as the
// destination table name.
type Server struct {
	ID       uint32 `json:"id"`
	Host     string `json:"host"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Ping holds idle latency figures in milliseconds.
type Ping struct {
	Jitter  float32 `json:"jitter"`
	Latency float32 `json:"latency"`
	Low     float32 `json:"low"`
	High    float32 `json:"high"`
}

// Latency is the loaded latency distribution during a transfer.
type Latency struct {
	IQM    float32 `json:"iqm"`
	Low    float32 `json:"low"`
	High   float32 `json:"high"`
	Jitter float32 `json:"jitter"`
}

// Transfer describes one direction of a bandwidth test.
type Transfer struct {
	Bandwidth uint32  `json:"bandwidth"` // bytes per second
	Bytes     uint64  `json:"bytes"`
	Elapsed   uint32  `json:"elapsed"` // ms
	Latency   Latency `json:"latency"`
}

// TestResult is a single measurement against one server.
type TestResult struct {
	Timestamp  time.Time `json:"timestamp"`
	Ping       Ping      `json:"ping"`
	Download   Transfer  `json:"download"`
	Upload     Transfer  `json:"upload"`
	PacketLoss *float32  `json:"packetLoss"`
}

// Row is an ordered list of string cells.
type Row []string
