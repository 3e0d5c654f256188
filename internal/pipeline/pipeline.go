// Package pipeline runs speedtests against a list of servers and appends each
// result to a per-server table, creating the table with a header on first
// use.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bwmon/internal/model"
	"bwmon/internal/rows"
)

// ErrEmptyName is recorded for servers that cannot name a table.
var ErrEmptyName = errors.New("server name is empty")

// Prober lists servers and measures bandwidth against one of them.
type Prober interface {
	ListServers(ctx context.Context) ([]model.Server, error)
	RunTest(ctx context.Context, server model.Server) (model.TestResult, error)
}

// TableStore is the persistence side of the pipeline.
type TableStore interface {
	TableExists(ctx context.Context, name string) (bool, error)
	CreateTable(ctx context.Context, name string) error
	AppendRows(ctx context.Context, name string, rows []model.Row) error
}

// Stage names the step a server's iteration stopped at.
type Stage string

const (
	StageValidate    Stage = "validate"
	StageMeasure     Stage = "measure"
	StageCheckTable  Stage = "check_table"
	StageCreateTable Stage = "create_table"
	StageWriteHeader Stage = "write_header"
	StageAppend      Stage = "append"
	StageDone        Stage = "done"
)

// Outcome is the result of one server's iteration.
type Outcome struct {
	Server  model.Server
	Stage   Stage
	Created bool
	Row     model.Row
	Err     error
}

// Report collects the outcomes of one run in server order.
type Report struct {
	RunID    string
	Outcomes []Outcome
}

// Failed counts servers whose iteration did not reach StageDone.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Pipeline drives probe and store sequentially. It holds no state across
// servers beyond the two handles.
type Pipeline struct {
	probe  Prober
	tables TableStore
	log    zerolog.Logger
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithLogger replaces the global logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

func New(probe Prober, tables TableStore, opts ...Option) *Pipeline {
	p := &Pipeline{probe: probe, tables: tables, log: log.Logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunOnce lists nearby servers and runs them. A listing failure is returned;
// per-server failures are only reported.
func (p *Pipeline) RunOnce(ctx context.Context) (Report, error) {
	servers, err := p.probe.ListServers(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list servers: %w", err)
	}
	return p.Run(ctx, servers), nil
}

// Run processes servers one at a time, in order. A cancelled context stops
// the loop before the next server starts.
func (p *Pipeline) Run(ctx context.Context, servers []model.Server) Report {
	report := Report{RunID: uuid.NewString()}
	logger := p.log.With().Str("run_id", report.RunID).Logger()
	logger.Info().Int("servers", len(servers)).Msg("run started")

	for _, server := range servers {
		if ctx.Err() != nil {
			logger.Warn().Err(ctx.Err()).Msg("run interrupted")
			break
		}
		out := p.testAndStore(ctx, logger, server)
		report.Outcomes = append(report.Outcomes, out)
	}

	logger.Info().
		Int("tested", len(report.Outcomes)).
		Int("failed", report.Failed()).
		Msg("run finished")
	return report
}

func (p *Pipeline) testAndStore(ctx context.Context, logger zerolog.Logger, server model.Server) Outcome {
	out := Outcome{Server: server}
	logger = logger.With().
		Uint32("server_id", server.ID).
		Str("server", server.Name).
		Str("location", server.Location).
		Logger()

	fail := func(stage Stage, err error) Outcome {
		out.Stage = stage
		out.Err = err
		logger.Error().Err(err).Str("stage", string(stage)).Msg("server skipped")
		return out
	}

	if server.Name == "" {
		return fail(StageValidate, ErrEmptyName)
	}

	logger.Info().Msg("testing")
	result, err := p.probe.RunTest(ctx, server)
	if err != nil {
		return fail(StageMeasure, err)
	}

	row := rows.FromResult(server, result)
	out.Row = row
	logger.Debug().Strs("row", row).Msg("measured")

	exists, err := p.tables.TableExists(ctx, server.Name)
	if err != nil {
		return fail(StageCheckTable, err)
	}
	if !exists {
		if err := p.tables.CreateTable(ctx, server.Name); err != nil {
			return fail(StageCreateTable, err)
		}
		out.Created = true
		logger.Info().Msg("table created")

		if err := p.tables.AppendRows(ctx, server.Name, []model.Row{rows.Header()}); err != nil {
			return fail(StageWriteHeader, err)
		}
	}

	if err := p.tables.AppendRows(ctx, server.Name, []model.Row{row}); err != nil {
		return fail(StageAppend, err)
	}

	out.Stage = StageDone
	logger.Info().
		Str("download_mbps", row[5]).
		Str("upload_mbps", row[7]).
		Str("packet_loss", row[3]).
		Msg("result stored")
	return out
}
