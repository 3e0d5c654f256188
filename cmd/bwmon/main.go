package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"bwmon/internal/config"
	"bwmon/internal/execx"
	"bwmon/internal/logger"
	"bwmon/internal/pipeline"
	"bwmon/internal/speedtest"
	"bwmon/internal/stats"
	"bwmon/internal/store"
	"bwmon/internal/store/csvstore"
	"bwmon/internal/store/sheets"
	"bwmon/internal/stunutil"
)

const usage = `bwmon - run speedtests against nearby servers and log results to a spreadsheet

Usage:
  bwmon run [--config <path>] [--credentials secret.json] [--backend sheets|csv] [--interval 1h] [-v|-q|-debug] [<spreadsheet-id>]
  bwmon servers [--config <path>]
  bwmon stats [--config <path>] [--csv-dir <dir>] [--window 24h]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "run":
		handleRun(os.Args[2:])
	case "servers":
		handleServers(os.Args[2:])
	case "stats":
		handleStats(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// runFlags are the command-line overrides for config values.
type runFlags struct {
	credentials   string
	tokenFile     string
	spreadsheetID string
	backend       string
	csvDir        string
	interval      string
	stunList      string
	binary        string
	acceptLicense bool
	cacheTables   bool
	verbose       bool
	quiet         bool
	debug         bool
}

func handleRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	var rf runFlags
	fs.StringVar(&rf.credentials, "credentials", "", "Google client secret or service account file")
	fs.StringVar(&rf.tokenFile, "token-file", "", "OAuth token cache path")
	fs.StringVar(&rf.spreadsheetID, "spreadsheet", "", "spreadsheet id")
	fs.StringVar(&rf.backend, "backend", "", "table backend: sheets|csv")
	fs.StringVar(&rf.csvDir, "csv-dir", "", "directory for the csv backend")
	fs.StringVar(&rf.interval, "interval", "", "repeat every interval (e.g. 1h); empty runs once")
	fs.StringVar(&rf.stunList, "stun", "", "comma-separated STUN servers")
	fs.StringVar(&rf.binary, "speedtest", "", "speedtest binary")
	fs.BoolVar(&rf.acceptLicense, "accept-license", false, "pass --accept-license --accept-gdpr to speedtest")
	fs.BoolVar(&rf.cacheTables, "cache-tables", false, "remember existing tables for the run")
	fs.BoolVar(&rf.verbose, "v", false, "debug logging")
	fs.BoolVar(&rf.quiet, "q", false, "warnings and errors only")
	fs.BoolVar(&rf.debug, "debug", false, "debug logging with caller locations")
	_ = fs.Parse(args)
	if fs.NArg() > 1 {
		fatal(errors.New("at most one spreadsheet id may be given"))
	}
	if fs.NArg() == 1 && rf.spreadsheetID == "" {
		rf.spreadsheetID = fs.Arg(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	overrideRun(&cfg, rf)
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	logger.Init(cfg.Logging)
	log.Debug().Interface("config", cfg).Msg("configuration loaded")

	ctx, cancel := signalContext()
	defer cancel()

	logUplink(ctx, cfg.STUNServers)

	tables, err := openStore(ctx, cfg.Store)
	if err != nil {
		fatal(err)
	}
	p := pipeline.New(newProbe(cfg.Probe), tables)

	interval, _ := cfg.Schedule.IntervalDuration()
	if interval == 0 {
		report, err := p.RunOnce(ctx)
		if err != nil {
			fatal(err)
		}
		if report.Failed() > 0 {
			log.Warn().Int("failed", report.Failed()).Int("servers", len(report.Outcomes)).Msg("some servers were not recorded")
		}
		return
	}

	log.Info().Dur("interval", interval).Msg("scheduled mode")
	if err := p.Schedule(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func handleServers(args []string) {
	fs := flag.NewFlagSet("servers", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	binary := fs.String("speedtest", "", "speedtest binary")
	acceptLicense := fs.Bool("accept-license", false, "pass --accept-license --accept-gdpr to speedtest")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if *binary != "" {
		cfg.Probe.Binary = *binary
	}
	if *acceptLicense {
		cfg.Probe.AcceptLicense = true
	}
	config.ApplyDefaults(&cfg)

	ctx, cancel := signalContext()
	defer cancel()

	servers, err := newProbe(cfg.Probe).ListServers(ctx)
	if err != nil {
		fatal(err)
	}
	if len(servers) == 0 {
		fmt.Fprintln(os.Stdout, "no servers found")
		return
	}
	fmt.Fprintf(os.Stdout, "%-8s  %-30s  %-24s  %s\n", "ID", "NAME", "LOCATION", "HOST")
	for _, s := range servers {
		fmt.Fprintf(os.Stdout, "%-8d  %-30s  %-24s  %s\n", s.ID, s.Name, s.Location, s.Host)
	}
}

func handleStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	csvDir := fs.String("csv-dir", "", "csv backend directory override")
	window := fs.Duration("window", 0, "time window (default from schedule.stats_window)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if *csvDir != "" {
		cfg.Store.CSVDir = *csvDir
	}
	config.ApplyDefaults(&cfg)

	span := *window
	if span == 0 {
		span, err = time.ParseDuration(cfg.Schedule.StatsWindow)
		if err != nil {
			fatal(fmt.Errorf("schedule.stats_window: %w", err))
		}
	}

	tables := csvstore.New(cfg.Store.CSVDir)
	names, err := tables.Tables()
	if err != nil {
		fatal(err)
	}
	if len(names) == 0 {
		fmt.Fprintln(os.Stdout, "no tables")
		return
	}

	cutoff := time.Now().Add(-span)
	for _, name := range names {
		rows, err := tables.ReadTable(name)
		if err != nil {
			fatal(err)
		}
		items, err := stats.ParseRows(rows)
		if err != nil {
			fatal(fmt.Errorf("%s: %w", name, err))
		}
		s := stats.Summarize(name, items, cutoff)
		if s.Count == 0 {
			fmt.Fprintf(os.Stdout, "%s: no samples in window\n", name)
			continue
		}
		fmt.Fprintf(os.Stdout, "%s: samples=%d from=%s to=%s\n", name, s.Count, s.From.Format(time.RFC3339), s.To.Format(time.RFC3339))
		fmt.Fprintf(os.Stdout, "  download avg=%.2f p5=%.2f min=%.2f max=%.2f Mbps\n", s.AvgDownloadMbps, s.P5DownloadMbps, s.MinDownloadMbps, s.MaxDownloadMbps)
		fmt.Fprintf(os.Stdout, "  upload avg=%.2f Mbps latency avg=%.2fms loss avg=%.2f%%\n", s.AvgUploadMbps, s.AvgLatencyMs, s.AvgPacketLoss)
	}
}

func newProbe(cfg config.ProbeConfig) *speedtest.Client {
	return speedtest.New(execx.NewOSRunner(), speedtest.Options{
		Binary:        cfg.Binary,
		AcceptLicense: cfg.AcceptLicense,
		Timeout:       cfg.ProbeTimeout(),
	})
}

func openStore(ctx context.Context, cfg config.StoreConfig) (pipeline.TableStore, error) {
	var backend store.TableStore
	switch cfg.Backend {
	case config.BackendCSV:
		backend = csvstore.New(cfg.CSVDir)
	case config.BackendSheets:
		client, err := sheets.ClientFromFile(ctx, cfg.CredentialsFile, cfg.TokenFile, sheets.Prompt{In: os.Stdin, Out: os.Stderr})
		if err != nil {
			return nil, err
		}
		s, err := sheets.New(ctx, cfg.SpreadsheetID, option.WithHTTPClient(client))
		if err != nil {
			return nil, err
		}
		backend = s
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if cfg.CacheTables {
		return store.NewCached(backend), nil
	}
	return backend, nil
}

func logUplink(ctx context.Context, servers []string) {
	if len(servers) == 0 {
		return
	}
	m, err := stunutil.Discover(ctx, servers, 5*time.Second)
	if err != nil {
		log.Warn().Err(err).Msg("STUN discovery failed")
		return
	}
	log.Info().Str("public_addr", m.Addr).Str("nat", m.NATType).Msg("uplink discovered")
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}, nil
	}
	return config.Load(path)
}

func overrideRun(cfg *config.Config, rf runFlags) {
	if rf.credentials != "" {
		cfg.Store.CredentialsFile = rf.credentials
	}
	if rf.tokenFile != "" {
		cfg.Store.TokenFile = rf.tokenFile
	}
	if rf.spreadsheetID != "" {
		cfg.Store.SpreadsheetID = rf.spreadsheetID
	}
	if rf.backend != "" {
		cfg.Store.Backend = rf.backend
	}
	if rf.csvDir != "" {
		cfg.Store.CSVDir = rf.csvDir
	}
	if rf.cacheTables {
		cfg.Store.CacheTables = true
	}
	if rf.interval != "" {
		cfg.Schedule.Interval = rf.interval
	}
	if rf.stunList != "" {
		cfg.STUNServers = splitList(rf.stunList)
	}
	if rf.binary != "" {
		cfg.Probe.Binary = rf.binary
	}
	if rf.acceptLicense {
		cfg.Probe.AcceptLicense = true
	}
	switch {
	case rf.debug:
		cfg.Logging.Level = "debug"
		cfg.Logging.Caller = true
	case rf.verbose:
		cfg.Logging.Level = "debug"
	case rf.quiet:
		cfg.Logging.Level = "warn"
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
