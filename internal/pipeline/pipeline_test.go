package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bwmon/internal/model"
	"bwmon/internal/rows"
	"bwmon/internal/speedtest"
	"bwmon/internal/store"
)

type fakeProbe struct {
	mu      sync.Mutex
	servers []model.Server
	listErr error
	fail    map[string]error
	lists   int
	tested  []string
}

func (f *fakeProbe) ListServers(ctx context.Context) ([]model.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.servers, nil
}

func (f *fakeProbe) RunTest(ctx context.Context, server model.Server) (model.TestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tested = append(f.tested, server.Name)
	if err := f.fail[server.Name]; err != nil {
		return model.TestResult{}, err
	}
	return result(), nil
}

func result() model.TestResult {
	return model.TestResult{
		Timestamp: time.Date(2024, 3, 1, 10, 20, 30, 0, time.FixedZone("", 0)),
		Ping:      model.Ping{Latency: 12.5},
		Download:  model.Transfer{Bandwidth: 12500000, Latency: model.Latency{IQM: 20.5}},
		Upload:    model.Transfer{Bandwidth: 2500000, Latency: model.Latency{IQM: 33.25}},
	}
}

// fakeStore logs every call as "op name [rows]".
type fakeStore struct {
	tables    map[string]bool
	calls     []string
	appended  map[string][][]model.Row
	existsErr map[string]error
	createErr map[string]error
	appendErr func(name string, rows []model.Row) error
}

func newFakeStore(existing ...string) *fakeStore {
	s := &fakeStore{tables: map[string]bool{}, appended: map[string][][]model.Row{}}
	for _, n := range existing {
		s.tables[n] = true
	}
	return s
}

func (s *fakeStore) TableExists(ctx context.Context, name string) (bool, error) {
	s.calls = append(s.calls, "exists "+name)
	if err := s.existsErr[name]; err != nil {
		return false, err
	}
	return s.tables[name], nil
}

func (s *fakeStore) CreateTable(ctx context.Context, name string) error {
	s.calls = append(s.calls, "create "+name)
	if err := s.createErr[name]; err != nil {
		return err
	}
	s.tables[name] = true
	return nil
}

func (s *fakeStore) AppendRows(ctx context.Context, name string, batch []model.Row) error {
	s.calls = append(s.calls, fmt.Sprintf("append %s %d", name, len(batch)))
	if s.appendErr != nil {
		if err := s.appendErr(name, batch); err != nil {
			return err
		}
	}
	s.appended[name] = append(s.appended[name], batch)
	return nil
}

func (s *fakeStore) callsFor(name string) []string {
	var out []string
	for _, c := range s.calls {
		if strings.Fields(c)[1] == name {
			out = append(out, c)
		}
	}
	return out
}

func quiet() Option {
	return WithLogger(zerolog.Nop())
}

var alpha = model.Server{ID: 1, Host: "a.example:8080", Name: "alpha", Location: "X"}

func TestRun_ExistingTable_SingleAppend(t *testing.T) {
	t.Parallel()

	st := newFakeStore("alpha")
	p := New(&fakeProbe{}, st, quiet())

	report := p.Run(context.Background(), []model.Server{alpha})

	want := []string{"exists alpha", "append alpha 1"}
	if !reflect.DeepEqual(st.calls, want) {
		t.Fatalf("calls=%q", st.calls)
	}
	got := st.appended["alpha"][0][0]
	wantRow := model.Row{"2024-03-01T10:20:30+00:00", "alpha", "X", "0", "12.5", "100", "20.5", "20", "33.25"}
	if !reflect.DeepEqual(got, wantRow) {
		t.Fatalf("row=%q", got)
	}
	if report.Failed() != 0 || report.Outcomes[0].Stage != StageDone || report.Outcomes[0].Created {
		t.Fatalf("outcome=%+v", report.Outcomes[0])
	}
	if report.RunID == "" {
		t.Fatalf("run id not set")
	}
}

func TestRun_NewTable_CreateHeaderThenData(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	p := New(&fakeProbe{}, st, quiet())

	report := p.Run(context.Background(), []model.Server{alpha})

	want := []string{"exists alpha", "create alpha", "append alpha 1", "append alpha 1"}
	if !reflect.DeepEqual(st.calls, want) {
		t.Fatalf("calls=%q", st.calls)
	}
	batches := st.appended["alpha"]
	if !reflect.DeepEqual(batches[0], []model.Row{rows.Header()}) {
		t.Fatalf("first batch=%q", batches[0])
	}
	if !reflect.DeepEqual(batches[1], []model.Row{rows.FromResult(alpha, result())}) {
		t.Fatalf("second batch=%q", batches[1])
	}
	if !report.Outcomes[0].Created {
		t.Fatalf("created flag not set")
	}
}

func TestRun_HeaderWrittenOncePerTable(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	p := New(&fakeProbe{}, st, quiet())
	ctx := context.Background()

	p.Run(ctx, []model.Server{alpha})
	p.Run(ctx, []model.Server{alpha})

	headers := 0
	for _, batch := range st.appended["alpha"] {
		if reflect.DeepEqual(batch, []model.Row{rows.Header()}) {
			headers++
		}
	}
	if headers != 1 || len(st.appended["alpha"]) != 3 {
		t.Fatalf("headers=%d batches=%d", headers, len(st.appended["alpha"]))
	}
}

func TestRun_ProbeFailureIsolated(t *testing.T) {
	t.Parallel()

	beta := model.Server{ID: 2, Name: "beta", Location: "Y"}
	gamma := model.Server{ID: 3, Name: "gamma", Location: "Z"}
	probe := &fakeProbe{fail: map[string]error{"beta": fmt.Errorf("%w: exit status 1", speedtest.ErrUnavailable)}}
	st := newFakeStore("alpha", "gamma")
	p := New(probe, st, quiet())

	report := p.Run(context.Background(), []model.Server{alpha, beta, gamma})

	if calls := st.callsFor("beta"); len(calls) != 0 {
		t.Fatalf("beta calls=%q", calls)
	}
	if len(st.appended["alpha"]) != 1 || len(st.appended["gamma"]) != 1 {
		t.Fatalf("appended=%v", st.appended)
	}
	if !reflect.DeepEqual(probe.tested, []string{"alpha", "beta", "gamma"}) {
		t.Fatalf("tested=%q", probe.tested)
	}
	o := report.Outcomes[1]
	if o.Stage != StageMeasure || !errors.Is(o.Err, speedtest.ErrUnavailable) {
		t.Fatalf("outcome=%+v", o)
	}
	if report.Failed() != 1 {
		t.Fatalf("failed=%d", report.Failed())
	}
}

func TestRun_ExistsErrorNotTreatedAsMissing(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.existsErr = map[string]error{"alpha": store.ErrUnavailable}
	p := New(&fakeProbe{}, st, quiet())

	report := p.Run(context.Background(), []model.Server{alpha})

	if !reflect.DeepEqual(st.calls, []string{"exists alpha"}) {
		t.Fatalf("calls=%q", st.calls)
	}
	if o := report.Outcomes[0]; o.Stage != StageCheckTable || !errors.Is(o.Err, store.ErrUnavailable) {
		t.Fatalf("outcome=%+v", o)
	}
}

func TestRun_CreateFailureSkipsWrites(t *testing.T) {
	t.Parallel()

	beta := model.Server{ID: 2, Name: "beta", Location: "Y"}
	st := newFakeStore("beta")
	st.createErr = map[string]error{"alpha": store.ErrRejected}
	p := New(&fakeProbe{}, st, quiet())

	report := p.Run(context.Background(), []model.Server{alpha, beta})

	if calls := st.callsFor("alpha"); !reflect.DeepEqual(calls, []string{"exists alpha", "create alpha"}) {
		t.Fatalf("alpha calls=%q", calls)
	}
	if report.Outcomes[0].Stage != StageCreateTable || report.Outcomes[1].Stage != StageDone {
		t.Fatalf("outcomes=%+v", report.Outcomes)
	}
}

func TestRun_DataAppendFailureLeavesHeader(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.appendErr = func(name string, batch []model.Row) error {
		if !reflect.DeepEqual(batch, []model.Row{rows.Header()}) {
			return store.ErrRejected
		}
		return nil
	}
	p := New(&fakeProbe{}, st, quiet())

	report := p.Run(context.Background(), []model.Server{alpha})

	if len(st.appended["alpha"]) != 1 {
		t.Fatalf("batches=%d", len(st.appended["alpha"]))
	}
	if !st.tables["alpha"] {
		t.Fatalf("table not kept")
	}
	o := report.Outcomes[0]
	if o.Stage != StageAppend || !o.Created || !errors.Is(o.Err, store.ErrRejected) {
		t.Fatalf("outcome=%+v", o)
	}
}

func TestRun_HeaderFailureSkipsData(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.appendErr = func(name string, batch []model.Row) error { return store.ErrUnavailable }
	p := New(&fakeProbe{}, st, quiet())

	report := p.Run(context.Background(), []model.Server{alpha})

	want := []string{"exists alpha", "create alpha", "append alpha 1"}
	if !reflect.DeepEqual(st.calls, want) {
		t.Fatalf("calls=%q", st.calls)
	}
	if report.Outcomes[0].Stage != StageWriteHeader {
		t.Fatalf("stage=%s", report.Outcomes[0].Stage)
	}
}

func TestRun_EmptyNameRejected(t *testing.T) {
	t.Parallel()

	probe := &fakeProbe{}
	st := newFakeStore()
	p := New(probe, st, quiet())

	report := p.Run(context.Background(), []model.Server{{ID: 9}, alpha})

	if !errors.Is(report.Outcomes[0].Err, ErrEmptyName) {
		t.Fatalf("err=%v", report.Outcomes[0].Err)
	}
	if !reflect.DeepEqual(probe.tested, []string{"alpha"}) {
		t.Fatalf("tested=%q", probe.tested)
	}
}

func TestRun_PacketLossPassedThrough(t *testing.T) {
	t.Parallel()

	st := newFakeStore("alpha")
	probe := &lossProbe{loss: 3.5}
	p := New(probe, st, quiet())

	p.Run(context.Background(), []model.Server{alpha})

	if got := st.appended["alpha"][0][0][3]; got != "3.5" {
		t.Fatalf("packet_loss=%q", got)
	}
}

type lossProbe struct {
	loss float32
}

func (l *lossProbe) ListServers(ctx context.Context) ([]model.Server, error) { return nil, nil }

func (l *lossProbe) RunTest(ctx context.Context, server model.Server) (model.TestResult, error) {
	res := result()
	loss := l.loss
	res.PacketLoss = &loss
	return res, nil
}

func TestRun_CancelledContextStops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	probe := &fakeProbe{}
	p := New(probe, newFakeStore(), quiet())

	report := p.Run(ctx, []model.Server{alpha})
	if len(report.Outcomes) != 0 || len(probe.tested) != 0 {
		t.Fatalf("outcomes=%d tested=%q", len(report.Outcomes), probe.tested)
	}
}

func TestRunOnce_ListFailure(t *testing.T) {
	t.Parallel()

	probe := &fakeProbe{listErr: speedtest.ErrUnavailable}
	p := New(probe, newFakeStore(), quiet())
	if _, err := p.RunOnce(context.Background()); !errors.Is(err, speedtest.ErrUnavailable) {
		t.Fatalf("err=%v", err)
	}
}

func TestRunOnce_UsesListedOrder(t *testing.T) {
	t.Parallel()

	beta := model.Server{ID: 2, Name: "beta"}
	probe := &fakeProbe{servers: []model.Server{beta, alpha}}
	st := newFakeStore()
	p := New(probe, st, quiet())

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !reflect.DeepEqual(probe.tested, []string{"beta", "alpha"}) {
		t.Fatalf("tested=%q", probe.tested)
	}
	if st.calls[0] != "exists beta" {
		t.Fatalf("calls=%q", st.calls)
	}
}

func TestSchedule_ZeroIntervalRunsOnce(t *testing.T) {
	t.Parallel()

	probe := &fakeProbe{servers: []model.Server{alpha}}
	p := New(probe, newFakeStore(), quiet())
	if err := p.Schedule(context.Background(), 0); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if probe.lists != 1 {
		t.Fatalf("lists=%d", probe.lists)
	}
}

func TestSchedule_RepeatsUntilCancelled(t *testing.T) {
	t.Parallel()

	probe := &fakeProbe{listErr: speedtest.ErrUnavailable}
	p := New(probe, newFakeStore(), quiet())

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	err := p.Schedule(ctx, 20*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
	probe.mu.Lock()
	lists := probe.lists
	probe.mu.Unlock()
	if lists < 2 {
		t.Fatalf("lists=%d", lists)
	}
}
