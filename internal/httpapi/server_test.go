package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/rickgao/oi-gatherer/internal/aggregate"
	"github.com/rickgao/oi-gatherer/internal/api"
	"github.com/rickgao/oi-gatherer/internal/feed"
	"github.com/rickgao/oi-gatherer/internal/metastore"
	"github.com/rickgao/oi-gatherer/internal/model"
	"github.com/rickgao/oi-gatherer/internal/scheduler"
	"github.com/rickgao/oi-gatherer/internal/store"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func at(hh, mm int) time.Time {
	return time.Date(2024, 4, 18, hh, mm, 0, 0, ist)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type statusFunc func(ctx context.Context) (scheduler.Status, error)

func (f statusFunc) Status(ctx context.Context) (scheduler.Status, error) { return f(ctx) }

func seedStore(t *testing.T) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()
	err := st.WithTx(ctx, func(tx store.Tx) error {
		in, err := tx.ResolveInstrument(ctx, "NIFTY")
		if err != nil {
			return err
		}
		for i, ts := range []time.Time{at(9, 15), at(9, 20), at(9, 25)} {
			s := &model.Snapshot{
				InstrumentID: in.ID,
				Symbol:       in.Symbol,
				TradeDate:    model.DateOf(ts, ist),
				CapturedAt:   ts,
				LTP:          decimal.NewFromInt(int64(22000 + i)),
				CallOI:       int64(100 + 10*i),
				PutOI:        int64(200 - 5*i),
				MaxPain:      decimal.NewNullDecimal(decimal.NewFromInt(22100)),
			}
			if err := tx.InsertSnapshot(ctx, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return st
}

type fixture struct {
	server *Server
	store  *store.Memory
	meta   *metastore.Memory
	hub    *feed.Hub
}

func newFixture(t *testing.T, modify func(*Deps)) *fixture {
	t.Helper()
	st := seedStore(t)
	meta := metastore.NewMemory()
	hub := feed.NewHub(8, nil)
	t.Cleanup(hub.Close)

	deps := Deps{
		DB:          st,
		Instruments: st,
		Analytics:   aggregate.New(st, ist, aggregate.WithClock(func() time.Time { return at(9, 26) })),
		Runtime:     metastore.NewRuntimeConfig(meta, nil),
		Defaults:    metastore.Tunables{CycleInterval: 15 * time.Second, BatchSize: 25},
		Scheduler: statusFunc(func(context.Context) (scheduler.Status, error) {
			return scheduler.Status{Phase: scheduler.PhaseSleeping, TotalInstruments: 3, Cursor: 1, Cycles: 7}, nil
		}),
		Feed:     hub,
		Location: ist,
	}
	if modify != nil {
		modify(&deps)
	}
	return &fixture{server: New(DefaultConfig(), deps, nil), store: st, meta: meta, hub: hub}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode body %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, env
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"version"`) {
		t.Errorf("GET /healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name string
		db   Pinger
		want int
	}{
		{"ready", pinger{}, http.StatusOK},
		{"unreachable", pinger{err: errors.New("down")}, http.StatusServiceUnavailable},
		{"missing", nil, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(d *Deps) { d.DB = tt.db })
			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			rec := httptest.NewRecorder()
			f.server.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("GET /readyz = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestInstruments(t *testing.T) {
	f := newFixture(t, nil)
	code, env := f.do(t, http.MethodGet, "/api/v1/instruments", "")
	if code != http.StatusOK || env.Code != 0 {
		t.Fatalf("GET instruments = %d %+v", code, env)
	}
	var items []instrumentDTO
	if err := json.Unmarshal(env.Data, &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Symbol != "NIFTY" {
		t.Errorf("instruments = %+v, want [NIFTY]", items)
	}
}

func TestSnapshots(t *testing.T) {
	f := newFixture(t, nil)

	code, env := f.do(t, http.MethodGet, "/api/v1/instruments/nifty/snapshots?date=2024-04-18", "")
	if code != http.StatusOK {
		t.Fatalf("GET snapshots = %d %+v", code, env)
	}
	var snaps []snapshotDTO
	if err := json.Unmarshal(env.Data, &snaps); err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 3 {
		t.Fatalf("len(snapshots) = %d, want 3", len(snaps))
	}
	if snaps[0].TimeOfDay != "09:15" || snaps[0].TradeDate != "2024-04-18" {
		t.Errorf("first snapshot = %+v", snaps[0])
	}
	if snaps[0].MaxPain == nil || !snaps[0].MaxPain.Equal(decimal.NewFromInt(22100)) {
		t.Errorf("MaxPain = %v, want 22100", snaps[0].MaxPain)
	}

	code, env = f.do(t, http.MethodGet, "/api/v1/instruments/NIFTY/snapshots?date=2024-04-17", "")
	if code != http.StatusOK || string(env.Data) != "[]" {
		t.Errorf("GET snapshots other day = %d %s, want empty list", code, env.Data)
	}
}

func TestErrors(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/instruments/NIFTY/snapshots?date=18-04-2024", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/instruments/UNKNOWN/snapshots", http.StatusNotFound},
		{http.MethodGet, "/api/v1/instruments/NIFTY/rolling-delta?minutes=abc", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/instruments/NIFTY/rolling-delta?minutes=-3", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/instruments/NIFTY/resample?bucket=0", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/instruments/NIFTY/rolling-delta?minutes=200000000", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/instruments/NIFTY/strike-changes?lookback=10081", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/instruments/bad%20symbol/day-change", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/instruments/NIFTY/strike-changes", http.StatusNotFound},
		{http.MethodPost, "/api/v1/instruments/NIFTY/refresh", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			code, env := f.do(t, tt.method, tt.path, "")
			if code != tt.want || env.Code != tt.want {
				t.Errorf("%s %s = %d (code %d), want %d", tt.method, tt.path, code, env.Code, tt.want)
			}
		})
	}
}

func TestAnalyticsRoutes(t *testing.T) {
	f := newFixture(t, nil)

	code, env := f.do(t, http.MethodGet, "/api/v1/instruments/NIFTY/rolling-delta?minutes=10", "")
	if code != http.StatusOK {
		t.Fatalf("GET rolling-delta = %d %+v", code, env)
	}
	var delta struct {
		CallOI int64 `json:"call_oi"`
		PutOI  int64 `json:"put_oi"`
	}
	if err := json.Unmarshal(env.Data, &delta); err != nil {
		t.Fatal(err)
	}
	if delta.CallOI != 10 || delta.PutOI != -5 {
		t.Errorf("rolling delta = %+v, want (10, -5)", delta)
	}

	code, env = f.do(t, http.MethodGet, "/api/v1/instruments/NIFTY/day-change", "")
	if code != http.StatusOK {
		t.Fatalf("GET day-change = %d %+v", code, env)
	}
	var points []aggregate.DayPoint
	if err := json.Unmarshal(env.Data, &points); err != nil {
		t.Fatal(err)
	}
	if len(points) != 3 || points[2].CallOIChange != 20 {
		t.Errorf("day change = %+v", points)
	}

	code, env = f.do(t, http.MethodGet, "/api/v1/instruments/NIFTY/resample?bucket=15", "")
	if code != http.StatusOK {
		t.Fatalf("GET resample = %d %+v", code, env)
	}

	code, env = f.do(t, http.MethodGet, "/api/v1/summary", "")
	if code != http.StatusOK {
		t.Fatalf("GET summary = %d %+v", code, env)
	}
	var sum aggregate.Summary
	if err := json.Unmarshal(env.Data, &sum); err != nil {
		t.Fatal(err)
	}
	if len(sum.Groups) != 4 {
		t.Errorf("len(summary groups) = %d, want 4", len(sum.Groups))
	}
}

func TestRefresh(t *testing.T) {
	var got string
	f := newFixture(t, func(d *Deps) {
		d.Refresher = RefreshFunc(func(ctx context.Context, symbol string) (*model.Snapshot, error) {
			got = symbol
			if symbol == "BROKEN" {
				return nil, &api.FetchError{Symbol: symbol, Attempts: 4, Err: errors.New("502")}
			}
			return &model.Snapshot{ID: 9, Symbol: symbol, CapturedAt: at(9, 30), TradeDate: at(0, 0)}, nil
		})
	})

	code, env := f.do(t, http.MethodPost, "/api/v1/instruments/banknifty/refresh", "")
	if code != http.StatusOK {
		t.Fatalf("POST refresh = %d %+v", code, env)
	}
	if got != "BANKNIFTY" {
		t.Errorf("refreshed symbol = %q, want BANKNIFTY", got)
	}
	var snap snapshotDTO
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.ID != 9 || snap.MaxPain != nil {
		t.Errorf("refresh snapshot = %+v", snap)
	}

	code, _ = f.do(t, http.MethodPost, "/api/v1/instruments/BROKEN/refresh", "")
	if code != http.StatusBadGateway {
		t.Errorf("POST refresh of failing symbol = %d, want 502", code)
	}
}

func TestRuntime(t *testing.T) {
	f := newFixture(t, nil)

	code, env := f.do(t, http.MethodGet, "/api/v1/runtime", "")
	if code != http.StatusOK {
		t.Fatalf("GET runtime = %d", code)
	}
	var rt runtimeDTO
	if err := json.Unmarshal(env.Data, &rt); err != nil {
		t.Fatal(err)
	}
	if rt.CycleIntervalSeconds != 15 || rt.BatchSize != 25 {
		t.Errorf("runtime = %+v, want defaults", rt)
	}

	code, env = f.do(t, http.MethodPut, "/api/v1/runtime", `{"cycle_interval_seconds": 30, "batch_size": 10}`)
	if code != http.StatusOK {
		t.Fatalf("PUT runtime = %d %+v", code, env)
	}
	if err := json.Unmarshal(env.Data, &rt); err != nil {
		t.Fatal(err)
	}
	if rt.CycleIntervalSeconds != 30 || rt.BatchSize != 10 {
		t.Errorf("runtime after PUT = %+v, want 30s/10", rt)
	}
	if v, _, _ := f.meta.Get(context.Background(), metastore.KeyBatchSize); v != "10" {
		t.Errorf("stored batch size = %q, want 10", v)
	}

	bad := []string{
		`{"batch_size": 0}`,
		`{"cycle_interval_seconds": 0.2}`,
		`{}`,
		`not json`,
	}
	for _, body := range bad {
		if code, _ := f.do(t, http.MethodPut, "/api/v1/runtime", body); code != http.StatusBadRequest {
			t.Errorf("PUT runtime %s = %d, want 400", body, code)
		}
	}
}

func TestSchedulerStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.hub.Publish(model.Snapshot{Symbol: "NIFTY"})
	f.hub.Publish(model.Snapshot{Symbol: "NIFTY"})
	code, env := f.do(t, http.MethodGet, "/api/v1/scheduler/status", "")
	if code != http.StatusOK {
		t.Fatalf("GET status = %d", code)
	}
	var st statusDTO
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatal(err)
	}
	if st.Phase != "sleeping" || st.TotalInstruments != 3 || st.Cursor != 1 || st.Cycles != 7 {
		t.Errorf("status = %+v", st)
	}
	if st.LastCycleCompletedAt != nil {
		t.Errorf("LastCycleCompletedAt = %v, want omitted", st.LastCycleCompletedAt)
	}
	if st.Feed == nil || st.Feed.Published != 2 || st.Feed.Subscribers != 0 {
		t.Errorf("Feed = %+v, want 2 published, 0 subscribers", st.Feed)
	}
}

func dialStream(t *testing.T, f *fixture, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(f.server.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(time.Second)
	for f.hub.Stats().Subscribers == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestStream(t *testing.T) {
	f := newFixture(t, nil)
	conn := dialStream(t, f, "?symbol=nifty")

	f.hub.Publish(model.Snapshot{ID: 1, Symbol: "BANKNIFTY", CapturedAt: at(9, 30)})
	f.hub.Publish(model.Snapshot{ID: 2, Symbol: "NIFTY", CapturedAt: at(9, 31), LTP: decimal.NewFromInt(22050)})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap snapshotDTO
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if snap.ID != 2 || snap.Symbol != "NIFTY" || snap.TimeOfDay != "09:31" {
		t.Errorf("streamed snapshot = %+v, want NIFTY #2", snap)
	}
}

func TestStreamClosedOnStop(t *testing.T) {
	f := newFixture(t, nil)
	conn := dialStream(t, f, "")

	if err := f.server.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage error = %v, want close going away", err)
	}
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	s := New(cfg, Deps{}, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestStartBindError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "256.0.0.1:99999"
	s := New(cfg, Deps{}, nil)
	err := s.Start(context.Background())
	if err == nil {
		t.Fatal("Start with bad address should fail")
	}
	if !strings.Contains(err.Error(), fmt.Sprintf("listen %s", cfg.Addr)) {
		t.Errorf("error = %v, want listen prefix", err)
	}
}
