package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/copier/internal"
	"github.com/vadiminshakov/copier/internal/domain"
	"github.com/vadiminshakov/copier/internal/events"
	"github.com/vadiminshakov/copier/internal/registry"
)

type fakeCopier struct {
	mu      sync.Mutex
	results map[string]domain.DispatchResult
}

func (f *fakeCopier) LastResults() map[string]domain.DispatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.DispatchResult, len(f.results))
	for k, v := range f.results {
		out[k] = v
	}
	return out
}

func (f *fakeCopier) setResults(r map[string]domain.DispatchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = r
}

func (f *fakeCopier) Balance(accountID string) domain.BalanceSnapshot {
	return domain.NewBalanceSnapshot(map[string]decimal.Decimal{"USDT": decimal.RequireFromString("12.5")}, time.Unix(0, 0).UTC())
}

func (f *fakeCopier) Status() internal.Status {
	return internal.Status{Enabled: true, Running: true, LeaderState: "STREAMING"}
}

func newTestServer(t *testing.T, c *fakeCopier, opts ...func(*Server)) *httptest.Server {
	t.Helper()
	accounts := registry.NewStatic([]domain.Account{{ID: "f1", Exchange: domain.ExchangeBybit}})
	s := NewServer(":0", c, accounts, zap.NewNop())
	s.pollInterval = 10 * time.Millisecond
	for _, o := range opts {
		o(s)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, &fakeCopier{})

	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_Results(t *testing.T) {
	c := &fakeCopier{results: map[string]domain.DispatchResult{
		"f1": domain.Succeeded(&domain.OrderResult{OrderID: "o-1"}),
		"f2": domain.Failed("zero quote_amt"),
	}}
	srv := newTestServer(t, c)

	var body map[string]domain.DispatchResult
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/copy/results", &body))
	assert.True(t, body["f1"].Success)
	assert.Equal(t, "o-1", body["f1"].Data.OrderID)
	assert.Equal(t, "zero quote_amt", body["f2"].Error)
}

func TestServer_Balance(t *testing.T) {
	srv := newTestServer(t, &fakeCopier{})

	var snap domain.BalanceSnapshot
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/balances/f1", &snap))
	assert.True(t, snap.Get("USDT").Equal(decimal.RequireFromString("12.5")))

	var errBody map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/balances/nope", &errBody))
	assert.Contains(t, errBody["error"], "nope")
}

func TestServer_Status(t *testing.T) {
	srv := newTestServer(t, &fakeCopier{})

	var st internal.Status
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/status", &st))
	assert.Equal(t, internal.Status{Enabled: true, Running: true, LeaderState: "STREAMING"}, st)
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t, &fakeCopier{})
	getJSON(t, srv.URL+"/health", nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "copier_http_requests_total")
}

func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	return readNamedEvent(t, r, "results")
}

func readNamedEvent(t *testing.T, r *bufio.Reader, name string) string {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			assert.Equal(t, name, event)
			return data
		}
	}
}

func TestServer_ResultsStream(t *testing.T) {
	c := &fakeCopier{results: map[string]domain.DispatchResult{"f1": domain.Failed("zero base_amt")}}
	srv := newTestServer(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/copy/results/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	assert.Contains(t, readEvent(t, r), "zero base_amt")

	c.setResults(map[string]domain.DispatchResult{"f1": domain.Succeeded(&domain.OrderResult{OrderID: "o-7"})})
	assert.Contains(t, readEvent(t, r), "o-7")
}

type fakeJournal struct {
	mu      sync.Mutex
	records []domain.CycleRecord
}

func (j *fakeJournal) add(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, domain.CycleRecord{
		Index: uint64(len(j.records) + 1),
		Cycle: domain.DispatchCycle{Event: domain.FillEvent{EventID: id}},
	})
}

func (j *fakeJournal) CyclesAfter(index uint64) ([]domain.CycleRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.CycleRecord
	for _, r := range j.records {
		if r.Index > index {
			out = append(out, r)
		}
	}
	return out, nil
}

func openStream(t *testing.T, url string) (*bufio.Reader, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return bufio.NewReader(resp.Body), func() {
		cancel()
		resp.Body.Close()
	}
}

func TestServer_HistoryStream(t *testing.T) {
	j := &fakeJournal{}
	j.add("e1")
	srv := newTestServer(t, &fakeCopier{}, func(s *Server) { s.Journal = j })

	r, done := openStream(t, srv.URL+"/api/copy/history/stream")
	defer done()

	var rec domain.CycleRecord
	require.NoError(t, json.Unmarshal([]byte(readNamedEvent(t, r, "cycle")), &rec))
	assert.EqualValues(t, 1, rec.Index)
	assert.Equal(t, "e1", rec.Cycle.Event.EventID)

	j.add("e2")
	require.NoError(t, json.Unmarshal([]byte(readNamedEvent(t, r, "cycle")), &rec))
	assert.EqualValues(t, 2, rec.Index)
	assert.Equal(t, "e2", rec.Cycle.Event.EventID)
}

func TestServer_BalanceStream(t *testing.T) {
	feed := events.NewBalanceBroadcaster(4)
	srv := newTestServer(t, &fakeCopier{}, func(s *Server) { s.Balances = feed })

	r, done := openStream(t, srv.URL+"/api/balances/stream")
	require.Eventually(t, func() bool { return feed.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	feed.Publish(events.BalanceUpdate{AccountID: "f1", Snapshot: domain.ZeroSnapshot(domain.DefaultPair)})

	var u events.BalanceUpdate
	require.NoError(t, json.Unmarshal([]byte(readNamedEvent(t, r, "balance")), &u))
	assert.Equal(t, "f1", u.AccountID)
	assert.True(t, u.Snapshot.Stale)

	done()
	require.Eventually(t, func() bool { return feed.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_OptionalStreamsUnavailable(t *testing.T) {
	srv := newTestServer(t, &fakeCopier{})

	for _, path := range []string{"/api/copy/history/stream", "/api/balances/stream"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
}
