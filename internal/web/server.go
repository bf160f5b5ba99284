// Package web serves the read-only HTTP surface: health, copy results,
// follower balances, copier status and Prometheus metrics.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vadiminshakov/copier/internal"
	"github.com/vadiminshakov/copier/internal/domain"
	"github.com/vadiminshakov/copier/internal/events"
	"github.com/vadiminshakov/copier/internal/metrics"
)

const (
	resultsPollInterval = 2 * time.Second
	heartbeatInterval   = 30 * time.Second
	requestTimeout      = 30 * time.Second
)

type copierReader interface {
	LastResults() map[string]domain.DispatchResult
	Balance(accountID string) domain.BalanceSnapshot
	Status() internal.Status
}

type accountLookup interface {
	Get(id string) (domain.Account, bool)
}

type cycleReader interface {
	CyclesAfter(index uint64) ([]domain.CycleRecord, error)
}

type balanceFeed interface {
	Subscribe() chan events.BalanceUpdate
	Unsubscribe(ch chan events.BalanceUpdate)
}

// Server exposes copier state over HTTP. Journal and Balances are optional;
// their streams answer 503 when unset.
type Server struct {
	Addr     string
	Copier   copierReader
	Accounts accountLookup
	Journal  cycleReader
	Balances balanceFeed

	logger       *zap.Logger
	pollInterval time.Duration
}

// NewServer creates a new web server instance.
func NewServer(addr string, copier copierReader, accounts accountLookup, logger *zap.Logger) *Server {
	return &Server{
		Addr:         addr,
		Copier:       copier,
		Accounts:     accounts,
		logger:       logger.With(zap.String("component", "web")),
		pollInterval: resultsPollInterval,
	}
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware(func(r *http.Request) string {
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			return rctx.RoutePattern()
		}
		return ""
	}))

	r.Get("/", s.handleIndex)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"copier"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// streams outlive the request timeout
		r.Get("/copy/results/stream", s.handleResultsStream)
		r.Get("/copy/history/stream", s.handleHistoryStream)
		r.Get("/balances/stream", s.handleBalanceStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Get("/copy/results", s.handleResults)
			r.Get("/balances/{accountID}", s.handleBalance)
			r.Get("/status", s.handleStatus)
		})
	})

	return r
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Copier.LastResults())
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if _, ok := s.Accounts.Get(accountID); !ok {
		writeError(w, fmt.Sprintf("unknown account %q", accountID), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.Copier.Balance(accountID))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Copier.Status())
}

func (s *Server) handleResultsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// send a comment heartbeat so proxies keep connection
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	var last []byte
	sendResults := func() error {
		payload, err := json.Marshal(s.Copier.LastResults())
		if err != nil {
			return err
		}
		if bytes.Equal(payload, last) {
			return nil
		}
		fmt.Fprintf(w, "event: results\n")
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		last = payload
		return nil
	}

	if err := sendResults(); err != nil {
		s.logger.Error("results stream initial load", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendResults(); err != nil {
				s.logger.Warn("results stream poll", zap.Error(err))
			}
		}
	}
}

func (s *Server) handleHistoryStream(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "dispatch journal not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendCycles := func() error {
		records, err := s.Journal.CyclesAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "event: cycle\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	if err := sendCycles(); err != nil {
		http.Error(w, "failed to load dispatch history", http.StatusInternalServerError)
		s.logger.Error("history stream initial load", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendCycles(); err != nil {
				s.logger.Warn("history stream poll", zap.Error(err))
			}
		}
	}
}

func (s *Server) handleBalanceStream(w http.ResponseWriter, r *http.Request) {
	if s.Balances == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "balance feed not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	updates := s.Balances.Subscribe()
	defer s.Balances.Unsubscribe(updates)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case u, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(u)
			if err != nil {
				s.logger.Warn("balance stream encode", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: balance\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Copier</title>
  <style>
    body { font-family: "Space Mono", monospace; margin: 2rem; color: #111; }
    table { border-collapse: collapse; min-width: 40rem; }
    th, td { border: 2px solid #111; padding: .4rem .8rem; text-align: left; }
    .ok { color: #0a7d27; }
    .fail { color: #b3261e; }
  </style>
</head>
<body>
  <h1>Copier</h1>
  <p id="status">loading...</p>
  <table>
    <thead><tr><th>account</th><th>result</th><th>order / reason</th></tr></thead>
    <tbody id="results"></tbody>
  </table>
  <script>
    async function loadStatus() {
      const res = await fetch('/api/status');
      const st = await res.json();
      document.getElementById('status').textContent =
        'copying ' + (st.enabled ? 'enabled' : 'disabled') + ', leader ' + st.leader_state;
    }
    function render(results) {
      const body = document.getElementById('results');
      body.innerHTML = '';
      Object.keys(results).sort().forEach(id => {
        const r = results[id];
        const tr = document.createElement('tr');
        const detail = r.success ? (r.data && r.data.order_id) : r.error;
        tr.innerHTML = '<td>' + id + '</td><td class="' + (r.success ? 'ok' : 'fail') + '">' +
          (r.success ? 'placed' : 'failed') + '</td><td></td>';
        tr.lastChild.textContent = detail || '';
        body.appendChild(tr);
      });
    }
    loadStatus();
    setInterval(loadStatus, 5000);
    const es = new EventSource('/api/copy/results/stream');
    es.addEventListener('results', e => render(JSON.parse(e.data)));
  </script>
</body>
</html>
`
