// Package web serves the relay status: account states, a live balance
// stream and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/sigrelay/internal"
	"github.com/vadiminshakov/sigrelay/internal/domain"
	"github.com/vadiminshakov/sigrelay/internal/events"
)

const (
	defaultHeartbeat = 30 * time.Second
	shutdownTimeout  = 5 * time.Second
)

type statusSource interface {
	Statuses() []internal.Status
}

type snapshotReader interface {
	SnapshotsAfter(index uint64) ([]domain.BalanceSnapshotRecord, error)
}

type recordSource interface {
	Subscribe() chan events.Record
	Unsubscribe(ch chan events.Record)
}

// Server exposes HTTP endpoints with the status UI, account statuses and an
// SSE balance stream.
type Server struct {
	Addr string
	// TLSDomains enables autocert TLS for the listed hosts.
	TLSDomains []string
	CertCache  string

	statuses  statusSource
	snapshots snapshotReader
	live      recordSource
	metrics   http.Handler
	logger    *zap.Logger
	heartbeat time.Duration
}

// Option configures optional parts of the server.
type Option func(*Server)

// WithSnapshots replays journaled balances to every new stream subscriber.
func WithSnapshots(r snapshotReader) Option {
	return func(s *Server) { s.snapshots = r }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithTLS(domains []string, cacheDir string) Option {
	return func(s *Server) {
		s.TLSDomains = domains
		s.CertCache = cacheDir
	}
}

// WithHeartbeat sets the SSE comment interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

// NewServer creates a new web server instance.
func NewServer(addr string, statuses statusSource, live recordSource, opts ...Option) *Server {
	s := &Server{
		Addr:      addr,
		statuses:  statuses,
		live:      live,
		logger:    zap.NewNop(),
		heartbeat: defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/accounts", s.handleAccounts).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{name}", s.handleAccount).Methods(http.MethodGet)
	r.HandleFunc("/balance/stream", s.handleBalanceStream).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	var err error
	if len(s.TLSDomains) > 0 {
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.TLSDomains...),
		}
		if s.CertCache != "" {
			m.Cache = autocert.DirCache(s.CertCache)
		}
		server.TLSConfig = m.TLSConfig()
		s.logger.Info("status server listening", zap.String("addr", s.Addr), zap.Strings("tls_domains", s.TLSDomains))
		err = server.ListenAndServeTLS("", "")
	} else {
		s.logger.Info("status server listening", zap.String("addr", s.Addr))
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.statuses.Statuses())
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	for _, st := range s.statuses.Statuses() {
		if st.Account == name {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	http.Error(w, "account not found", http.StatusNotFound)
}

// handleBalanceStream replays journaled snapshots, then streams live ones.
// ?account=<name> limits the stream to one account.
func (s *Server) handleBalanceStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	account := r.URL.Query().Get("account")

	// subscribe before replay so nothing falls in between
	live := s.live.Subscribe()
	defer s.live.Unsubscribe(live)

	var replay []domain.BalanceSnapshotRecord
	if s.snapshots != nil {
		var err error
		if replay, err = s.snapshots.SnapshotsAfter(0); err != nil {
			http.Error(w, "failed to load snapshots", http.StatusInternalServerError)
			s.logger.Error("balance stream initial load", zap.Error(err))
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(snapshot domain.BalanceSnapshot) bool {
		if account != "" && snapshot.Account != account {
			return true
		}
		payload, err := json.Marshal(snapshot)
		if err != nil {
			s.logger.Error("encode balance snapshot", zap.Error(err))
			return true
		}
		if _, err := fmt.Fprintf(w, "event: balance\ndata: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	for _, rec := range replay {
		if !send(rec.Snapshot) {
			return
		}
	}
	flusher.Flush()

	// send a comment heartbeat so proxies keep the connection
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case rec, ok := <-live:
			if !ok {
				return
			}
			if rec.Kind != events.KindBalanceSnapshot || rec.Balance == nil {
				continue
			}
			if !send(*rec.Balance) {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Account list refreshed every few seconds plus a per-account balance
// table fed by the SSE stream.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>sigrelay</title>
  <style>
    body { font-family: 'Space Mono', monospace; margin: 2rem; color: #111; }
    table { border-collapse: collapse; margin-bottom: 2rem; }
    th, td { border: 1px solid #111; padding: .3rem .8rem; text-align: left; }
    th { background: #f6f6f6; }
    .streaming { color: #1b9aaa; }
    .disconnected { color: #d7263d; }
  </style>
</head>
<body>
  <h1>sigrelay</h1>
  <table id="accounts">
    <thead><tr><th>account</th><th>exchange</th><th>endpoint</th><th>state</th><th>processed</th><th>failed</th><th>last error</th></tr></thead>
    <tbody></tbody>
  </table>
  <div id="balances"></div>
<script>
const accountsBody = document.querySelector('#accounts tbody');
const balances = document.getElementById('balances');

function cell(row, text, cls){
  const td = document.createElement('td');
  td.textContent = text;
  if(cls){ td.className = cls; }
  row.appendChild(td);
}

async function refreshAccounts(){
  try{
    const res = await fetch('/accounts');
    const list = await res.json();
    accountsBody.replaceChildren();
    for(const a of list){
      const row = document.createElement('tr');
      cell(row, a.account);
      cell(row, a.exchange + (a.dry_run ? ' (dry run)' : ''));
      cell(row, a.endpoint);
      cell(row, a.state, a.state);
      cell(row, a.processed);
      cell(row, a.failed);
      cell(row, a.last_error || '');
      accountsBody.appendChild(row);
    }
  }catch(err){
    console.error('accounts', err);
  }
}

function renderBalance(snapshot){
  const id = 'balance-' + snapshot.account;
  let table = document.getElementById(id);
  if(!table){
    const title = document.createElement('h3');
    title.textContent = snapshot.account + ' / ' + snapshot.exchange;
    table = document.createElement('table');
    table.id = id;
    balances.append(title, table);
  }
  table.replaceChildren();
  const head = document.createElement('tr');
  ['asset', 'free', 'used', 'total', 'ts'].forEach((h) => {
    const th = document.createElement('th');
    th.textContent = h;
    head.appendChild(th);
  });
  table.appendChild(head);
  Object.keys(snapshot.assets || {}).sort().forEach((asset) => {
    const b = snapshot.assets[asset];
    const row = document.createElement('tr');
    cell(row, asset);
    cell(row, b.free);
    cell(row, b.used);
    cell(row, b.total);
    cell(row, new Date(snapshot.ts).toLocaleTimeString([], { hour12:false }));
    table.appendChild(row);
  });
}

function connectSSE(){
  const source = new EventSource('/balance/stream');
  source.addEventListener('balance', (event) => {
    try{
      renderBalance(JSON.parse(event.data));
    }catch(err){
      console.error('payload parse', err);
    }
  });
  source.addEventListener('error', () => {
    source.close();
    setTimeout(connectSSE, 2000);
  });
}

refreshAccounts();
setInterval(refreshAccounts, 3000);
connectSSE();
</script>
</body>
</html>`
