package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	"go.uber.org/zap"

	"github.com/sarchlab/speedmeasure/analysis"
	"github.com/sarchlab/speedmeasure/history"
	"github.com/sarchlab/speedmeasure/hooking"
	"github.com/sarchlab/speedmeasure/monitoring/web"
	"github.com/sarchlab/speedmeasure/tracing"
)

// Monitor serves what the instrumenter measures over HTTP. It is also a
// ledger hook, tracking how many modules are being built.
type Monitor struct {
	logger   *zap.Logger
	ledger   *tracing.Ledger
	gatherer prometheus.Gatherer

	historyLock sync.Mutex
	history     *history.Store

	summaryLock sync.Mutex
	summary     *analysis.Summary

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
	modules          *ProgressBar

	server *http.Server
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{logger: zap.NewNop()}
}

// WithLogger sets the logger of the monitor.
func (m *Monitor) WithLogger(logger *zap.Logger) *Monitor {
	m.logger = logger
	return m
}

// RegisterLedger registers the ledger to expose. The monitor attaches itself
// to the ledger as a hook.
func (m *Monitor) RegisterLedger(l *tracing.Ledger) {
	m.ledger = l
	m.resetModules()
	l.AcceptHook(m)
}

// resetModules replaces the "Modules" bar with an empty one.
func (m *Monitor) resetModules() {
	bar := m.createProgressBar("Modules", 0)

	m.progressBarsLock.Lock()
	old := m.modules
	m.modules = bar
	m.progressBarsLock.Unlock()

	if old != nil {
		m.completeProgressBar(old)
	}
}

// RegisterHistory registers the build history to expose. It may be called
// again while serving to switch to another history.
func (m *Monitor) RegisterHistory(s *history.Store) {
	m.historyLock.Lock()
	defer m.historyLock.Unlock()

	m.history = s
}

func (m *Monitor) historyStore() *history.Store {
	m.historyLock.Lock()
	defer m.historyLock.Unlock()

	return m.history
}

// RegisterGatherer registers the prometheus metrics to expose at /metrics.
func (m *Monitor) RegisterGatherer(g prometheus.Gatherer) {
	m.gatherer = g
}

// UpdateSummary replaces the summary served at /api/summary.
func (m *Monitor) UpdateSummary(s *analysis.Summary) {
	m.summaryLock.Lock()
	defer m.summaryLock.Unlock()

	m.summary = s
}

// Summary returns the latest summary, or nil.
func (m *Monitor) Summary() *analysis.Summary {
	m.summaryLock.Lock()
	defer m.summaryLock.Unlock()

	return m.summary
}

func (m *Monitor) createProgressBar(name string, total uint64) *ProgressBar {
	bar := newProgressBar(name, total)

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

func (m *Monitor) completeProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.removeBar(pb)
}

func (m *Monitor) removeBar(pb *ProgressBar) {
	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Func follows the module builds recorded in the ledger.
func (m *Monitor) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case tracing.HookPosLedgerReset:
		m.resetModules()
	case tracing.HookPosIntervalStart:
		if bar := m.moduleBar(ctx.Item.(tracing.TimeEvent)); bar != nil {
			bar.IncrementInProgress(1)
		}
	case tracing.HookPosIntervalEnd:
		e := ctx.Item.(tracing.TimeEvent)
		if e.Speculative {
			return
		}

		if bar := m.moduleBar(e); bar != nil {
			bar.MoveInProgressToFinished(1)
		}
	}
}

func (m *Monitor) moduleBar(e tracing.TimeEvent) *ProgressBar {
	if e.Category != analysis.CategoryLoaders || e.Event != analysis.EventBuild {
		return nil
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	return m.modules
}

// Handler returns the router serving the monitor API and the web page.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/summary", m.getSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/ledger", m.getLedger).Methods(http.MethodGet)
	r.HandleFunc("/api/open", m.listOpenEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/history", m.listBuilds).Methods(http.MethodGet)
	r.HandleFunc("/api/history/{build:[0-9]+}", m.getBuild).
		Methods(http.MethodGet)
	r.HandleFunc("/api/progress", m.listProgressBars).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)

	if m.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	}

	assets, err := web.Assets()
	if err != nil {
		m.logger.Warn("serving the embedded page", zap.Error(err))
		assets = web.Embedded()
	}

	r.PathPrefix("/").Handler(http.FileServer(assets))

	return r
}

// StartServer starts serving on addr in the background and returns the
// address actually listened on. An empty addr picks a random port.
func (m *Monitor) StartServer(addr string) (string, error) {
	if addr == "" {
		addr = "localhost:0"
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("starting monitor: %w", err)
	}

	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	actual := listener.Addr().String()
	m.logger.Info("monitoring build", zap.String("url", "http://"+actual))

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("monitor stopped", zap.Error(err))
		}
	}()

	return actual, nil
}

// Shutdown stops the server started by StartServer.
func (m *Monitor) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

func (m *Monitor) getSummary(w http.ResponseWriter, _ *http.Request) {
	s := m.Summary()
	if s == nil && m.ledger != nil {
		var err error

		s, err = analysis.Summarize(m.ledger.Snapshot())
		if err != nil {
			m.writeError(w, http.StatusNotFound, err)
			return
		}
	}

	if s == nil {
		m.writeError(w, http.StatusNotFound,
			&analysis.NoDataError{})
		return
	}

	m.writeJSON(w, s)
}

func (m *Monitor) getLedger(w http.ResponseWriter, _ *http.Request) {
	if m.ledger == nil {
		m.writeJSON(w, tracing.Snapshot{})
		return
	}

	m.writeJSON(w, m.ledger.Snapshot())
}

func (m *Monitor) listOpenEvents(w http.ResponseWriter, _ *http.Request) {
	events := []tracing.TimeEvent{}
	if m.ledger != nil {
		events = append(events, m.ledger.OpenEvents()...)
	}

	m.writeJSON(w, events)
}

func (m *Monitor) listBuilds(w http.ResponseWriter, _ *http.Request) {
	store := m.historyStore()
	if store == nil {
		m.writeJSON(w, []history.Build{})
		return
	}

	builds, err := store.Builds()
	if err != nil {
		m.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if builds == nil {
		builds = []history.Build{}
	}

	m.writeJSON(w, builds)
}

func (m *Monitor) getBuild(w http.ResponseWriter, r *http.Request) {
	buildNo, err := strconv.Atoi(mux.Vars(r)["build"])
	if err != nil {
		m.writeError(w, http.StatusBadRequest, err)
		return
	}

	store := m.historyStore()
	if store == nil {
		m.writeError(w, http.StatusNotFound,
			fmt.Errorf("build %d not found", buildNo))
		return
	}

	b, err := store.Get(buildNo)
	if err != nil {
		m.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if b == nil {
		m.writeError(w, http.StatusNotFound,
			fmt.Errorf("build %d not found", buildNo))
		return
	}

	m.writeJSON(w, b)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressBarState, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.state())
	}
	m.progressBarsLock.Unlock()

	m.writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.writeError(w, http.StatusInternalServerError, err)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		m.writeError(w, http.StatusInternalServerError, err)
		return
	}

	memory, err := proc.MemoryInfo()
	if err != nil {
		m.writeError(w, http.StatusInternalServerError, err)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memory.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second

	if d := r.URL.Query().Get("duration"); d != "" {
		var err error

		duration, err = time.ParseDuration(d)
		if err != nil {
			m.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		m.writeError(w, http.StatusConflict, err)
		return
	}

	time.Sleep(duration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		m.writeError(w, http.StatusInternalServerError, err)
		return
	}

	m.writeJSON(w, prof)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write(data); err != nil {
		m.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (m *Monitor) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	if _, err := w.Write(data); err != nil {
		m.logger.Warn("failed to write response", zap.Error(err))
	}
}
