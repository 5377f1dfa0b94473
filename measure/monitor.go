package measure

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sarchlab/speedmeasure/analysis"
	"github.com/sarchlab/speedmeasure/metrics"
	"github.com/sarchlab/speedmeasure/monitoring"
)

// StartMonitor serves the ledger, the summary of every finished build, the
// build history and the ledger metrics over HTTP at addr. It returns the
// address listened on. Start it between builds.
func (sm *SpeedMeasure) StartMonitor(addr string) (string, error) {
	sm.lock.Lock()
	if sm.monitor != nil {
		sm.lock.Unlock()
		return "", errors.New("monitor already started")
	}

	m := monitoring.NewMonitor().WithLogger(sm.logger)
	sm.monitor = m
	opts := sm.opts
	sm.lock.Unlock()

	collector := metrics.NewCollector()
	sm.ledger.AcceptHook(collector)
	m.RegisterGatherer(collector.Registry())
	m.RegisterLedger(sm.ledger)

	if opts.CompareLoadersBuild != "" {
		store, err := sm.historyStore(opts.CompareLoadersBuild)
		if err != nil {
			return "", err
		}

		m.RegisterHistory(store)
	}

	sm.OnSummary(func(s *analysis.Summary) {
		m.UpdateSummary(s)

		if store := sm.History(); store != nil {
			m.RegisterHistory(store)
		}
	})

	return m.StartServer(addr)
}

func (sm *SpeedMeasure) startConfiguredMonitor(opts Options) {
	if opts.MonitorAddr == "" {
		return
	}

	sm.lock.Lock()
	started := sm.monitor != nil
	sm.lock.Unlock()

	if started {
		return
	}

	if _, err := sm.StartMonitor(opts.MonitorAddr); err != nil {
		sm.logger.Warn("failed to start monitor",
			zap.String("addr", opts.MonitorAddr), zap.Error(err))
	}
}

func (sm *SpeedMeasure) stopMonitor() error {
	sm.lock.Lock()
	m := sm.monitor
	sm.monitor = nil
	sm.lock.Unlock()

	if m == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return m.Shutdown(ctx)
}
