package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"go.uber.org/zap"

	"github.com/sarchlab/speedmeasure/analysis"
	"github.com/sarchlab/speedmeasure/config"
	"github.com/sarchlab/speedmeasure/history"
	"github.com/sarchlab/speedmeasure/monitoring"
)

type serveFlags struct {
	addr        string
	open        bool
	summaryPath string
}

func newServeCmd(global *globalFlags) *cobra.Command {
	flags := &serveFlags{}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the build history and a build report over HTTP",
		Long: `serve starts the monitor on the build history. A JSON report written
with outputFormat json can be served as the latest summary. When a
configuration file is given, it is watched and a changed history path is
picked up without restarting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := newServer(global, flags)
			if err != nil {
				return err
			}
			defer s.close()

			addr := flags.addr
			if !cmd.Flags().Changed("addr") {
				opts, err := global.options()
				if err != nil {
					return err
				}

				if opts.Monitor.Addr != "" {
					addr = opts.Monitor.Addr
				}
			}

			url, err := s.start(addr)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Serving build timings at %s\n", url)

			if flags.open {
				if err := browser.OpenURL(url); err != nil {
					s.logger.Warn("failed to open browser", zap.Error(err))
				}
			}

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(
				context.Background(), 5*time.Second)
			defer cancel()

			return s.monitor.Shutdown(shutdownCtx)
		},
	}

	serveCmd.Flags().StringVar(&flags.addr, "addr", "localhost:0",
		"address to listen on")
	serveCmd.Flags().BoolVar(&flags.open, "open", false,
		"open the monitor in a browser")
	serveCmd.Flags().StringVar(&flags.summaryPath, "summary", "",
		"JSON report to serve as the latest summary")

	return serveCmd
}

type server struct {
	logger  *zap.Logger
	monitor *monitoring.Monitor

	lock      sync.Mutex
	store     *history.Store
	stopWatch func()
}

func newServer(global *globalFlags, flags *serveFlags) (*server, error) {
	s := &server{logger: global.logger()}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s.monitor = monitoring.NewMonitor().WithLogger(s.logger)
	s.monitor.RegisterGatherer(registry)

	if flags.summaryPath != "" {
		summary, err := readSummary(flags.summaryPath)
		if err != nil {
			return nil, err
		}

		s.monitor.UpdateSummary(summary)
	}

	path, err := global.resolveHistoryPath()
	if err != nil {
		return nil, err
	}

	if err := s.useHistory(path); err != nil {
		return nil, err
	}

	if global.configPath != "" && global.historyPath == "" {
		if err := s.watch(global.configPath); err != nil {
			s.close()
			return nil, err
		}
	}

	atexit.Register(s.close)

	return s, nil
}

func (s *server) start(addr string) (string, error) {
	actual, err := s.monitor.StartServer(addr)
	if err != nil {
		return "", err
	}

	return "http://" + actual, nil
}

// useHistory switches the monitor to the history at path. An empty path
// serves no history.
func (s *server) useHistory(path string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.store != nil && s.store.Path() == path {
		return nil
	}

	var store *history.Store

	if path != "" {
		var err error

		store, err = history.Open(path)
		if err != nil {
			return err
		}
	}

	s.monitor.RegisterHistory(store)

	if s.store != nil {
		s.store.Close()
	}

	s.store = store
	if path != "" {
		s.logger.Info("serving build history", zap.String("path", path))
	}

	return nil
}

func (s *server) watch(configPath string) error {
	loader, err := config.NewLoader(configPath, s.logger)
	if err != nil {
		return err
	}

	loader.OnChange(func(opts config.Options) {
		if err := s.useHistory(historyPathOf(opts)); err != nil {
			s.logger.Warn("keeping previous build history", zap.Error(err))
		}
	})

	stop, err := loader.Watch()
	if err != nil {
		return err
	}

	s.lock.Lock()
	s.stopWatch = stop
	s.lock.Unlock()

	return nil
}

func (s *server) close() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}

	if s.store != nil {
		s.store.Close()
		s.store = nil
	}
}

func readSummary(path string) (*analysis.Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading summary: %w", err)
	}

	summary := &analysis.Summary{}
	if err := json.Unmarshal(data, summary); err != nil {
		return nil, fmt.Errorf("parsing summary %s: %w", path, err)
	}

	return summary, nil
}
