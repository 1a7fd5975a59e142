package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/mote-simulator/internal/app/hiddenterminal"
	"github.com/signalsfoundry/mote-simulator/internal/config"
	"github.com/signalsfoundry/mote-simulator/internal/driver"
	"github.com/signalsfoundry/mote-simulator/internal/logging"
	"github.com/signalsfoundry/mote-simulator/internal/observability"
	"github.com/signalsfoundry/mote-simulator/internal/report"
	"github.com/signalsfoundry/mote-simulator/internal/sim/engine"
	"github.com/signalsfoundry/mote-simulator/kb"
	"github.com/signalsfoundry/mote-simulator/timectrl"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var cfgFile string
	v := config.New()

	cmd := &cobra.Command{
		Use:   "simulator",
		Short: "Run the six-node hidden-terminal WSN simulation",
		Long: `simulator boots a small wireless sensor network, registers the radio
topology and noise trace, and runs it for a fixed simulated horizon.
Every setting has a default, so no flag is required.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.NewFromEnv()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			s, err := config.Load(v, cfgFile)
			if err != nil {
				log.Error(ctx, "invalid configuration", logging.Err(err))
				return err
			}
			if err := run(logging.ContextWithLogger(ctx, log), s, out); err != nil {
				log.Error(ctx, "simulation failed", logging.Err(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "YAML scenario file")
	config.RegisterFlags(cmd.Flags())
	cobra.CheckErr(config.BindFlags(v, cmd.Flags()))
	cmd.SetOut(out)
	return cmd
}

// run executes one simulation with the resolved scenario. The logger is
// taken from ctx.
func run(ctx context.Context, s config.Scenario, out io.Writer) error {
	log := logging.LoggerFromContext(ctx)
	ctx, log = logging.WithRunLogger(ctx, log)
	runID := logging.RunIDFromContext(ctx)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv().ForRun(runID, s.Seed, s.Topology), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if s.MetricsAddr != "" {
		srv := serveMetrics(s.MetricsAddr, collector, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	opts := []engine.Option{
		engine.WithSeed(s.Seed),
		engine.WithLogger(log),
		engine.WithMetrics(collector),
		engine.WithIdleStep(s.IdleStep()),
	}
	var apps *hiddenterminal.Set
	appCfg := s.AppConfig()
	if s.App.Enabled {
		var factory engine.AppFactory
		factory, apps = hiddenterminal.Factory(appCfg)
		opts = append(opts, engine.WithApplication(factory))
	}
	if s.Realtime {
		opts = append(opts, engine.WithPacer(timectrl.NewPacer(timectrl.RealTime, 0)))
	}
	eng := engine.New(opts...)
	unsubscribe := eng.Registry().Subscribe(func(ev kb.Event) {
		log.Debug(ctx, "node lifecycle",
			logging.String("event", ev.Type.String()),
			logging.Int("node", int(ev.NodeID)),
			logging.Float64("at_s", timectrl.Seconds(ev.At)),
		)
	})
	defer unsubscribe()

	log.Info(ctx, "starting simulation",
		logging.Int("nodes", s.Nodes),
		logging.String("topology", s.Topology),
		logging.String("noise", s.Noise),
		logging.Float64("horizon_s", s.HorizonSeconds),
		logging.Int64("seed", int64(s.Seed)),
	)

	started := time.Now()
	d := driver.New(driver.ForEngine(eng), s.DriverConfig(),
		driver.WithOutput(out),
		driver.WithLogger(log),
		driver.WithRecorder(collector),
	)
	res, err := d.Run(ctx)
	wall := time.Since(started)
	if err != nil {
		return err
	}
	collector.ObserveRun(wall)

	stats := eng.Stats()
	log.Info(ctx, "run statistics",
		logging.Int("events", stats.EventsProcessed),
		logging.Int("frames_sent", stats.FramesSent),
		logging.Int("frames_delivered", stats.FramesDelivered),
		logging.Int("frames_collided", stats.FramesCollided),
		logging.String("wall", wall.Round(time.Millisecond).String()),
	)

	if s.Report == "" {
		return nil
	}
	sum := report.New(runID, started, wall, s, res, eng)
	if apps != nil {
		sum = sum.WithApplication(apps, apps.Get(appCfg.BaseStation))
	}
	if err := report.WriteFile(s.Report, sum); err != nil {
		return err
	}
	log.Info(ctx, "run summary written", logging.String("path", s.Report))
	return nil
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
