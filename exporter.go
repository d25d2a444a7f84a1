package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	plog "github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ompt_exporter/internal/config"
	"ompt_exporter/internal/engine"
	"ompt_exporter/internal/engine/promengine"
	"ompt_exporter/internal/engine/traceengine"
	"ompt_exporter/internal/simrt"
	"ompt_exporter/internal/tool"
)

// OMPTExporter wires the tool adapter, its engines and the metrics server
// to one simulated runtime run.
type OMPTExporter struct {
	config     *config.AppConfig
	tool       *tool.Tool
	metrics    *promengine.Engine
	trace      *traceengine.Engine
	runtime    *simrt.Runtime
	workload   simrt.Workload
	registry   *prometheus.Registry
	httpServer *http.Server
	log        plog.Logger
}

// adapterCollector forwards to the tool's stats collector once a runtime
// has attached. It describes nothing, which makes it an unchecked
// collector.
type adapterCollector struct {
	tool *tool.Tool
}

func (c adapterCollector) Describe(chan<- *prometheus.Desc) {}

func (c adapterCollector) Collect(ch chan<- prometheus.Metric) {
	if sc := c.tool.Collector(); sc != nil {
		sc.Collect(ch)
	}
}

// NewOMPTExporter creates the engines, the tool and the runtime.
func NewOMPTExporter(config *config.AppConfig) (*OMPTExporter, error) {
	e := &OMPTExporter{
		config: config,
		log:    plog.DefaultLogger, // main app uses default logger
	}

	w, err := simrt.LookupWorkload(config.Workload.Name)
	if err != nil {
		return nil, err
	}
	e.workload = w

	e.log.Info().
		Str("version", version).
		Str("workload", w.Name).
		Bool("server", config.Server.Enabled).
		Bool("trace", config.Trace.Enabled).
		Msg("Starting OMPT Exporter")

	e.setupEngines()

	e.runtime, err = simrt.New(simrt.Config{
		Threads:         config.Workload.Threads,
		RejectCallbacks: config.Workload.RejectCallbacks,
	}, e.tool.StartTool)
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime: %w", err)
	}

	e.registry = prometheus.NewRegistry()
	e.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		e.metrics,
		adapterCollector{tool: e.tool},
	)
	e.log.Debug().Msg("- Collectors registered")

	if config.Server.Enabled {
		e.setupHTTPServer()
	}
	return e, nil
}

// setupEngines builds the Prometheus engine and, when enabled, the trace
// file engine behind one fan-out.
func (e *OMPTExporter) setupEngines() {
	e.metrics = promengine.New()
	engines := []engine.Engine{e.metrics}

	if e.config.Trace.Enabled {
		e.trace = traceengine.New(traceengine.Config{
			Path:      e.config.Trace.Path,
			MaxEvents: e.config.Trace.MaxEvents,
		})
		engines = append(engines, e.trace)
		e.log.Debug().Str("trace_id", e.trace.TraceID()).Msg("- Trace engine created")
	}

	var eng engine.Engine = e.metrics
	if len(engines) > 1 {
		eng = engine.NewMulti(engines...)
	}
	e.tool = tool.New(e.config.Adapter, eng)
	e.log.Debug().Int("engines", len(engines)).Msg("- Tool created")
}

// setupHTTPServer configures the HTTP server for metrics and pprof.
func (e *OMPTExporter) setupHTTPServer() {
	e.log.Debug().Str("metrics_path", e.config.Server.MetricsPath).Msg("Setting up HTTP handlers")
	mux := http.NewServeMux()
	mux.Handle(e.config.Server.MetricsPath, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>
            <head><title>OMPT Exporter</title></head>
            <body>
            <h1>OMPT Exporter v` + version + ` </h1>
            <p><a href="` + e.config.Server.MetricsPath + `">Metrics</a></p>
            </body>
            </html>`))
	})
	if e.config.Server.PprofEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	e.httpServer = &http.Server{
		Addr:              e.config.Server.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Run serves metrics, runs the workload and waits for it to finish, or
// for ctx to end. With Linger set it keeps serving after the workload
// until ctx ends.
func (e *OMPTExporter) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if e.httpServer != nil {
		go func() {
			// Recover from panics in this goroutine to trigger a graceful shutdown.
			defer func() {
				if r := recover(); r != nil {
					e.log.Error().Interface("panic", r).Msg("Panic recovered in HTTP server, initiating shutdown")
					stop()
				}
			}()
			e.log.Info().Str("address", e.config.Server.ListenAddress).Msg("Starting HTTP server")
			if err := e.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.log.Error().Err(err).Msg("Failed to start HTTP server")
				stop() // Trigger shutdown on server error
			}
		}()
	}

	params := simrt.Params{
		Threads:    e.config.Workload.Threads,
		Iterations: e.config.Workload.Iterations,
		Size:       e.config.Workload.Size,
	}
	done := make(chan error, 1)
	started := time.Now()
	go func() {
		done <- e.runtime.Run(func(th *simrt.Thread) {
			result := e.workload.Run(th, params)
			e.log.Info().Str("workload", e.workload.Name).Float64("result", result).Msg("Workload finished")
		})
	}()

	var runErr error
	select {
	case runErr = <-done:
		e.log.Info().Dur("elapsed", time.Since(started)).Int("pool", e.runtime.PoolSize()).Msg("Runtime shut down")
		if err := e.tool.Shutdown(); err != nil {
			e.log.Error().Err(err).Msg("Tool shutdown failed")
		}
		if e.trace != nil {
			e.log.Info().Str("path", e.trace.Path()).Uint64("dropped", e.trace.Dropped()).Msg("Trace written")
		}
		if e.config.Server.Linger && e.httpServer != nil {
			e.log.Info().Msg("Workload done, serving metrics until interrupted")
			<-ctx.Done()
		}
	case <-ctx.Done():
		e.log.Info().Msg("! Shutdown initiated before the workload finished")
	}

	if e.httpServer != nil {
		httpCtx, cancelhttp := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelhttp()
		if err := e.httpServer.Shutdown(httpCtx); err != nil {
			e.log.Error().Err(err).Msg("Error shutting down HTTP server")
		} else {
			e.log.Debug().Msg("HTTP server shut down cleanly")
		}
	}

	return runErr
}

// Shutdown finalizes the tool and its engines. It runs from the exit
// handlers, so it also covers an interrupted workload.
func (e *OMPTExporter) Shutdown() {
	if err := e.tool.Shutdown(); err != nil {
		e.log.Error().Err(err).Msg("Tool shutdown failed")
	}
	e.log.Info().Msg("OMPT Exporter stopped")
}
