package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ompt_exporter/internal/config"
	"ompt_exporter/internal/engine/enginetest"
	"ompt_exporter/internal/simrt"
	"ompt_exporter/internal/tool"
)

func TestApplyFlagsOnlyOverridesChanged(t *testing.T) {
	var f runFlags
	cmd := newRunCmd(&f)
	require.NoError(t, cmd.Flags().Parse([]string{"--workload", "fibonacci", "--threads", "2", "--trace.path", "out.json"}))

	cfg := config.DefaultConfig()
	applyFlags(cmd, &f, cfg)

	assert.Equal(t, "fibonacci", cfg.Workload.Name)
	assert.Equal(t, 2, cfg.Workload.Threads)
	assert.True(t, cfg.Trace.Enabled, "a trace path enables tracing")
	assert.Equal(t, "out.json", cfg.Trace.Path)
	assert.Equal(t, 3, cfg.Workload.Iterations, "unchanged flags keep the config value")
	assert.Equal(t, "localhost:9190", cfg.Server.ListenAddress)
}

func TestWorkloadsCommandListsAll(t *testing.T) {
	cmd := newWorkloadsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())

	for _, w := range simrt.Workloads() {
		assert.Contains(t, out.String(), w.Name)
	}
}

func TestGenerateConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.toml")
	cmd := newGenerateConfigCmd()
	cmd.SetArgs([]string{path})
	cmd.SetOut(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())

	_, err := os.Stat(path)
	require.NoError(t, err)
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Workload, cfg.Workload)
}

func TestAdapterCollectorBeforeAndAfterAttach(t *testing.T) {
	cfg := config.DefaultConfig().Adapter
	tl := tool.New(cfg, enginetest.New())
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(adapterCollector{tool: tl}))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing to report before a runtime attaches")

	rt, err := simrt.New(simrt.Config{Threads: 2}, tl.StartTool)
	require.NoError(t, err)
	require.NoError(t, rt.Run(func(th *simrt.Thread) { th.Parallel(0, func(*simrt.Thread) {}) }))

	n, err = testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestExporterRunsWorkloadWithoutServer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Enabled = false
	cfg.Trace.Enabled = true
	cfg.Trace.Path = filepath.Join(t.TempDir(), "trace.json")
	cfg.Workload = config.WorkloadConfig{Name: "matmult", Threads: 2, Iterations: 1, Size: 8}

	e, err := NewOMPTExporter(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Run(t.Context()))
	e.Shutdown()

	_, err = os.Stat(cfg.Trace.Path)
	assert.NoError(t, err)
	assert.Zero(t, e.metrics.Open())
}

func TestExporterUnknownWorkload(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Workload.Name = "nbody"
	_, err := NewOMPTExporter(cfg)
	assert.ErrorContains(t, err, "nbody")
}
