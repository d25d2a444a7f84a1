package engine_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ompt_exporter/internal/engine"
	"ompt_exporter/internal/engine/enginetest"
)

func TestMultiTranslatesHandles(t *testing.T) {
	a, b := enginetest.New(), enginetest.New()
	// Offset b's handle space so a mix-up would show.
	b.Start("warmup", 1, 0)

	m := engine.NewMulti(a, nil, b)
	require.Len(t, m.Engines(), 2)

	parent := m.Start("parent", 10, 0)
	child := m.Start("child", 11, parent)
	m.Yield(child)
	m.Resume(child)
	m.Stop(child)
	m.Stop(parent)
	m.SampleValue("flush", 1)

	for name, rec := range map[string]*enginetest.Recorder{"a": a, "b": b} {
		starts := rec.Filter(enginetest.OpStart)
		last := starts[len(starts)-1]
		assert.Equal(t, "child", last.Label, name)
		assert.Equal(t, starts[len(starts)-2].Handle, last.Parent, "%s: child parent must be that engine's parent handle", name)
		assert.Equal(t, 1, rec.Count(enginetest.OpYield), name)
		assert.Equal(t, 1, rec.Count(enginetest.OpResume), name)
		assert.Equal(t, 2, rec.Count(enginetest.OpStop), name)
		assert.Empty(t, rec.Errors(), name)
	}
	assert.Len(t, b.Open(), 1, "only b's warmup interval stays open")

	// Unknown handles are ignored.
	m.Stop(child)
	assert.Equal(t, 2, a.Count(enginetest.OpStop))
}

func TestMultiJoinsErrors(t *testing.T) {
	a, b := enginetest.New(), enginetest.New()
	a.InitErr = errors.New("no license")
	b.FinalizeErr = errors.New("disk full")
	m := engine.NewMulti(a, b)

	err := m.Init("prog", 0, 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, a.InitErr)
	assert.Equal(t, 1, b.Count(enginetest.OpInit), "init continues past a failing engine")

	err = m.Finalize()
	assert.ErrorIs(t, err, b.FinalizeErr)
}
