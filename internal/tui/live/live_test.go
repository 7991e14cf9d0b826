package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"crudstress/internal/runner"
)

func TestApply_ComputesRate(t *testing.T) {
	m := NewModel("mongo")
	t0 := m.LastUpdate

	m = m.Apply(runner.StatsSnapshot{Target: "mongo", Ops: 100, P99Ms: 4}, t0.Add(time.Second))
	m = m.Apply(runner.StatsSnapshot{Target: "mongo", Ops: 300, P99Ms: 6}, t0.Add(2*time.Second))

	assert.Equal(t, []float64{100, 200}, m.OpsLine.Data)
	assert.Equal(t, []float64{4, 6}, m.LatencyLine.Data)
	assert.Equal(t, int64(300), m.LastOps)
}

func TestView(t *testing.T) {
	m := NewModel("postgres").SetWidth(100)
	m = m.Apply(runner.StatsSnapshot{Ops: 200, Errors: 20, Inflight: 3, Planned: 400, Done: true}, time.Now())

	out := m.View()
	assert.Contains(t, out, "POSTGRES (done)")
	assert.Contains(t, out, "OPS: 200")
	assert.Contains(t, out, "ERR: 10.00%")
	assert.Equal(t, 46, m.OpsLine.Width)
}
