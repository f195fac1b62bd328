package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.QuotaRejections.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.QuotaRejections))
}

func TestRecordStorageOp(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordStorageOp("save", 0.01, nil)
	m.RecordStorageOp("save", 0.02, errors.New("disk full"))
	m.RecordStorageOp("load", 0.01, nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.StorageOperations.WithLabelValues("save", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StorageOperations.WithLabelValues("save", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StorageOperations.WithLabelValues("load", "ok")))
}

func TestRecordPurgeRun(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordPurgeRun(1.5, 3, 4096)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PurgeRuns))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.PurgedMessages))
	assert.Equal(t, float64(4096), testutil.ToFloat64(m.PurgedBytes))
}
