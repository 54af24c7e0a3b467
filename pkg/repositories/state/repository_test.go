package state

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"mytonstorage-dashboard/pkg/models"
	"mytonstorage-dashboard/pkg/models/db"
)

func newMemRepository(t *testing.T) Repository {
	t.Helper()

	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ldb.Close() })

	return NewLevelRepository(ldb)
}

func TestLevelRepositoryRoundTrip(t *testing.T) {
	repo := newMemRepository(t)
	ctx := context.Background()

	_, err := repo.GetState(ctx, "default")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, repo.SaveState(ctx, db.StateRecord{Profile: "default", Version: 1, Blob: []byte(`{"page":"upload"}`)}))
	require.NoError(t, repo.SaveState(ctx, db.StateRecord{Profile: "other", Version: 1, Blob: []byte(`{}`)}))

	rec, err := repo.GetState(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
	assert.JSONEq(t, `{"page":"upload"}`, string(rec.Blob))
	assert.NotZero(t, rec.UpdatedAt)

	require.NoError(t, repo.SaveState(ctx, db.StateRecord{Profile: "default", Version: 2, Blob: []byte(`{}`)}))
	rec, err = repo.GetState(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)
}

func TestMetricsLabelsErrors(t *testing.T) {
	count := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "state_requests_total"}, []string{"method", "error"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "state_request_seconds"}, []string{"method", "error"})
	repo := NewMetrics(count, duration, newMemRepository(t))

	_, _ = repo.GetState(context.Background(), "missing")
	require.NoError(t, repo.SaveState(context.Background(), db.StateRecord{Profile: "p", Version: 1}))

	assert.Equal(t, float64(1), testutil.ToFloat64(count.WithLabelValues("GetState", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(count.WithLabelValues("SaveState", "false")))
}
