package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(runsTotal.WithLabelValues(StatusSuccess, "parametric"))
	ObserveRun("parametric", StatusSuccess, 250*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(runsTotal.WithLabelValues(StatusSuccess, "parametric")))

	AddReplicates("resample", 10, 3)
	assert.GreaterOrEqual(t, testutil.ToFloat64(replicatesTotal.WithLabelValues("resample")), 10.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(singularReplicatesTotal.WithLabelValues("resample")), 3.0)

	hits := testutil.ToFloat64(cacheLookups.WithLabelValues("hit"))
	CacheLookup(true)
	CacheLookup(false)
	assert.Equal(t, hits+1, testutil.ToFloat64(cacheLookups.WithLabelValues("hit")))

	IntervalRequested()
	assert.GreaterOrEqual(t, testutil.ToFloat64(intervalRequests), 1.0)
}
