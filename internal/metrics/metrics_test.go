package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIncWebhookVerification(t *testing.T) {
	before := testutil.ToFloat64(WebhookVerificationsTotal.WithLabelValues("stale"))
	IncWebhookVerification("stale")
	IncWebhookVerification("stale")
	assert.Equal(t, before+2, testutil.ToFloat64(WebhookVerificationsTotal.WithLabelValues("stale")))
}

func TestSetLastSync(t *testing.T) {
	ts := time.Unix(1_760_000_000, 0)
	SetLastSync("flows", ts)
	assert.Equal(t, float64(ts.Unix()), testutil.ToFloat64(LastSyncTimestamp.WithLabelValues("flows")))
}

func TestObserveDuration_IgnoresCounters(t *testing.T) {
	assert.NotPanics(t, func() {
		ObserveDuration(QuakeRequestsTotal, time.Now(), "contacts.list", "GET", "200")
		ObserveDuration(QuakeRequestDuration, time.Now(), "contacts.list", "GET")
	})
}
