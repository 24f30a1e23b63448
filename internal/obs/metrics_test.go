package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRecords(t *testing.T) {
	c := recordsTotal.WithLabelValues("sites", "synced")
	before := testutil.ToFloat64(c)

	ObserveRecords("sites", "synced", 3)

	assert.Equal(t, before+3, testutil.ToFloat64(c))
}

func TestObserveRecords_IgnoresNonPositive(t *testing.T) {
	c := recordsTotal.WithLabelValues("sites", "failed")
	before := testutil.ToFloat64(c)

	ObserveRecords("sites", "failed", 0)
	ObserveRecords("sites", "failed", -1)

	assert.Equal(t, before, testutil.ToFloat64(c))
}

func TestObservePass(t *testing.T) {
	success := passesTotal.WithLabelValues("success")
	failure := passesTotal.WithLabelValues("failure")
	successBefore := testutil.ToFloat64(success)
	failureBefore := testutil.ToFloat64(failure)

	ObservePass(true, 10*time.Millisecond)
	ObservePass(false, 10*time.Millisecond)
	ObservePass(false, 10*time.Millisecond)

	assert.Equal(t, successBefore+1, testutil.ToFloat64(success))
	assert.Equal(t, failureBefore+2, testutil.ToFloat64(failure))
}
