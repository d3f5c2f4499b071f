package metrics

import (
	"net/http"
	"testing"
)

// These are lightweight sanity checks that the Record/Observe functions can
// be called without panicking, mirroring email-service/app/metrics's test
// style.

func TestRecordQueueCounters(t *testing.T) {
	RecordClaimed("outbox", 3)
	RecordAcked("outbox", 2)
	RecordFailed("outbox", 1)
	RecordAbandoned("outbox", 1)
	RecordReaped("outbox", 0)
	ObserveHandleDuration("orders.created", 0.05)
}

func TestRecordLeaseCounters(t *testing.T) {
	RecordLeaseAcquire(true)
	RecordLeaseAcquire(false)
	RecordLeaseRenewal(true)
	RecordLeaseRenewal(false)
	RecordLeaseReleased()
}

func TestRecordFanoutAndScheduler(t *testing.T) {
	RecordFanoutDispatch("reports")
	RecordJobRunMaterialized("nightly-rollup")
}

func TestHandler(t *testing.T) {
	h := Handler()
	if h == nil {
		t.Fatal("Handler returned nil")
	}
	if _, ok := h.(http.Handler); !ok {
		t.Fatal("Handler does not implement http.Handler")
	}
}
