package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersIncrement(t *testing.T) {
	m := NewMetrics()

	m.SagaCompleted("FINALIZED")
	m.SagaCompleted("FINALIZED")
	m.SagaCompleted("FAILED")
	m.LendingActivated()
	m.ConflictRetried("lending.mark_book_valid")
	m.ResolveAttempt("book", false)
	m.ResolveAttempt("book", true)
	m.CorrelationExpired("READER")
	m.MessageHandled("book.created", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sagaCompleted.WithLabelValues("FINALIZED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sagaCompleted.WithLabelValues("FAILED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lendingActivated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflictRetried.WithLabelValues("lending.mark_book_valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolveAttempts.WithLabelValues("book", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.correlationExpired.WithLabelValues("READER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesHandled.WithLabelValues("book.created", "ok")))
}

func TestMetrics_HandlerExposesRegistry(t *testing.T) {
	m := NewMetrics()
	m.LendingActivated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "librarian_lendings_activated_total 1")
}
