package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/ports"
	"github.com/DanielPopoola/librarian/internal/testhelpers"
)

// foundOnAttempt returns a lookup that misses until its n-th call.
func foundOnAttempt(n int, calls *int) LookupFunc[*domain.Book] {
	return func(ctx context.Context, key string) (*domain.Book, bool, error) {
		*calls++
		if *calls < n {
			return nil, false, nil
		}
		return &domain.Book{ISBN: key}, true, nil
	}
}

func TestResolveWithRetry_FindsLateReplica(t *testing.T) {
	clock := testhelpers.NewFakeClock(testStart)
	calls := 0

	book, err := ResolveWithRetry(context.Background(), clock, NoopMetrics(), "book", "isbn-1",
		foundOnAttempt(3, &calls), RetryPolicy{MaxAttempts: 3, Interval: time.Second})

	require.NoError(t, err)
	assert.Equal(t, "isbn-1", book.ISBN)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2*time.Second, clock.Elapsed())
}

func TestResolveWithRetry_Exhausted(t *testing.T) {
	clock := testhelpers.NewFakeClock(testStart)
	calls := 0

	_, err := ResolveWithRetry(context.Background(), clock, NoopMetrics(), "book", "isbn-1",
		foundOnAttempt(100, &calls), RetryPolicy{MaxAttempts: 4, Interval: time.Second})

	var exhausted *domain.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 4, calls)
	assert.Len(t, clock.Sleeps(), 3, "no sleep after the final lookup")
}

func TestResolveWithRetry_LookupErrorStops(t *testing.T) {
	boom := errors.New("connection reset")
	calls := 0

	_, err := ResolveWithRetry(context.Background(), testhelpers.NewFakeClock(testStart), NoopMetrics(), "reader", "r-1",
		func(ctx context.Context, key string) (*domain.Reader, bool, error) {
			calls++
			return nil, false, boom
		}, RetryPolicy{MaxAttempts: 5, Interval: time.Second})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestResolveOrRequeue(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Interval: 5 * time.Second}
	missing := func(ctx context.Context, key string) (*domain.Book, bool, error) { return nil, false, nil }

	t.Run("found needs no requeue", func(t *testing.T) {
		pub := &recordingPublisher{}
		r := NewRequeuer(pub, NoopMetrics(), policy, testhelpers.Logger())
		calls := 0

		book, requeued, err := ResolveOrRequeue(context.Background(), r, ports.Message{Type: "t"}, "book", "isbn-1", foundOnAttempt(1, &calls))

		require.NoError(t, err)
		assert.False(t, requeued)
		assert.Equal(t, "isbn-1", book.ISBN)
		assert.Empty(t, pub.Delayed())
	})

	t.Run("miss schedules next attempt", func(t *testing.T) {
		pub := &recordingPublisher{}
		r := NewRequeuer(pub, NoopMetrics(), policy, testhelpers.Logger())
		msg := ports.Message{ID: "m-1", Type: domain.TypeLendingCreateRequested, Attempt: 0}

		_, requeued, err := ResolveOrRequeue(context.Background(), r, msg, "book", "isbn-1", missing)

		require.NoError(t, err)
		assert.True(t, requeued)
		delayed := pub.Delayed()
		require.Len(t, delayed, 1)
		assert.Equal(t, 1, delayed[0].Msg.Attempt)
		assert.Equal(t, map[string]int{"book": 1}, delayed[0].Msg.Lookups)
		assert.Equal(t, "m-1", delayed[0].Msg.ID)
		assert.Equal(t, 5*time.Second, delayed[0].Delay)
	})

	t.Run("last attempt is exhausted", func(t *testing.T) {
		pub := &recordingPublisher{}
		r := NewRequeuer(pub, NoopMetrics(), policy, testhelpers.Logger())

		_, requeued, err := ResolveOrRequeue(context.Background(), r, ports.Message{Attempt: 2, Lookups: map[string]int{"book": 2}}, "book", "isbn-1", missing)

		var exhausted *domain.ExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 3, exhausted.Attempts)
		assert.False(t, requeued)
		assert.Empty(t, pub.Delayed())
	})

	t.Run("budget is kept per entity", func(t *testing.T) {
		pub := &recordingPublisher{}
		r := NewRequeuer(pub, NoopMetrics(), policy, testhelpers.Logger())
		msg := ports.Message{ID: "m-1", Attempt: 2, Lookups: map[string]int{"book": 2}}

		_, requeued, err := ResolveOrRequeue(context.Background(), r, msg, "reader", "r-1", missing)

		require.NoError(t, err)
		assert.True(t, requeued)
		delayed := pub.Delayed()
		require.Len(t, delayed, 1)
		assert.Equal(t, 3, delayed[0].Msg.Attempt)
		assert.Equal(t, map[string]int{"book": 2, "reader": 1}, delayed[0].Msg.Lookups)
		assert.Equal(t, map[string]int{"book": 2}, msg.Lookups, "the delivered message is left untouched")
	})

	t.Run("requeue failure is returned", func(t *testing.T) {
		pub := &mockPublisher{}
		pub.On("PublishDelayed", mock.Anything, mock.Anything, 5*time.Second).Return(errors.New("broker down"))
		r := NewRequeuer(pub, NoopMetrics(), policy, testhelpers.Logger())

		_, requeued, err := ResolveOrRequeue(context.Background(), r, ports.Message{}, "book", "isbn-1", missing)

		assert.Error(t, err)
		assert.False(t, requeued)
		pub.AssertExpectations(t)
	})
}
