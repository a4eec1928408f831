package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLending(t *testing.T) *Lending {
	t.Helper()
	number, err := NewLendingNumber(2025, 7)
	require.NoError(t, err)
	start := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	l, err := NewLending(number, "978-0132350884", "2024/1", start, start.AddDate(0, 0, 15))
	require.NoError(t, err)
	return l
}

func TestLending_ActivationScenario(t *testing.T) {
	l := newTestLending(t)
	assert.Equal(t, LendingPendent, l.Status)

	changed, activated := l.MarkBookValid()
	assert.True(t, changed)
	assert.False(t, activated)
	assert.Equal(t, LendingPendent, l.Status)

	changed, activated = l.MarkReaderValid()
	assert.True(t, changed)
	assert.True(t, activated)
	assert.Equal(t, LendingValidated, l.Status)

	changed, activated = l.MarkBookValid()
	assert.False(t, changed)
	assert.False(t, activated)
	assert.Equal(t, LendingValidated, l.Status)
}

func TestLending_ReaderFirstActivates(t *testing.T) {
	l := newTestLending(t)

	_, activated := l.MarkReaderValid()
	assert.False(t, activated)
	_, activated = l.MarkBookValid()
	assert.True(t, activated)
	assert.Equal(t, LendingValidated, l.Status)
}

func TestLending_MarkReturned(t *testing.T) {
	l := newTestLending(t)
	returnedAt := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)

	err := l.MarkReturned(returnedAt, nil, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Nil(t, l.ReturnedDate)

	l.MarkBookValid()
	l.MarkReaderValid()

	comment := "great read"
	grade := 9
	require.NoError(t, l.MarkReturned(returnedAt, &comment, &grade))
	assert.Equal(t, LendingDelivered, l.Status)
	assert.Equal(t, returnedAt, *l.ReturnedDate)
	assert.False(t, l.IsOutstanding())

	later := returnedAt.Add(24 * time.Hour)
	require.NoError(t, l.MarkReturned(later, nil, nil))
	assert.Equal(t, later, *l.ReturnedDate)
	assert.Nil(t, l.Comment)
}

func TestLending_MarkReturnedValidatesInput(t *testing.T) {
	l := newTestLending(t)
	l.MarkBookValid()
	l.MarkReaderValid()

	long := strings.Repeat("x", MaxCommentLength+1)
	err := l.MarkReturned(time.Now(), &long, nil)
	require.ErrorIs(t, err, ErrValidationFailed)

	for _, g := range []int{-1, 11} {
		grade := g
		err := l.MarkReturned(time.Now(), nil, &grade)
		require.ErrorIs(t, err, ErrValidationFailed)
	}
	assert.Equal(t, LendingValidated, l.Status)
}

func TestLending_ReturnedLate(t *testing.T) {
	l := newTestLending(t)
	l.MarkBookValid()
	l.MarkReaderValid()
	assert.False(t, l.ReturnedLate(), "not returned yet")

	require.NoError(t, l.MarkReturned(l.LimitDate, nil, nil))
	assert.False(t, l.ReturnedLate())

	require.NoError(t, l.MarkReturned(l.LimitDate.Add(time.Hour), nil, nil))
	assert.True(t, l.ReturnedLate())
}

func TestLending_ActivationEmission(t *testing.T) {
	l := newTestLending(t)
	assert.False(t, l.AwaitsActivationEvent())
	assert.False(t, l.MarkActivationEmitted(), "nothing to emit before activation")

	validatedAt := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	l.ValidatedAt = &validatedAt
	assert.True(t, l.AwaitsActivationEvent())

	assert.True(t, l.MarkActivationEmitted())
	assert.False(t, l.AwaitsActivationEvent())
	assert.False(t, l.MarkActivationEmitted(), "second emission is a no-op")
}

func TestLending_CloneIsDeep(t *testing.T) {
	l := newTestLending(t)
	l.MarkBookValid()
	l.MarkReaderValid()
	comment := "ok"
	require.NoError(t, l.MarkReturned(time.Now(), &comment, nil))

	c := l.Clone()
	*c.Comment = "changed"
	assert.Equal(t, "ok", *l.Comment)
}

func TestParseLendingNumber(t *testing.T) {
	n, err := ParseLendingNumber("2025/7")
	require.NoError(t, err)
	assert.Equal(t, LendingNumber{Year: 2025, Sequence: 7}, n)
	assert.Equal(t, "2025/7", n.String())

	for _, bad := range []string{"", "2025", "abc/1", "2025/x", "1900/1", "2025/0"} {
		_, err := ParseLendingNumber(bad)
		assert.ErrorIs(t, err, ErrValidationFailed, bad)
	}
}

func TestNewLending_Validation(t *testing.T) {
	number := LendingNumber{Year: 2025, Sequence: 1}
	start := time.Now()

	_, err := NewLending(number, "", "2024/1", start, start)
	assert.True(t, IsErrorCode(err, ErrCodeMissingField))

	_, err = NewLending(number, "isbn", "", start, start)
	assert.True(t, IsErrorCode(err, ErrCodeMissingField))

	_, err = NewLending(number, "isbn", "2024/1", start, start.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrValidationFailed)
}
