package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

type LendingStatus string

const (
	LendingPendent   LendingStatus = "PENDENT"
	LendingValidated LendingStatus = "VALIDATED"
	LendingDelivered LendingStatus = "DELIVERED"
)

const (
	MaxCommentLength = 1024
	MinGrade         = 0
	MaxGrade         = 10
)

// LendingNumber is the composite natural key of a lending, printed YYYY/N.
type LendingNumber struct {
	Year     int
	Sequence int
}

func NewLendingNumber(year, sequence int) (LendingNumber, error) {
	if year < 1970 {
		return LendingNumber{}, NewValidationFailedError(fmt.Sprintf("invalid lending year %d", year))
	}
	if sequence < 1 {
		return LendingNumber{}, NewValidationFailedError(fmt.Sprintf("invalid lending sequence %d", sequence))
	}
	return LendingNumber{Year: year, Sequence: sequence}, nil
}

// ParseLendingNumber parses the YYYY/N form.
func ParseLendingNumber(s string) (LendingNumber, error) {
	yearPart, seqPart, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return LendingNumber{}, NewValidationFailedError(fmt.Sprintf("malformed lending number %q", s))
	}
	year, err := strconv.Atoi(yearPart)
	if err != nil {
		return LendingNumber{}, NewValidationFailedError(fmt.Sprintf("malformed lending year in %q", s))
	}
	seq, err := strconv.Atoi(seqPart)
	if err != nil {
		return LendingNumber{}, NewValidationFailedError(fmt.Sprintf("malformed lending sequence in %q", s))
	}
	return NewLendingNumber(year, seq)
}

func (n LendingNumber) String() string {
	return fmt.Sprintf("%d/%d", n.Year, n.Sequence)
}

type Lending struct {
	Number       LendingNumber
	BookISBN     string
	ReaderNumber string
	StartDate    time.Time
	LimitDate    time.Time
	ReturnedDate *time.Time
	Comment      *string
	Grade        *int

	BookValid   bool
	ReaderValid bool
	Status      LendingStatus

	// ValidatedAt is set by the save that activated the lending.
	// ActivationEmitted flips once lending.activated was published for it.
	ValidatedAt       *time.Time
	ActivationEmitted bool

	Version int
}

func NewLending(number LendingNumber, isbn, readerNumber string, start, limit time.Time) (*Lending, error) {
	if isbn == "" {
		return nil, NewMissingRequiredFieldError("book isbn")
	}
	if readerNumber == "" {
		return nil, NewMissingRequiredFieldError("reader number")
	}
	if limit.Before(start) {
		return nil, NewValidationFailedError("limit date precedes start date")
	}

	return &Lending{
		Number:       number,
		BookISBN:     isbn,
		ReaderNumber: readerNumber,
		StartDate:    start,
		LimitDate:    limit,
		Status:       LendingPendent,
	}, nil
}

// MarkBookValid records the book validation. The returned flag is true only
// for the call that moved the lending from PENDENT to VALIDATED.
func (l *Lending) MarkBookValid() (changed, activated bool) {
	if l.BookValid {
		return false, false
	}
	l.BookValid = true
	return true, l.tryActivate()
}

// MarkReaderValid is the reader-side counterpart of MarkBookValid.
func (l *Lending) MarkReaderValid() (changed, activated bool) {
	if l.ReaderValid {
		return false, false
	}
	l.ReaderValid = true
	return true, l.tryActivate()
}

func (l *Lending) tryActivate() bool {
	if l.Status != LendingPendent || !l.BookValid || !l.ReaderValid {
		return false
	}
	l.Status = LendingValidated
	return true
}

// MarkReturned records the return of the book. Calling it again on a
// delivered lending overwrites the returned date, comment and grade.
func (l *Lending) MarkReturned(returnedAt time.Time, comment *string, grade *int) error {
	if l.Status == LendingPendent {
		return NewInvalidTransitionError(string(l.Status), string(LendingDelivered))
	}
	if comment != nil && utf8.RuneCountInString(*comment) > MaxCommentLength {
		return NewValidationFailedError(fmt.Sprintf("comment exceeds %d characters", MaxCommentLength))
	}
	if grade != nil && (*grade < MinGrade || *grade > MaxGrade) {
		return NewValidationFailedError(fmt.Sprintf("grade must be between %d and %d", MinGrade, MaxGrade))
	}

	l.ReturnedDate = &returnedAt
	l.Comment = comment
	l.Grade = grade
	l.Status = LendingDelivered
	return nil
}

// AwaitsActivationEvent reports whether the lending was activated but its
// lending.activated event has not been confirmed as published.
func (l *Lending) AwaitsActivationEvent() bool {
	return l.ValidatedAt != nil && !l.ActivationEmitted
}

// MarkActivationEmitted records the publication of lending.activated and
// reports whether anything changed.
func (l *Lending) MarkActivationEmitted() bool {
	if !l.AwaitsActivationEvent() {
		return false
	}
	l.ActivationEmitted = true
	return true
}

// IsOutstanding reports whether the book has not been returned yet.
func (l *Lending) IsOutstanding() bool {
	return l.ReturnedDate == nil
}

// ReturnedLate reports whether the book came back after its limit date.
func (l *Lending) ReturnedLate() bool {
	return l.ReturnedDate != nil && l.ReturnedDate.After(l.LimitDate)
}

func (l *Lending) Clone() *Lending {
	c := *l
	if l.ValidatedAt != nil {
		v := *l.ValidatedAt
		c.ValidatedAt = &v
	}
	if l.ReturnedDate != nil {
		d := *l.ReturnedDate
		c.ReturnedDate = &d
	}
	if l.Comment != nil {
		s := *l.Comment
		c.Comment = &s
	}
	if l.Grade != nil {
		g := *l.Grade
		c.Grade = &g
	}
	return &c
}
