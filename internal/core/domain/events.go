package domain

import "time"

// Message types exchanged on the bus. The type doubles as the routing key.
const (
	TypeSignupRequested       = "signup.requested"
	TypeUserCreateRequested   = "signup.user-create-requested"
	TypeReaderCreateRequested = "signup.reader-create-requested"
	TypePartialAConfirmed     = "signup.user-confirmed"
	TypePartialBConfirmed     = "signup.reader-confirmed"
	TypeReaderCreated         = "reader.created"
	TypeBookCreated           = "book.created"

	TypeLendingCreateRequested = "lending.create-requested"
	TypeLendingActivated       = "lending.activated"
	TypeLendingReturnRequested = "lending.return-requested"
	TypeLendingReturned        = "lending.returned"

	TypeBookValidationRequested   = "validation.book-requested"
	TypeReaderValidationRequested = "validation.reader-requested"
	TypeValidationResponded       = "validation.responded"
)

// SignupRequested opens a signup saga for a new reader.
type SignupRequested struct {
	ReaderNumber string `json:"reader_number"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PhoneNumber  string `json:"phone_number,omitempty"`
}

type CreateUserRequested struct {
	ReaderNumber string `json:"reader_number"`
	Name         string `json:"name"`
	Email        string `json:"email"`
}

type CreateReaderRequested struct {
	ReaderNumber string `json:"reader_number"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PhoneNumber  string `json:"phone_number"`
}

type PartialAConfirmed struct {
	ReaderNumber string `json:"reader_number"`
}

// PartialBConfirmed carries the reader profile as the readers service stored
// it, so the local replica can be filled before the saga looks for it.
type PartialBConfirmed struct {
	ReaderNumber string `json:"reader_number"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
}

// ReaderCreated is emitted once per finalized signup.
type ReaderCreated struct {
	ReaderNumber string `json:"reader_number"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PhoneNumber  string `json:"phone_number"`
	Version      int    `json:"version"`
}

type BookCreated struct {
	ISBN    string `json:"isbn"`
	Title   string `json:"title"`
	Version int    `json:"version"`
}

type LendingCreateRequested struct {
	LendingNumber string    `json:"lending_number"`
	BookKey       string    `json:"book_key"`
	ReaderKey     string    `json:"reader_key"`
	StartDate     time.Time `json:"start_date"`
	LimitDate     time.Time `json:"limit_date"`
	Version       int       `json:"version"`
}

type LendingActivated struct {
	LendingNumber string    `json:"lending_number"`
	BookISBN      string    `json:"book_isbn"`
	ReaderNumber  string    `json:"reader_number"`
	StartDate     time.Time `json:"start_date"`
	LimitDate     time.Time `json:"limit_date"`
	Version       int       `json:"version"`
}

type LendingReturnRequested struct {
	LendingNumber string  `json:"lending_number"`
	Comment       *string `json:"comment,omitempty"`
	Grade         *int    `json:"grade,omitempty"`
}

type LendingReturned struct {
	LendingNumber string    `json:"lending_number"`
	BookISBN      string    `json:"book_isbn"`
	ReaderNumber  string    `json:"reader_number"`
	ReturnedDate  time.Time `json:"returned_date"`
	// Late is set when the book came back after its limit date.
	Late bool `json:"late"`
	Comment       *string   `json:"comment,omitempty"`
	Grade         *int      `json:"grade,omitempty"`
	Version       int       `json:"version"`
}

type ValidationRequest struct {
	CorrelationID string         `json:"correlation_id"`
	SubjectKey    string         `json:"subject_key"`
	Kind          ValidationKind `json:"kind"`
	EntityKey     string         `json:"entity_key"`
}

type ValidationResponse struct {
	CorrelationID string         `json:"correlation_id"`
	SubjectKey    string         `json:"subject_key"`
	Kind          ValidationKind `json:"kind"`
	Valid         bool           `json:"valid"`
	Message       string         `json:"message,omitempty"`
}
