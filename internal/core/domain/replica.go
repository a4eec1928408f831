package domain

// Book is the lending service's local copy of a book owned by the books service.
type Book struct {
	ISBN    string
	Title   string
	Version int
}

func (b *Book) Clone() *Book {
	c := *b
	return &c
}

// Reader is the fully-formed reader as published once a signup finalizes.
type Reader struct {
	ReaderNumber string
	Name         string
	Email        string
	PhoneNumber  string
	Version      int
}

func (r *Reader) Clone() *Reader {
	c := *r
	return &c
}
