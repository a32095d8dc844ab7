package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"booktrak/pkg/domain"
	"booktrak/pkg/store"
)

// Sort filters shared by the report and browse listings.
const (
	FilterMostIssued  = "most_issued"
	FilterLeastIssued = "least_issued"
	FilterAuthor      = "author"

	DefaultFilter = FilterMostIssued
)

const (
	maxTitleLen    = 200
	maxAuthorLen   = 100
	maxISBNLen     = 13
	maxCoverURLLen = 200
	priceDigits    = 10
	pricePlaces    = 2
)

var maxPrice = decimal.New(1, priceDigits-pricePlaces)

// BookInput carries every editable book field.
type BookInput struct {
	Title         string
	Author        string
	ISBN          string
	Price         decimal.Decimal
	CoverImageURL *string
}

// BookPatch carries the fields present in a partial update.
type BookPatch struct {
	Title  *string
	Author *string
	ISBN   *string
	Price  *decimal.Decimal
	// CoverImageURLSet distinguishes an explicit null from an absent field.
	CoverImageURLSet bool
	CoverImageURL    *string
}

// CreateBook validates and stores a new book with a zero issue count.
func (a *App) CreateBook(ctx context.Context, in BookInput) (domain.Book, error) {
	book := domain.Book{
		Title:         strings.TrimSpace(in.Title),
		Author:        strings.TrimSpace(in.Author),
		ISBN:          strings.TrimSpace(in.ISBN),
		Price:         in.Price,
		CoverImageURL: normalizeURL(in.CoverImageURL),
	}
	if err := a.validateBook(ctx, book); err != nil {
		return domain.Book{}, err
	}
	book.Price = book.Price.Round(pricePlaces)
	if err := a.store.CreateBook(ctx, &book); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Book{}, isbnTakenError()
		}
		return domain.Book{}, fmt.Errorf("create book: %w", err)
	}
	return book, nil
}

// ListBooks returns the catalog in id order.
func (a *App) ListBooks(ctx context.Context) ([]domain.Book, error) {
	books, err := a.store.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// GetBook returns a book or ErrBookNotFound.
func (a *App) GetBook(ctx context.Context, id int64) (domain.Book, error) {
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// ReplaceBook overwrites every editable field of a book.
func (a *App) ReplaceBook(ctx context.Context, id int64, in BookInput) (domain.Book, error) {
	return a.UpdateBook(ctx, id, BookPatch{
		Title:            &in.Title,
		Author:           &in.Author,
		ISBN:             &in.ISBN,
		Price:            &in.Price,
		CoverImageURLSet: true,
		CoverImageURL:    in.CoverImageURL,
	})
}

// UpdateBook applies patch to the book and re-validates the result. The
// issue counter is never touched.
func (a *App) UpdateBook(ctx context.Context, id int64, patch BookPatch) (domain.Book, error) {
	book, err := a.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, err
	}
	if patch.Title != nil {
		book.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Author != nil {
		book.Author = strings.TrimSpace(*patch.Author)
	}
	if patch.ISBN != nil {
		book.ISBN = strings.TrimSpace(*patch.ISBN)
	}
	if patch.Price != nil {
		book.Price = *patch.Price
	}
	if patch.CoverImageURLSet {
		book.CoverImageURL = normalizeURL(patch.CoverImageURL)
	}
	if err := a.validateBook(ctx, book); err != nil {
		return domain.Book{}, err
	}
	book.Price = book.Price.Round(pricePlaces)
	if err := a.store.UpdateBook(ctx, book); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return domain.Book{}, isbnTakenError()
		case isNotFound(err):
			return domain.Book{}, ErrBookNotFound
		}
		return domain.Book{}, fmt.Errorf("update book: %w", err)
	}
	return a.GetBook(ctx, id)
}

// DeleteBook removes a book. Ids left in carts or saved lists are not
// cleaned up; checkout reports them as missing books.
func (a *App) DeleteBook(ctx context.Context, id int64) error {
	if err := a.store.DeleteBook(ctx, id); err != nil {
		if isNotFound(err) {
			return ErrBookNotFound
		}
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}

// Report lists every book ordered by filter. Author ties go to the most
// issued book. Unknown filters keep id order.
func (a *App) Report(ctx context.Context, filter string) ([]domain.Book, error) {
	books, err := a.ListBooks(ctx)
	if err != nil {
		return nil, err
	}
	sortBooks(books, filter, func(x, y domain.Book) int {
		return cmp.Compare(y.TimesIssued, x.TimesIssued)
	})
	return books, nil
}

// sortBooks orders books in place. authorTie breaks ties between equal
// authors; the sort is stable so remaining ties keep id order.
func sortBooks(books []domain.Book, filter string, authorTie func(x, y domain.Book) int) {
	switch filter {
	case FilterMostIssued:
		slices.SortStableFunc(books, func(x, y domain.Book) int {
			return cmp.Compare(y.TimesIssued, x.TimesIssued)
		})
	case FilterLeastIssued:
		slices.SortStableFunc(books, func(x, y domain.Book) int {
			return cmp.Compare(x.TimesIssued, y.TimesIssued)
		})
	case FilterAuthor:
		slices.SortStableFunc(books, func(x, y domain.Book) int {
			if c := strings.Compare(x.Author, y.Author); c != 0 {
				return c
			}
			return authorTie(x, y)
		})
	}
}

func (a *App) validateBook(ctx context.Context, b domain.Book) error {
	fields := FieldErrors{}
	checkText(fields, "title", b.Title, maxTitleLen)
	checkText(fields, "author", b.Author, maxAuthorLen)
	checkText(fields, "isbn", b.ISBN, maxISBNLen)
	checkPrice(fields, b.Price)
	if b.CoverImageURL != nil {
		if utf8.RuneCountInString(*b.CoverImageURL) > maxCoverURLLen {
			fields.Add("cover_image_url", maxLenMessage(maxCoverURLLen))
		} else if !isAbsoluteURL(*b.CoverImageURL) {
			fields.Add("cover_image_url", "Enter a valid URL.")
		}
	}
	if b.ISBN != "" {
		taken, err := a.store.HasISBN(ctx, b.ISBN, b.ID)
		if err != nil {
			return fmt.Errorf("check isbn: %w", err)
		}
		if taken {
			fields.Add("isbn", msgISBNTaken)
		}
	}
	return fields.Err()
}

const msgISBNTaken = "book with this isbn already exists."

func isbnTakenError() error {
	return fieldError("isbn", msgISBNTaken)
}

func checkText(fields FieldErrors, name, value string, limit int) {
	switch {
	case value == "":
		fields.Add(name, "This field may not be blank.")
	case utf8.RuneCountInString(value) > limit:
		fields.Add(name, maxLenMessage(limit))
	}
}

func maxLenMessage(limit int) string {
	return fmt.Sprintf("Ensure this field has no more than %d characters.", limit)
}

func checkPrice(fields FieldErrors, price decimal.Decimal) {
	switch {
	case price.IsNegative():
		fields.Add("price", "Ensure this value is greater than or equal to 0.")
	case !price.Equal(price.Round(pricePlaces)):
		fields.Add("price", fmt.Sprintf("Ensure that there are no more than %d decimal places.", pricePlaces))
	case price.GreaterThanOrEqual(maxPrice):
		fields.Add("price", fmt.Sprintf("Ensure that there are no more than %d digits in total.", priceDigits))
	}
}

func normalizeURL(raw *string) *string {
	if raw == nil {
		return nil
	}
	v := strings.TrimSpace(*raw)
	if v == "" {
		return nil
	}
	return &v
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "ftp" || u.Scheme == "ftps") && u.Host != ""
}
