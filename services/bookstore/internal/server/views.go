package server

import (
	"encoding/json"

	"booktrak/pkg/domain"
)

const dateLayout = "2006-01-02"

type librarianBookView struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	ISBN          string  `json:"isbn"`
	Price         string  `json:"price"`
	CoverImageURL *string `json:"cover_image_url"`
	TimesIssued   int64   `json:"times_issued"`
}

func librarianBook(b domain.Book) librarianBookView {
	return librarianBookView{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		ISBN:          b.ISBN,
		Price:         b.Price.StringFixed(2),
		CoverImageURL: b.CoverImageURL,
		TimesIssued:   b.TimesIssued,
	}
}

// customerBookView withholds the isbn.
type customerBookView struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	Price         string  `json:"price"`
	CoverImageURL *string `json:"cover_image_url"`
	TimesIssued   int64   `json:"times_issued"`
}

func customerBooks(books []domain.Book) []customerBookView {
	out := make([]customerBookView, 0, len(books))
	for _, b := range books {
		out = append(out, customerBookView{
			ID:            b.ID,
			Title:         b.Title,
			Author:        b.Author,
			Price:         b.Price.StringFixed(2),
			CoverImageURL: b.CoverImageURL,
			TimesIssued:   b.TimesIssued,
		})
	}
	return out
}

type reportEntryView struct {
	BookID      int64  `json:"book_id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	TotalIssues int64  `json:"total_issues"`
}

type reportView struct {
	FilterApplied string            `json:"filter_applied"`
	TotalBooks    int               `json:"total_books"`
	Report        []reportEntryView `json:"report"`
}

func report(filter string, books []domain.Book) reportView {
	entries := make([]reportEntryView, 0, len(books))
	for _, b := range books {
		entries = append(entries, reportEntryView{
			BookID:      b.ID,
			Title:       b.Title,
			Author:      b.Author,
			TotalIssues: b.TimesIssued,
		})
	}
	return reportView{FilterApplied: filter, TotalBooks: len(books), Report: entries}
}

type issuedBookView struct {
	Title  string      `json:"title"`
	Author string      `json:"author"`
	Price  json.Number `json:"price"`
}

type billView struct {
	TotalBooksIssued int              `json:"total_books_issued"`
	TotalAmount      json.Number      `json:"total_amount"`
	IssueDate        string           `json:"issue_date"`
	ReturnDate       string           `json:"return_date"`
	BooksIssued      []issuedBookView `json:"books_issued"`
}

// bill renders money as JSON numbers with two decimals.
func bill(summary domain.BillSummary) billView {
	issued := make([]issuedBookView, 0, len(summary.BooksIssued))
	for _, b := range summary.BooksIssued {
		issued = append(issued, issuedBookView{
			Title:  b.Title,
			Author: b.Author,
			Price:  json.Number(b.Price.StringFixed(2)),
		})
	}
	return billView{
		TotalBooksIssued: summary.TotalBooksIssued,
		TotalAmount:      json.Number(summary.TotalAmount.StringFixed(2)),
		IssueDate:        summary.IssueDate.Format(dateLayout),
		ReturnDate:       summary.ReturnDate.Format(dateLayout),
		BooksIssued:      issued,
	}
}
