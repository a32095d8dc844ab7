package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"booktrak/pkg/domain"
	"booktrak/pkg/store"
)

// Checkout issues the requested cart entries in one transaction and returns
// the bill. Each requested id consumes one cart unit and one issue; any
// failure leaves the cart and every issue counter unchanged.
func (a *App) Checkout(ctx context.Context, userID int64, bookIDs []int64) (domain.BillSummary, error) {
	if len(bookIDs) == 0 {
		return domain.BillSummary{}, fieldError("books_to_issue", msgNothingToIssue)
	}

	issueDate := truncateToDay(a.now())
	bill := domain.BillSummary{
		IssueDate:   issueDate,
		ReturnDate:  issueDate.AddDate(0, 0, int(a.loanPeriod/(24*time.Hour))),
		TotalAmount: decimal.Zero,
		BooksIssued: make([]domain.IssuedBook, 0, len(bookIDs)),
	}

	err := a.store.Transaction(ctx, func(tx store.Store) error {
		profile, ok, err := tx.GetProfileForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("fetch profile: %w", err)
		}
		if !ok {
			profile = domain.NewProfile(userID, domain.UserTypeCustomer)
		}
		if missing := profile.MissingFromCart(bookIDs); len(missing) > 0 {
			return missingFromCartError(missing)
		}

		for _, id := range bookIDs {
			// Membership passed above, so a miss here means the request
			// repeats an id more often than the cart holds it.
			if !profile.RemoveFromCart(id) {
				return missingFromCartError([]int64{id})
			}
			book, err := tx.IncrementTimesIssued(ctx, id)
			if err != nil {
				if isNotFound(err) {
					return fieldError("books_to_issue", msgBookDoesNotExist)
				}
				return fmt.Errorf("issue book %d: %w", id, err)
			}
			bill.BooksIssued = append(bill.BooksIssued, domain.IssuedBook{
				Title:  book.Title,
				Author: book.Author,
				Price:  book.Price,
			})
			bill.TotalAmount = bill.TotalAmount.Add(book.Price)
		}

		if err := tx.SaveProfile(ctx, &profile); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.BillSummary{}, err
	}
	bill.TotalBooksIssued = len(bill.BooksIssued)
	return bill, nil
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
