package app

import (
	"context"
	"strings"

	"booktrak/pkg/domain"
)

// ShelfResult reports the list size after a save or cart change.
type ShelfResult struct {
	Count     int
	BookTitle string
}

// Browse lists every book for customers. Author ties are broken by title.
func (a *App) Browse(ctx context.Context, filter string) ([]domain.Book, error) {
	books, err := a.ListBooks(ctx)
	if err != nil {
		return nil, err
	}
	sortBooks(books, filter, func(x, y domain.Book) int {
		return strings.Compare(x.Title, y.Title)
	})
	return books, nil
}

// SaveForLater bookmarks a book once per user.
func (a *App) SaveForLater(ctx context.Context, userID, bookID int64) (ShelfResult, error) {
	book, err := a.getBook(ctx, bookID)
	if err != nil {
		return ShelfResult{}, err
	}
	profile, err := a.updateProfile(ctx, userID, func(p *domain.UserProfile) error {
		if !p.SaveBook(bookID) {
			return ErrAlreadySaved
		}
		return nil
	})
	if err != nil {
		return ShelfResult{}, err
	}
	return ShelfResult{Count: len(profile.SavedBooks), BookTitle: book.Title}, nil
}

// AddToCart appends one unit of the book to the cart.
func (a *App) AddToCart(ctx context.Context, userID, bookID int64) (ShelfResult, error) {
	book, err := a.getBook(ctx, bookID)
	if err != nil {
		return ShelfResult{}, err
	}
	profile, err := a.updateProfile(ctx, userID, func(p *domain.UserProfile) error {
		p.AddToCart(bookID)
		return nil
	})
	if err != nil {
		return ShelfResult{}, err
	}
	return ShelfResult{Count: len(profile.CartItems), BookTitle: book.Title}, nil
}

// RemoveFromCart drops one unit of the book from the cart.
func (a *App) RemoveFromCart(ctx context.Context, userID, bookID int64) (ShelfResult, error) {
	book, err := a.getBook(ctx, bookID)
	if err != nil {
		return ShelfResult{}, err
	}
	profile, err := a.updateProfile(ctx, userID, func(p *domain.UserProfile) error {
		if !p.RemoveFromCart(bookID) {
			return ErrNotInCart
		}
		return nil
	})
	if err != nil {
		return ShelfResult{}, err
	}
	return ShelfResult{Count: len(profile.CartItems), BookTitle: book.Title}, nil
}
