package server

import (
	"net/http"

	"booktrak/pkg/domain"
)

type bookIDRequest struct {
	BookID *int64 `json:"book_id" validate:"required"`
}

type checkoutRequest struct {
	BooksToIssue []int64 `json:"books_to_issue" validate:"required"`
}

type browseResponse struct {
	Filter     string             `json:"filter"`
	BooksCount int                `json:"books_count"`
	Books      []customerBookView `json:"books"`
}

type checkoutResponse struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	BillSummary billView `json:"bill_summary"`
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request, _ domain.User, _ domain.UserProfile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	filter := filterParam(r)
	books, err := s.app.Browse(r.Context(), filter)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, browseResponse{
		Filter:     filter,
		BooksCount: len(books),
		Books:      customerBooks(books),
	})
}

func (s *Server) handleSaveBook(w http.ResponseWriter, r *http.Request, user domain.User, _ domain.UserProfile) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req bookIDRequest
	if err := s.decodeRequest(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	res, err := s.app.SaveForLater(r.Context(), user.ID, *req.BookID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":           "Book saved for later successfully",
		"saved_books_count": res.Count,
		"book_title":        res.BookTitle,
	})
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request, user domain.User, _ domain.UserProfile) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req bookIDRequest
	if err := s.decodeRequest(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	res, err := s.app.AddToCart(r.Context(), user.ID, *req.BookID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":          "Book added to cart successfully",
		"cart_items_count": res.Count,
		"book_title":       res.BookTitle,
	})
}

func (s *Server) handleRemoveFromCart(w http.ResponseWriter, r *http.Request, user domain.User, _ domain.UserProfile) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}
	var req bookIDRequest
	if err := s.decodeRequest(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	res, err := s.app.RemoveFromCart(r.Context(), user.ID, *req.BookID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":          "Book removed from cart successfully",
		"cart_items_count": res.Count,
		"book_title":       res.BookTitle,
	})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request, user domain.User, _ domain.UserProfile) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req checkoutRequest
	if err := s.decodeRequest(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	summary, err := s.app.Checkout(r.Context(), user.ID, req.BooksToIssue)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{
		Success:     true,
		Message:     "Books issued successfully",
		BillSummary: bill(summary),
	})
}
