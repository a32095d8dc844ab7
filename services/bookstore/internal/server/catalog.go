package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"booktrak/pkg/domain"
	"booktrak/services/bookstore/internal/app"
)

type bookRequest struct {
	Title         string           `json:"title" validate:"required,max=200"`
	Author        string           `json:"author" validate:"required,max=100"`
	ISBN          string           `json:"isbn" validate:"required,max=13"`
	Price         *decimal.Decimal `json:"price" validate:"required"`
	CoverImageURL *string          `json:"cover_image_url" validate:"omitempty,max=200,url"`
}

func (req bookRequest) input() app.BookInput {
	return app.BookInput{
		Title:         req.Title,
		Author:        req.Author,
		ISBN:          req.ISBN,
		Price:         *req.Price,
		CoverImageURL: req.CoverImageURL,
	}
}

type bookPatchRequest struct {
	Title         *string          `json:"title" validate:"omitempty,max=200"`
	Author        *string          `json:"author" validate:"omitempty,max=100"`
	ISBN          *string          `json:"isbn" validate:"omitempty,max=13"`
	Price         *decimal.Decimal `json:"price"`
	CoverImageURL *string          `json:"cover_image_url" validate:"omitempty,max=200,url"`
}

// handleBooks serves the librarian collection: list and create.
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, _ domain.User, _ domain.UserProfile) {
	switch r.Method {
	case http.MethodGet:
		books, err := s.app.ListBooks(r.Context())
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		out := make([]librarianBookView, 0, len(books))
		for _, b := range books {
			out = append(out, librarianBook(b))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req bookRequest
		if err := s.decodeRequest(r, &req); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		book, err := s.app.CreateBook(r.Context(), req.input())
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, librarianBook(book))
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleBookByID serves /api/librarian/delete-books/{id}/.
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, _ domain.User, _ domain.UserProfile) {
	id, ok := bookIDFromPath(r.URL.Path)
	if !ok {
		s.writeAppError(w, r, app.ErrBookNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		book, err := s.app.GetBook(r.Context(), id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, librarianBook(book))
	case http.MethodPut:
		var req bookRequest
		if err := s.decodeRequest(r, &req); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		book, err := s.app.ReplaceBook(r.Context(), id, req.input())
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, librarianBook(book))
	case http.MethodPatch:
		patch, err := s.decodePatch(r)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		book, err := s.app.UpdateBook(r.Context(), id, patch)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, librarianBook(book))
	case http.MethodDelete:
		if err := s.app.DeleteBook(r.Context(), id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)
	}
}

// decodePatch decodes a partial update. cover_image_url may be cleared with
// an explicit null, so its presence is read from the raw object.
func (s *Server) decodePatch(r *http.Request) (app.BookPatch, error) {
	data, err := readBody(r)
	if err != nil {
		return app.BookPatch{}, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return app.BookPatch{}, errInvalidJSON
	}
	var req bookPatchRequest
	if err := decodeJSON(data, &req); err != nil {
		return app.BookPatch{}, err
	}
	if err := s.validate.Struct(&req); err != nil {
		return app.BookPatch{}, err
	}
	_, coverSet := raw["cover_image_url"]
	return app.BookPatch{
		Title:            req.Title,
		Author:           req.Author,
		ISBN:             req.ISBN,
		Price:            req.Price,
		CoverImageURLSet: coverSet,
		CoverImageURL:    req.CoverImageURL,
	}, nil
}

func bookIDFromPath(path string) (int64, bool) {
	rest := strings.TrimPrefix(path, "/api/librarian/delete-books/")
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" || strings.Contains(rest, "/") {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, _ domain.User, _ domain.UserProfile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	filter := filterParam(r)
	books, err := s.app.Report(r.Context(), filter)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report(filter, books))
}

// filterParam returns ?filter=, defaulting to most_issued when absent.
func filterParam(r *http.Request) string {
	q := r.URL.Query()
	if !q.Has("filter") {
		return app.DefaultFilter
	}
	return q.Get("filter")
}
