package server

import (
	"net/http"

	"booktrak/pkg/domain"
	"booktrak/services/bookstore/internal/app"
	"booktrak/services/bookstore/internal/security"
)

type registrationRequest struct {
	Username        string `json:"username" validate:"required,max=150,username"`
	Email           string `json:"email" validate:"required,max=254,email"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
	UserType        string `json:"user_type"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Message  string `json:"message"`
	Token    string `json:"token"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

type panelResponse struct {
	Message  string          `json:"message"`
	UserType domain.UserType `json:"user_type"`
}

func (s *Server) handleRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.allowRate(w, r, s.registrationLimiter, security.EventRegistration) {
		return
	}
	var req registrationRequest
	if err := s.decodeRequest(r, &req); err != nil {
		s.audit(r, security.EventRegistration, security.OutcomeFail, "reason", "invalid_request")
		s.writeAppError(w, r, err)
		return
	}
	session, err := s.app.Register(r.Context(), app.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		UserType:        req.UserType,
	})
	if err != nil {
		if app.KindOf(err) == app.KindValidation {
			s.audit(r, security.EventRegistration, security.OutcomeFail, "reason", "rejected")
		}
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventRegistration, "success", "user_id", session.User.ID)
	writeJSON(w, http.StatusCreated, sessionResponse{
		Message:  "User registered successfully",
		Token:    session.Token,
		UserID:   session.User.ID,
		Username: session.User.Username,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, security.EventLogin) {
		return
	}
	var req loginRequest
	if err := s.decodeRequest(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	session, err := s.app.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if app.KindOf(err) == app.KindValidation {
			s.audit(r, security.EventLogin, security.OutcomeFail, "username", req.Username)
		}
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventLogin, "success", "user_id", session.User.ID)
	writeJSON(w, http.StatusOK, sessionResponse{
		Message:  "Login successful",
		Token:    session.Token,
		UserID:   session.User.ID,
		Username: session.User.Username,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	token, _ := bearerToken(r)
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLibrarianPanel(w http.ResponseWriter, r *http.Request, _ domain.User, profile domain.UserProfile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, panelResponse{Message: "For Librarian only", UserType: profile.UserType})
}

func (s *Server) handleCustomerPanel(w http.ResponseWriter, r *http.Request, _ domain.User, profile domain.UserProfile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, panelResponse{Message: "For Customers", UserType: profile.UserType})
}
