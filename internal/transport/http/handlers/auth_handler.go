package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/848838/ChatApp/internal/service"
	"github.com/848838/ChatApp/internal/transport/http/middleware"
	"github.com/848838/ChatApp/pkg/validator"
	"github.com/samber/lo"
)

type AuthHandler struct {
	authService *service.AuthService
	log         *slog.Logger
}

func NewAuthHandler(authService *service.AuthService, log *slog.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, log: log}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	req := validator.RegisterRequest{
		Email:      input.Email,
		Name:       input.Name,
		Password:   input.Password,
		Profession: lo.FromPtr(input.Profession),
	}
	if errs := validator.ValidateRegister(req); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	resp, err := h.authService.Register(r.Context(), input)
	if err != nil {
		writeServiceError(w, h.log, "register", err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input service.LoginInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if errs := validator.ValidateLogin(validator.LoginRequest{Email: input.Email, Password: input.Password}); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	resp, err := h.authService.Login(r.Context(), input)
	if err != nil {
		writeServiceError(w, h.log, "login", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.authService.Me(r.Context(), middleware.GetCredential(r.Context()))
	if err != nil {
		writeServiceError(w, h.log, "me", err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
