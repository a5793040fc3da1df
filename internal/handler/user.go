package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/DukeRupert/quizauth/internal/domain"
	"github.com/DukeRupert/quizauth/internal/service"
)

// UserHandler serves account lookups for authenticated callers.
//
// Routes handled:
// - GET /api/users/{id}
// - GET /api/users/email/{email}
// - GET /api/users?limit=&offset= (admin only)
type UserHandler struct {
	userService service.UserService
	logger      *slog.Logger
}

func NewUserHandler(userService service.UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		logger:      logger,
	}
}

func (h *UserHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	const op = "UserHandler.GetByID"

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Invalid user id"))
		return
	}

	user, err := h.userService.GetByID(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, NewUserResponse(user))
}

func (h *UserHandler) GetByEmail(w http.ResponseWriter, r *http.Request) {
	const op = "UserHandler.GetByEmail"

	email := r.PathValue("email")
	if email == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Email is required"))
		return
	}

	user, err := h.userService.GetByEmail(r.Context(), email)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, NewUserResponse(user))
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "UserHandler.List"

	params, err := parseListParams(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Wrap(err, domain.EINVALID, op, "Invalid pagination parameters"))
		return
	}

	page, err := h.userService.List(r.Context(), params)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := UserListResponse{
		Users:  make([]UserResponse, 0, len(page.Users)),
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	for _, u := range page.Users {
		resp.Users = append(resp.Users, NewUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseListParams(r *http.Request) (domain.ListParams, error) {
	var p domain.ListParams
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, err
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, err
		}
		p.Offset = n
	}
	return p, nil
}
