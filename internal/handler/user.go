package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/reportdesk/internal/model"
)

// UserStore is the directory surface the user endpoints need.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	Upsert(ctx context.Context, u *model.User) error
	List(ctx context.Context) ([]model.User, error)
}

// UserHandler serves the local user directory: a read surface for chat
// composition (pickers, mentions) and an upsert for the identity service to
// sync records into.
type UserHandler struct {
	users UserStore
}

func NewUserHandler(users UserStore) *UserHandler {
	return &UserHandler{users: users}
}

func (h *UserHandler) Routes(r chi.Router) {
	r.Get("/users", h.list)
	r.Get("/users/{userID}", h.get)
	r.Put("/users/{userID}", h.upsert)
}

func (h *UserHandler) list(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	out := make([]model.UserPublic, 0, len(users))
	for i := range users {
		out = append(out, users[i].ToPublic())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *UserHandler) get(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}

// upsert mirrors a directory record from the identity service. The id in the
// path wins over the body.
func (h *UserHandler) upsert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName  string `json:"first_name"`
		LastName   string `json:"last_name"`
		Role       string `json:"role"`
		Occupation string `json:"occupation"`
		AvatarURL  string `json:"avatar_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.FirstName) == "" {
		writeError(w, http.StatusBadRequest, "first_name required")
		return
	}
	u := &model.User{
		ID:         chi.URLParam(r, "userID"),
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Role:       req.Role,
		Occupation: req.Occupation,
		AvatarURL:  req.AvatarURL,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.users.Upsert(r.Context(), u); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}
