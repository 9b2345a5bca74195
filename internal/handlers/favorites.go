package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// FavoriteResponse reports the favorite state after a toggle.
type FavoriteResponse struct {
	ID         string `json:"id"`
	IsFavorite bool   `json:"isFavorite"`
}

// ToggleFavorite flips the caller's favorite flag on an item.
func (h *Handlers) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	on, err := h.library.ToggleFavorite(r.Context(), id, UserFromContext(r.Context()).ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FavoriteResponse{ID: id, IsFavorite: on})
}
