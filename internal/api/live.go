package api

import (
	"net/http"

	"github.com/go-chi/render"
)

// handlePositions returns the presence snapshot observers would receive.
func (h *Handler) handlePositions(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.eng.Positions())
}
