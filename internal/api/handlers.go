package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/asuasu0131/parking-monitor/internal/common"
	"github.com/asuasu0131/parking-monitor/internal/layout"
	"github.com/asuasu0131/parking-monitor/internal/logutil"
)

const maxLayoutBody = 8 << 20

type HttpErrResponse struct {
	Err            error  `json:"-"`
	HTTPStatusCode int    `json:"-"`
	ErrorText      string `json:"error"`
}

func (e *HttpErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

// errResponse maps domain errors onto status codes. Validation and lookup
// failures carry their message; anything else is reported generically.
func errResponse(err error) render.Renderer {
	switch {
	case common.IsValidation(err):
		return &HttpErrResponse{Err: err, HTTPStatusCode: http.StatusBadRequest, ErrorText: err.Error()}
	case errors.Is(err, layout.ErrNotFound):
		return &HttpErrResponse{Err: err, HTTPStatusCode: http.StatusNotFound, ErrorText: "layout not found"}
	default:
		return &HttpErrResponse{Err: err, HTTPStatusCode: http.StatusInternalServerError, ErrorText: "Internal Server Error"}
	}
}

type saveLayoutRequest struct {
	SpaceID string           `json:"space_id"`
	Layout  *layout.Document `json:"layout"`
}

func (s *saveLayoutRequest) Bind(r *http.Request) error {
	if s.Layout == nil {
		return common.Invalid("layout", "missing")
	}
	return nil
}

type saveLayoutResponse struct {
	Status  string `json:"status"`
	SpaceID string `json:"space_id"`
}

func (s *saveLayoutResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (h *Handler) handleSaveLayout(w http.ResponseWriter, r *http.Request) {
	log := logutil.FromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxLayoutBody)

	req := &saveLayoutRequest{}
	if err := render.Bind(r, req); err != nil {
		if !common.IsValidation(err) {
			err = common.Invalid("body", "%v", err)
		}
		render.Render(w, r, errResponse(err))
		return
	}

	id, err := h.eng.SaveLayout(r.Context(), req.SpaceID, *req.Layout)
	if err != nil {
		if layout.IsPersistence(err) {
			log.Error("save layout failed", zap.String("space_id", req.SpaceID), zap.Error(err))
		}
		render.Render(w, r, errResponse(err))
		return
	}
	render.Render(w, r, &saveLayoutResponse{Status: "ok", SpaceID: id})
}

func (h *Handler) handleLayouts(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.eng.Layouts())
}

func (h *Handler) handleLayout(w http.ResponseWriter, r *http.Request) {
	doc, err := h.eng.Layout(chi.URLParam(r, "spaceID"))
	if err != nil {
		render.Render(w, r, errResponse(err))
		return
	}
	render.JSON(w, r, doc)
}

// handleDefaultLayout serves the single document older clients fetch.
func (h *Handler) handleDefaultLayout(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.eng.DefaultLayout())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := h.eng.Stats()
	render.JSON(w, r, map[string]any{
		"status":      "ok",
		"connections": st.Connections,
		"spaces":      st.Spaces,
	})
}
