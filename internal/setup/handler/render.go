package handler

import (
	"net/http"
	"strconv"
	"strings"

	"latentsetup/internal/setup/service/render"
)

type RenderHandler struct {
	svc *render.Service
}

func NewRenderHandler(svc *render.Service) *RenderHandler {
	return &RenderHandler{svc: svc}
}

// HandleRender draws the posted vector. It answers with the PNG, or with the
// render metadata when the client accepts JSON. An empty vector is 204.
func (h *RenderHandler) HandleRender(w http.ResponseWriter, r *http.Request) {
	var in render.Request
	if !decodeBody(w, r, &in) {
		return
	}
	res, err := h.svc.Render(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Empty() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("X-Render-Key", res.Key)
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, res)
		return
	}
	writePNG(w, res.PNG)
}

func (h *RenderHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	raw, err := h.svc.Get(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	writePNG(w, raw)
}

func writePNG(w http.ResponseWriter, raw []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
