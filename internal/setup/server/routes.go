package server

import (
	"net/http"

	"latentsetup/internal/setup/handler"
	"latentsetup/internal/setup/middleware"
)

func NewMux(
	sessionHandler *handler.SessionHandler,
	sessionWSHandler *handler.SessionWSHandler,
	datasetHandler *handler.DatasetHandler,
	renderHandler *handler.RenderHandler,
) http.Handler {
	mux := http.NewServeMux()

	// Sessions
	mux.HandleFunc("POST /api/sessions", sessionHandler.HandleCreate)
	mux.HandleFunc("GET /api/sessions/{id}", sessionHandler.HandleGet)
	mux.HandleFunc("DELETE /api/sessions/{id}", sessionHandler.HandleDelete)
	mux.HandleFunc("POST /api/sessions/{id}/navigate", sessionHandler.HandleNavigate)
	mux.HandleFunc("POST /api/sessions/{id}/select", sessionHandler.HandleSelect)
	mux.HandleFunc("POST /api/sessions/{id}/text-column", sessionHandler.HandleTextColumn)
	mux.HandleFunc("POST /api/sessions/{id}/artifacts", sessionHandler.HandleArtifacts)
	mux.HandleFunc("POST /api/sessions/{id}/scopes", sessionHandler.HandleSaveScope)
	mux.HandleFunc("POST /api/sessions/{id}/points", sessionHandler.HandleSetPoints)
	mux.HandleFunc("DELETE /api/sessions/{id}/points", sessionHandler.HandleClearPoints)
	mux.HandleFunc("POST /api/sessions/{id}/retry", sessionHandler.HandleRetry)
	mux.HandleFunc("GET /ws/sessions/{id}", sessionWSHandler.HandleSessionWS)

	// Backend proxy and renders
	mux.HandleFunc("GET /api/datasets", datasetHandler.HandleList)
	mux.HandleFunc("POST /api/render/vector", renderHandler.HandleRender)
	mux.HandleFunc("GET /api/render/{key}", renderHandler.HandleGet)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Middleware
	return middleware.CORS(middleware.Logging(mux))
}
