package handler

import (
	"context"
	"net/http"
	"sort"

	"latentsetup/internal/setup/entity"
)

type DatasetLister interface {
	ListDatasets(ctx context.Context) ([]entity.Dataset, error)
}

type DatasetHandler struct {
	source DatasetLister
}

func NewDatasetHandler(source DatasetLister) *DatasetHandler {
	return &DatasetHandler{source: source}
}

// HandleList proxies the backend's dataset list, ordered by id.
func (h *DatasetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	datasets, err := h.source.ListDatasets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	sort.Slice(datasets, func(i, j int) bool { return datasets[i].ID < datasets[j].ID })
	if datasets == nil {
		datasets = []entity.Dataset{}
	}
	writeJSON(w, http.StatusOK, datasets)
}
