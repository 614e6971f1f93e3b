package server

import (
	"net/http"

	"github.com/tbuijibing/KiroGate/internal/format"
)

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// handleListModels implements GET /v1/models (spec §6): an OpenAI-style
// model list of the gateway's supported Claude model names.
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	entries := make([]modelEntry, len(format.SupportedModels))
	for i, m := range format.SupportedModels {
		entries[i] = modelEntry{ID: m, Object: "model", OwnedBy: "anthropic"}
	}
	writeJSON(w, http.StatusOK, modelListResponse{Object: "list", Data: entries})
}
