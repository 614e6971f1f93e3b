package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tbuijibing/KiroGate/internal/format"
)

func TestHandleListModelsListsEverySupportedModel(t *testing.T) {
	t.Parallel()

	s := &server{}
	rec := httptest.NewRecorder()
	s.handleListModels(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp modelListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if resp.Object != "list" {
		t.Errorf("object = %q, want list", resp.Object)
	}
	if len(resp.Data) != len(format.SupportedModels) {
		t.Fatalf("len(Data) = %d, want %d", len(resp.Data), len(format.SupportedModels))
	}
	for i, m := range format.SupportedModels {
		if resp.Data[i].ID != m {
			t.Errorf("Data[%d].ID = %q, want %q", i, resp.Data[i].ID, m)
		}
		if resp.Data[i].Object != "model" {
			t.Errorf("Data[%d].Object = %q, want model", i, resp.Data[i].Object)
		}
	}
}
