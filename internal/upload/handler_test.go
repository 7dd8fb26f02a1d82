package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/welldanyogia/steel-scrap-yard/internal/access"
	appctx "github.com/welldanyogia/steel-scrap-yard/internal/context"
	"github.com/welldanyogia/steel-scrap-yard/internal/plate"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

func multipartRequest(t *testing.T, files map[string]string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for field, name := range files {
		part, err := w.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write([]byte("image-" + name))
	}
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func bothFiles() map[string]string {
	return map[string]string{"truck_image": "truck.jpg", "plate_image": "plate.jpg"}
}

func serveUpload(h *Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	rec := httptest.NewRecorder()
	h.Upload(rec, req)
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestUpload_GatewayDownStillReturns200(t *testing.T) {
	f := newFixture(t, &fakeInferrer{}, "unused")
	h := NewHandler(f.svc, access.ModeAdvisory, 0, nil)

	rec, body := serveUpload(h, multipartRequest(t, bothFiles(), map[string]string{"factory_id": "f1"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if body["status"] != "degraded" || body["plate_number"] != plate.NotDetected {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["scrap_result"].(map[string]any)["predictions"].([]any); !ok {
		t.Errorf("scrap_result.predictions should be a list: %v", body["scrap_result"])
	}
	if w, _ := body["warnings"].([]any); len(w) == 0 {
		t.Error("expected warnings")
	}
}

func TestUpload_Success(t *testing.T) {
	f := newFixture(t, healthyInferrer(), "MH01AB0001")
	h := NewHandler(f.svc, access.ModeAdvisory, 0, nil)

	rec, body := serveUpload(h, multipartRequest(t, bothFiles(), nil))
	if rec.Code != http.StatusOK || body["status"] != "success" || body["plate_number"] != "MH01AB0001" {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if w, _ := body["warnings"].([]any); w == nil || len(w) != 0 {
		t.Errorf("warnings = %v, want empty list", body["warnings"])
	}
}

func TestUpload_MissingFilesReturns400(t *testing.T) {
	f := newFixture(t, healthyInferrer(), "X")
	h := NewHandler(f.svc, access.ModeAdvisory, 0, nil)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"no plate", multipartRequest(t, map[string]string{"truck_image": "t.jpg"}, nil)},
		{"no truck", multipartRequest(t, map[string]string{"plate_image": "p.jpg"}, nil)},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader([]byte("{}")))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := serveUpload(h, tt.req)
			if rec.Code != http.StatusBadRequest || body["status"] != "error" {
				t.Errorf("status = %d, body = %v", rec.Code, body)
			}
		})
	}
	if f.infer.calls != 0 {
		t.Errorf("inference called %d times for rejected uploads", f.infer.calls)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	f := newFixture(t, healthyInferrer(), "X")
	h := NewHandler(f.svc, access.ModeAdvisory, 64, nil)

	rec, _ := serveUpload(h, multipartRequest(t, bothFiles(), map[string]string{"pad": string(make([]byte, 256))}))
	if rec.Code != http.StatusRequestEntityTooLarge && rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 413 or 400", rec.Code)
	}
}

func TestUpload_StrictTenancy(t *testing.T) {
	f := newFixture(t, healthyInferrer(), "RJ14CD0001")
	h := NewHandler(f.svc, access.ModeStrict, 0, nil)
	ctx := context.Background()

	owner := &repository.User{Email: "o@x.com", PasswordHash: "h", Role: repository.RoleOwner, IsActive: true}
	_ = f.store.Users.Create(ctx, owner)
	factory := &repository.Factory{Name: "Yard B", OwnerID: owner.ID, IsActive: true}
	_ = f.store.Factories.Create(ctx, factory)

	// Anonymous intakes are classified but their form tenancy is ignored
	rec, body := serveUpload(h, multipartRequest(t, bothFiles(), map[string]string{"factory_id": factory.ID, "owner_id": owner.ID}))
	if rec.Code != http.StatusOK || body["status"] != "success" {
		t.Fatalf("anonymous status = %d, body = %v", rec.Code, body)
	}
	if id, _ := body["analysis_id"].(string); id == "" {
		t.Error("anonymous upload produced no scrap record")
	}
	if n, _ := f.store.History.Count(ctx, repository.HistoryFilter{}); n != 0 {
		t.Errorf("anonymous upload wrote %d history records", n)
	}

	// A labourer's form factory_id is replaced by the session's
	labourer := &appctx.Identity{UserID: "lab-1", Role: "labourer", FactoryID: factory.ID}
	req := multipartRequest(t, bothFiles(), map[string]string{"factory_id": "someone-else", "owner_id": "evil"})
	req = req.WithContext(appctx.WithIdentity(req.Context(), labourer))
	rec, body = serveUpload(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("labourer status = %d", rec.Code)
	}

	analysisID, _ := body["analysis_id"].(string)
	hist, err := f.store.History.GetByAnalysisID(ctx, analysisID)
	if err != nil {
		t.Fatalf("history missing: %v", err)
	}
	if hist.FactoryID != factory.ID || hist.OwnerID != owner.ID || hist.UploadedBy != "lab-1" {
		t.Errorf("history = %+v", hist)
	}
}
