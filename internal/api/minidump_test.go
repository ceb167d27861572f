package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crashvault/crashvault/internal/service"
)

func newMinidumpRequest(t *testing.T, fields map[string]string, includeMinidump bool, credential string) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	if includeMinidump {
		fw, err := mw.CreateFormFile("upload_file_minidump", "crash.dmp")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write([]byte("fake minidump bytes")); err != nil {
			t.Fatalf("write minidump: %v", err)
		}
	}

	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField %s: %v", k, err)
		}
	}

	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/minidump/upload", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response body %q: %v", rec.Body.String(), err)
	}
	return body
}

func baseAnnotations() map[string]string {
	return map[string]string{
		"product":  "doomsaga",
		"version":  "1.2.3",
		"channel":  "release",
		"commit":   "deadbeef",
		"build_id": time.Now().UTC().Format(time.RFC3339),
	}
}

func TestUploadMinidumpHappyPath(t *testing.T) {
	s, store, objects, q := newTestServer()

	product := service.Product{ID: uuid.New(), Name: "doomsaga", AcceptingCrashes: true}
	store.SeedProduct(product)
	credential := seedToken(t, store, &product.ID, service.EntitlementMinidumpUpload)

	req := newMinidumpRequest(t, baseAnnotations(), true, credential)
	rec := httptest.NewRecorder()

	s.UploadMinidump(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}

	body := decodeEnvelope(t, rec)
	if body["result"] != "ok" {
		t.Fatalf("got result %v, want ok", body["result"])
	}

	crashIDStr, _ := body["crash_id"].(string)
	crashID, err := uuid.Parse(crashIDStr)
	if err != nil {
		t.Fatalf("parse crash_id %q: %v", crashIDStr, err)
	}

	crash, err := store.GetCrash(req.Context(), crashID)
	if err != nil || crash == nil {
		t.Fatalf("GetCrash: %v, crash=%v", err, crash)
	}
	if crash.State != service.CrashPending {
		t.Fatalf("got state %q, want pending", crash.State)
	}
	if crash.ProductID != product.ID {
		t.Fatalf("got product %s, want %s", crash.ProductID, product.ID)
	}

	if objects.Len() == 0 {
		t.Fatal("expected the minidump and descriptor blobs to be stored")
	}
	if q.Len() != 1 {
		t.Fatalf("got %d queued jobs, want 1", q.Len())
	}
}

func TestUploadMinidumpMissingRequiredAnnotation(t *testing.T) {
	s, store, _, _ := newTestServer()

	product := service.Product{ID: uuid.New(), Name: "doomsaga", AcceptingCrashes: true}
	store.SeedProduct(product)
	credential := seedToken(t, store, &product.ID, service.EntitlementMinidumpUpload)

	fields := baseAnnotations()
	delete(fields, "build_id")

	req := newMinidumpRequest(t, fields, true, credential)
	rec := httptest.NewRecorder()
	s.UploadMinidump(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}

	body := decodeEnvelope(t, rec)
	if body["result"] != "failed" {
		t.Fatalf("got result %v, want failed", body["result"])
	}
	if msg, _ := body["error"].(string); msg != "required annotation 'build_id' is missing" {
		t.Fatalf("got error %q", msg)
	}
}

func TestUploadMinidumpProductNotAcceptingCrashes(t *testing.T) {
	s, store, _, _ := newTestServer()

	product := service.Product{ID: uuid.New(), Name: "doomsaga", AcceptingCrashes: false}
	store.SeedProduct(product)
	credential := seedToken(t, store, &product.ID, service.EntitlementMinidumpUpload)

	req := newMinidumpRequest(t, baseAnnotations(), true, credential)
	rec := httptest.NewRecorder()
	s.UploadMinidump(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestUploadMinidumpWrongProductScope(t *testing.T) {
	s, store, _, _ := newTestServer()

	product := service.Product{ID: uuid.New(), Name: "doomsaga", AcceptingCrashes: true}
	other := service.Product{ID: uuid.New(), Name: "other-game", AcceptingCrashes: true}
	store.SeedProduct(product)
	store.SeedProduct(other)

	credential := seedToken(t, store, &other.ID, service.EntitlementMinidumpUpload)

	req := newMinidumpRequest(t, baseAnnotations(), true, credential)
	rec := httptest.NewRecorder()
	s.UploadMinidump(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestUploadMinidumpMissingFile(t *testing.T) {
	s, store, objects, q := newTestServer()

	product := service.Product{ID: uuid.New(), Name: "doomsaga", AcceptingCrashes: true}
	store.SeedProduct(product)
	credential := seedToken(t, store, &product.ID, service.EntitlementMinidumpUpload)

	req := newMinidumpRequest(t, baseAnnotations(), false, credential)
	rec := httptest.NewRecorder()
	s.UploadMinidump(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
	if objects.Len() != 0 {
		t.Fatalf("got %d blobs, want 0 after a rejected upload", objects.Len())
	}
	if q.Len() != 0 {
		t.Fatalf("got %d queued jobs, want 0 after a rejected upload", q.Len())
	}
}

func TestUploadMinidumpRequiresCredential(t *testing.T) {
	s, _, _, _ := newTestServer()

	req := newMinidumpRequest(t, baseAnnotations(), true, "")
	rec := httptest.NewRecorder()
	s.UploadMinidump(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
}
