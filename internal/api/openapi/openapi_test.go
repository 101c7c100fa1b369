package openapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}

	for _, path := range []string{
		"/api/v1/files/upload",
		"/api/v1/files/download/{fileId}",
		"/api/v1/files",
		"/api/v1/files/{fileId}/expire",
		"/api/v1/session",
		"/health/ready",
	} {
		if doc.Paths.Find(path) == nil {
			t.Errorf("в документе нет пути %s", path)
		}
	}
}

func TestHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/openapi.yaml", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "openapi: 3.0.3") {
		t.Errorf("неожиданное тело: %.40s", rec.Body.String())
	}
}
