package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/lilith645/Maat-Network/internal/config"
	"github.com/lilith645/Maat-Network/internal/relay"
	"github.com/lilith645/Maat-Network/internal/testutil/testlog"
)

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminRoutes(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	svc := NewService(config.Default())
	router := svc.Router()

	if w := get(t, router, "/health"); w.Code != http.StatusOK {
		t.Fatalf("/health status=%d", w.Code)
	}
	if w := get(t, router, "/ready"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("/ready before run status=%d", w.Code)
	}
	if w := get(t, router, "/metrics"); w.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", w.Code)
	}
	if w := get(t, router, "/sessions/room1"); w.Code != http.StatusNotFound {
		t.Fatalf("/sessions/room1 missing status=%d", w.Code)
	}

	svc.Table().FindOrCreate("room1", "10.0.0.1:5000")
	svc.Table().FindOrCreate("room1", "10.0.0.2:5000")

	w := get(t, router, "/sessions/room1")
	if w.Code != http.StatusOK {
		t.Fatalf("/sessions/room1 status=%d", w.Code)
	}
	var info relay.SessionInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if info.Name != "room1" || info.Host != "10.0.0.1:5000" || len(info.Members) != 2 {
		t.Fatalf("unexpected session %+v", info)
	}

	w = get(t, router, "/sessions")
	var list struct {
		Sessions []relay.SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].Name != "room1" {
		t.Fatalf("unexpected sessions %+v", list.Sessions)
	}
}

func TestNormalizeOrigins(t *testing.T) {
	testlog.Start(t)
	got := normalizeOrigins([]string{"tools.example.com", " https://app.example.com "})
	if len(got) != 1 || got[0] != "https://app.example.com" {
		t.Fatalf("normalizeOrigins = %v", got)
	}
	if got := normalizeOrigins(nil); len(got) != 1 || got[0] != "http://localhost:3000" {
		t.Fatalf("default origins = %v", got)
	}
}
