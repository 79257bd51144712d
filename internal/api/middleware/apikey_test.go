package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/smartcathome/whisker/internal/api/middleware"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuthDisabled(t *testing.T) {
	os.Unsetenv("SMARTCAT_API_KEYS")

	auth := middleware.NewAPIKeyAuth()
	if auth.Enabled() {
		t.Error("auth enabled without SMARTCAT_API_KEYS")
	}

	handler := auth.Middleware(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("disabled auth: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAPIKeyAuthValidKey(t *testing.T) {
	os.Setenv("SMARTCAT_API_KEYS", "test-key-1,test-key-2")
	defer os.Unsetenv("SMARTCAT_API_KEYS")

	auth := middleware.NewAPIKeyAuth()
	if !auth.Enabled() {
		t.Fatal("auth not enabled")
	}
	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	req.Header.Set("Authorization", "Bearer test-key-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("bearer key: status = %d, want %d", w.Code, http.StatusOK)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	req2.Header.Set("X-API-Key", "test-key-2")
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Errorf("X-API-Key: status = %d, want %d", w2.Code, http.StatusOK)
	}
}

func TestAPIKeyAuthQueryParam(t *testing.T) {
	os.Setenv("SMARTCAT_API_KEYS", "stream-key")
	defer os.Unsetenv("SMARTCAT_API_KEYS")

	auth := middleware.NewAPIKeyAuth()
	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/abc?key=stream-key", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("query key: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAPIKeyAuthInvalidKey(t *testing.T) {
	os.Setenv("SMARTCAT_API_KEYS", "valid-key")
	defer os.Unsetenv("SMARTCAT_API_KEYS")

	auth := middleware.NewAPIKeyAuth()
	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("invalid key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAPIKeyAuthMissingKey(t *testing.T) {
	os.Setenv("SMARTCAT_API_KEYS", "valid-key")
	defer os.Unsetenv("SMARTCAT_API_KEYS")

	auth := middleware.NewAPIKeyAuth()
	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAPIKeyAuthPublicPaths(t *testing.T) {
	os.Setenv("SMARTCAT_API_KEYS", "valid-key")
	defer os.Unsetenv("SMARTCAT_API_KEYS")

	auth := middleware.NewAPIKeyAuth()
	handler := auth.Middleware(okHandler())

	for _, path := range []string{"/health", "/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("public path %q: status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestAPIKeyAuthAddRemoveKey(t *testing.T) {
	os.Unsetenv("SMARTCAT_API_KEYS")

	auth := middleware.NewAPIKeyAuth()
	if auth.Enabled() {
		t.Fatal("should start disabled")
	}

	auth.AddKey("runtime-key")
	if !auth.Enabled() {
		t.Error("should be enabled after AddKey")
	}

	handler := auth.Middleware(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	req.Header.Set("X-API-Key", "runtime-key")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("runtime key: status = %d, want %d", w.Code, http.StatusOK)
	}

	auth.RemoveKey("runtime-key")
	if auth.Enabled() {
		t.Error("should be disabled after removing last key")
	}
}
