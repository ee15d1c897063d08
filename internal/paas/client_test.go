package paas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestCreateLog_LogsInOnce(t *testing.T) {
	var logins, logs int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			atomic.AddInt32(&logins, 1)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"token":      "tok",
				"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
			})
		case "/api/v1/logs":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var req CreateLogRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Agent != "collector" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			atomic.AddInt32(&logs, 1)
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, APIKey: "key", HTTP: srv.Client()}
	for i := 0; i < 2; i++ {
		if err := c.CreateLog(context.Background(), CreateLogRequest{Agent: "collector", Action: "a", Level: "info"}); err != nil {
			t.Fatalf("create log: %v", err)
		}
	}
	if l, n := atomic.LoadInt32(&logins), atomic.LoadInt32(&logs); l != 1 || n != 2 {
		t.Fatalf("logins=%d logs=%d want 1/2", l, n)
	}
}

func TestLogin_MissingKey(t *testing.T) {
	c := &Client{BaseURL: "http://example.invalid"}
	if err := c.Login(context.Background()); err == nil {
		t.Fatalf("expected error for empty api key")
	}
}

func TestRequireBearerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireBearerMiddleware("secret"))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/queue", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		path, auth string
		want       int
	}{
		{"/healthz", "", http.StatusOK},
		{"/api/v1/queue", "", http.StatusUnauthorized},
		{"/api/v1/queue", "Bearer wrong", http.StatusUnauthorized},
		{"/api/v1/queue", "Bearer secret", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s auth=%q status=%d want %d", tc.path, tc.auth, w.Code, tc.want)
		}
	}
}
