package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestCORS(t *testing.T) {
	router := setupTestRouter()
	router.Use(CORS(DefaultCORSConfig()))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})

	tests := []struct {
		name           string
		method         string
		origin         string
		wantStatus     int
		wantCORSHeader bool
	}{
		{
			name:           "simple GET request with origin",
			method:         "GET",
			origin:         "http://localhost:3000",
			wantStatus:     http.StatusOK,
			wantCORSHeader: true,
		},
		{
			name:           "preflight OPTIONS request",
			method:         "OPTIONS",
			origin:         "http://localhost:3000",
			wantStatus:     http.StatusNoContent,
			wantCORSHeader: true,
		},
		{
			name:       "no origin header",
			method:     "GET",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", "GET")
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			allowOrigin := w.Header().Get("Access-Control-Allow-Origin")
			if tt.wantCORSHeader {
				assert.NotEmpty(t, allowOrigin)
			} else {
				assert.Empty(t, allowOrigin)
			}
		})
	}
}

func TestCORSForOrigins(t *testing.T) {
	cfg := CORSForOrigins(nil)
	assert.Equal(t, []string{"*"}, cfg.AllowOrigins)
	assert.False(t, cfg.AllowCredentials)

	cfg = CORSForOrigins([]string{"http://app.test"})
	assert.Equal(t, []string{"http://app.test"}, cfg.AllowOrigins)
	assert.True(t, cfg.AllowCredentials)

	router := setupTestRouter()
	router.Use(CORS(cfg))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "http://evil.test")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimit(t *testing.T) {
	router := setupTestRouter()
	router.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2, OnlyMutating: true}))
	router.GET("/blocks", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/blocks", func(c *gin.Context) { c.Status(http.StatusCreated) })

	do := func(method string) int {
		req := httptest.NewRequest(method, "/blocks", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusCreated, do(http.MethodPost))
	assert.Equal(t, http.StatusCreated, do(http.MethodPost))
	assert.Equal(t, http.StatusTooManyRequests, do(http.MethodPost))

	// reads are exempt
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(http.MethodGet))
	}
}

func TestRateLimitPerClient(t *testing.T) {
	router := setupTestRouter()
	router.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:2"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1"))
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	assert.Equal(t, 100, cfg.RequestsPerSecond)
	assert.Equal(t, 200, cfg.Burst)
	assert.True(t, cfg.OnlyMutating)
}
