package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCORSOnlyReflectsSameHost(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(false))
	r.GET("/rooms", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		origin string
		allow  bool
	}{
		{"http://chess.example.com", true},
		{"https://CHESS.example.com", true},
		{"https://chess.example.com.evil.example", false},
		{"https://evil.example/chess.example.com", false},
		{"null", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
		req.Host = "chess.example.com"
		req.Header.Set("Origin", tc.origin)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		got := w.Header().Get("Access-Control-Allow-Origin")
		if tc.allow && got != tc.origin {
			t.Fatalf("%s: expected origin reflected, got %q", tc.origin, got)
		}
		if !tc.allow && got != "" {
			t.Fatalf("%s: look-alike origin reflected", tc.origin)
		}
	}
}
