package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	t.Run("forwarded-for wins and takes the first hop", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
		req.Header.Set("X-Real-IP", "10.9.9.9")
		if ip := ClientIP(req); ip != "203.0.113.7" {
			t.Fatalf("expected first forwarded hop, got %q", ip)
		}
	})

	t.Run("real-ip is the fallback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Real-IP", "10.9.9.9")
		if ip := ClientIP(req); ip != "10.9.9.9" {
			t.Fatalf("expected real-ip fallback, got %q", ip)
		}
	})

	t.Run("remote addr is split from its port", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.4:55700"
		if ip := ClientIP(req); ip != "198.51.100.4" {
			t.Fatalf("expected host part of remote addr, got %q", ip)
		}
	})

	t.Run("portless remote addr is used as-is", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.4"
		if ip := ClientIP(req); ip != "198.51.100.4" {
			t.Fatalf("expected bare remote addr, got %q", ip)
		}
	})

	t.Run("nothing known", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ""
		if ip := ClientIP(req); ip != "unknown" {
			t.Fatalf("expected 'unknown', got %q", ip)
		}
	})
}
