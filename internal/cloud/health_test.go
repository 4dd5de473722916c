package cloud

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthChecker(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr bool
	}{
		{"healthy", http.StatusOK, `{"cloud_name":"c","cloud_size":2,"cloud_healthy":true}`, true, false},
		{"unhealthy", http.StatusOK, `{"cloud_healthy":false}`, false, false},
		{"missing field", http.StatusOK, `{}`, false, false},
		{"server error", http.StatusInternalServerError, `{"cloud_healthy":true}`, false, true},
		{"bad json", http.StatusOK, `not json`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != HealthPath {
					http.NotFound(w, r)
					return
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewHealthChecker(time.Second).Check(context.Background(), srv.URL)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("healthy = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHealthCheckerTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	ok, err := NewHealthChecker(100*time.Millisecond).Check(context.Background(), srv.URL)
	if err == nil || ok {
		t.Fatalf("Check = %v, %v; want timeout error", ok, err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("check took %s, timeout not honoured", time.Since(start))
	}
}

func TestHealthCheckerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if ok, err := NewHealthChecker(time.Second).Check(context.Background(), url); err == nil || ok {
		t.Fatalf("Check = %v, %v; want error", ok, err)
	}
}
