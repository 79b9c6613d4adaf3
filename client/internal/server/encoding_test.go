package server

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const payload = `{"status":"ok"}`

func payloadHandler(contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(payload))
	}
}

func TestCompressMiddleware(t *testing.T) {
	decoders := map[string]func(io.Reader) (io.Reader, error){
		"zstd": func(r io.Reader) (io.Reader, error) { return zstd.NewReader(r) },
		"br":   func(r io.Reader) (io.Reader, error) { return brotli.NewReader(r), nil },
		"gzip": func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
	}
	for name, decode := range decoders {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.Header.Set("Accept-Encoding", name)
			w := httptest.NewRecorder()
			compressMiddleware(payloadHandler("application/json")).ServeHTTP(w, req)
			if got := w.Header().Get("Content-Encoding"); got != name {
				t.Fatalf("Content-Encoding = %q, want %q", got, name)
			}
			if got := w.Header().Get("Vary"); got != "Accept-Encoding" {
				t.Errorf("Vary = %q, want %q", got, "Accept-Encoding")
			}
			r, err := decode(w.Body)
			if err != nil {
				t.Fatal(err)
			}
			body, err := io.ReadAll(r)
			if err != nil {
				t.Fatal(err)
			}
			if string(body) != payload {
				t.Errorf("body = %q, want %q", body, payload)
			}
		})
	}
	t.Run("Negotiation", func(t *testing.T) {
		tests := []struct {
			accept string
			want   string
		}{
			{"gzip, br, zstd", "zstd"},
			{"gzip;q=1.0, br", "br"},
			{"zstd;q=0, gzip", "gzip"},
			{"identity", ""},
			{"", ""},
		}
		for _, tt := range tests {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.Header.Set("Accept-Encoding", tt.accept)
			w := httptest.NewRecorder()
			compressMiddleware(payloadHandler("application/json")).ServeHTTP(w, req)
			if got := w.Header().Get("Content-Encoding"); got != tt.want {
				t.Errorf("Accept-Encoding %q: got %q, want %q", tt.accept, got, tt.want)
			}
		}
	})
	t.Run("SkipsSSE", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req.Header.Set("Accept-Encoding", "zstd, br, gzip")
		w := httptest.NewRecorder()
		compressMiddleware(payloadHandler("text/event-stream")).ServeHTTP(w, req)
		if got := w.Header().Get("Content-Encoding"); got != "" {
			t.Errorf("Content-Encoding = %q, want empty", got)
		}
		if got := w.Body.String(); got != payload {
			t.Errorf("body = %q", got)
		}
	})
}

func TestDecompressMiddleware(t *testing.T) {
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	})
	for _, c := range codecs {
		t.Run(c.name, func(t *testing.T) {
			var buf bytes.Buffer
			enc := c.newWriter(&buf)
			_, _ = enc.Write([]byte("hello " + c.name))
			if err := enc.Close(); err != nil {
				t.Fatal(err)
			}
			req := httptest.NewRequest(http.MethodPost, "/", &buf)
			req.Header.Set("Content-Encoding", c.name)
			w := httptest.NewRecorder()
			decompressMiddleware(echo).ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if got := w.Body.String(); got != "hello "+c.name {
				t.Errorf("body = %q", got)
			}
		})
	}
	t.Run("Unsupported", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("x")))
		req.Header.Set("Content-Encoding", "compress")
		w := httptest.NewRecorder()
		decompressMiddleware(echo).ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
	t.Run("BadGzip", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("not gzip")))
		req.Header.Set("Content-Encoding", "gzip")
		w := httptest.NewRecorder()
		decompressMiddleware(echo).ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}
