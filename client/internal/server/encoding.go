// Content-Encoding support: request bodies are decompressed and responses
// compressed with zstd, brotli or gzip at fast levels. Event streams and
// websocket upgrades are passed through untouched.
package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/qualdev/fleet/client/internal/server/dto"
)

// codec is one supported Content-Encoding.
type codec struct {
	name      string
	newWriter func(io.Writer) io.WriteCloser
	newReader func(io.Reader) (io.ReadCloser, error)
}

// codecs is ordered by server preference.
var codecs = []codec{
	{
		name: "zstd",
		newWriter: func(w io.Writer) io.WriteCloser {
			enc, _ := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
			return enc
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(r, zstd.WithDecoderMaxMemory(10<<20))
			if err != nil {
				return nil, err
			}
			return dec.IOReadCloser(), nil
		},
	},
	{
		name:      "br",
		newWriter: func(w io.Writer) io.WriteCloser { return brotli.NewWriterLevel(w, 1) },
		newReader: func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(brotli.NewReader(r)), nil },
	},
	{
		name: "gzip",
		newWriter: func(w io.Writer) io.WriteCloser {
			gz, _ := gzip.NewWriterLevel(w, gzip.BestSpeed)
			return gz
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) },
	},
}

func lookupCodec(name string) *codec {
	for i := range codecs {
		if codecs[i].name == name {
			return &codecs[i]
		}
	}
	return nil
}

// negotiate picks the preferred codec the Accept-Encoding header allows.
// Quality values are ignored except for q=0.
func negotiate(acceptEncoding string) *codec {
	accepted := map[string]bool{}
	for part := range strings.SplitSeq(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.ReplaceAll(strings.TrimSpace(params), " ", "") == "q=0" {
			continue
		}
		accepted[strings.ToLower(strings.TrimSpace(name))] = true
	}
	for i := range codecs {
		if accepted[codecs[i].name] {
			return &codecs[i]
		}
	}
	return nil
}

// decompressMiddleware decodes request bodies according to Content-Encoding.
func decompressMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ce := r.Header.Get("Content-Encoding")
		if ce == "" || ce == "identity" {
			next.ServeHTTP(w, r)
			return
		}
		c := lookupCodec(ce)
		if c == nil {
			writeError(w, dto.BadRequest("unsupported Content-Encoding: "+ce))
			return
		}
		body, err := c.newReader(r.Body)
		if err != nil {
			writeError(w, dto.BadRequest("invalid "+ce+" body"))
			return
		}
		r.Body = body
		r.Header.Del("Content-Encoding")
		r.ContentLength = -1
		next.ServeHTTP(w, r)
	})
}

// compressMiddleware encodes responses with the best codec the client
// accepts.
func compressMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := negotiate(r.Header.Get("Accept-Encoding"))
		if c == nil || r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}
		cw := &compressWriter{ResponseWriter: w, codec: c}
		defer cw.finish()
		next.ServeHTTP(cw, r)
	})
}

// compressWriter defers the compression decision to the first write, once
// the handler has set its headers.
type compressWriter struct {
	http.ResponseWriter
	codec   *codec
	writer  io.WriteCloser
	decided bool
}

func (cw *compressWriter) decide() {
	if cw.decided {
		return
	}
	cw.decided = true
	h := cw.Header()
	if h.Get("Content-Encoding") != "" || strings.HasPrefix(h.Get("Content-Type"), "text/event-stream") {
		return
	}
	h.Del("Content-Length")
	h.Set("Content-Encoding", cw.codec.name)
	h.Add("Vary", "Accept-Encoding")
	cw.writer = cw.codec.newWriter(cw.ResponseWriter)
}

func (cw *compressWriter) WriteHeader(code int) {
	cw.decide()
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *compressWriter) Write(b []byte) (int, error) {
	cw.decide()
	if cw.writer == nil {
		return cw.ResponseWriter.Write(b)
	}
	return cw.writer.Write(b)
}

func (cw *compressWriter) finish() {
	if cw.writer != nil {
		_ = cw.writer.Close()
	}
}

// Flush propagates to the underlying writer for SSE passthrough.
func (cw *compressWriter) Flush() {
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (cw *compressWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}
