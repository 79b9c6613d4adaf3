package apiclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const acceptEncoding = "zstd, br, gzip"

// decodeBody wraps the response body with the decompressor named by
// Content-Encoding. Closing the result closes the response body.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch ce := resp.Header.Get("Content-Encoding"); ce {
	case "", "identity":
		return resp.Body, nil
	case "zstd":
		dec, err := zstd.NewReader(resp.Body, zstd.WithDecoderMaxMemory(64<<20))
		if err != nil {
			return nil, fmt.Errorf("zstd response: %w", err)
		}
		return &decodedBody{Reader: dec, close: func() error { dec.Close(); return resp.Body.Close() }}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(resp.Body), close: resp.Body.Close}, nil
	case "gzip":
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip response: %w", err)
		}
		return &decodedBody{Reader: gr, close: func() error { _ = gr.Close(); return resp.Body.Close() }}, nil
	default:
		return nil, fmt.Errorf("unsupported Content-Encoding %q", ce)
	}
}

type decodedBody struct {
	io.Reader
	close func() error
}

func (d *decodedBody) Close() error { return d.close() }

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
