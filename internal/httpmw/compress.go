package httpmw

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// minCompressLen is the smallest body worth compressing. Below this the
// encoder framing eats the savings.
const minCompressLen = 200

// brotliQuality trades compression ratio for CPU; 5 is fast enough to run
// inline on every response.
const brotliQuality = 5

var (
	reAcceptsBrotli = regexp.MustCompile(`\bbr\b`)
	reAcceptsGzip   = regexp.MustCompile(`\bgzip\b`)
)

// Compress applies Brotli or gzip to buffered responses. Brotli is
// preferred when the client advertises both. A response is sent
// uncompressed when it is already encoded, shorter than minCompressLen, or
// when compression fails to shrink it. Pre-set ETag headers are never
// touched, and Vary: Accept-Encoding is added to every response large
// enough to have been a candidate.
//
// HEAD responses carry the Content-Encoding and Vary headers the matching
// GET would have, with no Content-Length, since there is no body to encode.
//
// Responses that flush explicitly are streamed through uncompressed.
func Compress(onCompressed func(encoding string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cw := &compressWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)
			cw.finish(r, onCompressed)
		})
	}
}

// compressWriter buffers the response body so the encoded size can be
// compared against the original before anything is sent.
type compressWriter struct {
	http.ResponseWriter
	buf       bytes.Buffer
	status    int
	streaming bool
}

func (cw *compressWriter) WriteHeader(code int) {
	if cw.status == 0 {
		cw.status = code
	}
	if cw.streaming {
		cw.ResponseWriter.WriteHeader(code)
	}
}

func (cw *compressWriter) Write(b []byte) (int, error) {
	if cw.status == 0 {
		cw.status = http.StatusOK
	}
	if cw.streaming {
		return cw.ResponseWriter.Write(b)
	}
	return cw.buf.Write(b)
}

// Flush abandons buffering: the handler wants bytes on the wire now
// (SSE, long-poll), so compression is off the table for this response.
func (cw *compressWriter) Flush() {
	if !cw.streaming {
		cw.streaming = true
		cw.flushBuffered()
	}
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (cw *compressWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := cw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	cw.streaming = true
	return h.Hijack()
}

func (cw *compressWriter) flushBuffered() {
	status := cw.status
	if status == 0 {
		status = http.StatusOK
	}
	cw.ResponseWriter.WriteHeader(status)
	if cw.buf.Len() > 0 {
		_, _ = cw.ResponseWriter.Write(cw.buf.Bytes())
		cw.buf.Reset()
	}
}

func (cw *compressWriter) finish(r *http.Request, onCompressed func(string)) {
	if cw.streaming {
		return
	}

	body := cw.buf.Bytes()
	h := cw.Header()

	// HEAD handlers set headers without writing a body, so the size gate
	// below would skip them and a HEAD would disagree with its GET. Mirror
	// the headers the GET would have carried instead.
	if r.Method == http.MethodHead && len(body) == 0 {
		cw.finishHead(r, h)
		return
	}

	if h.Get("Content-Encoding") != "" || len(body) < minCompressLen {
		cw.flushBuffered()
		return
	}

	// from here on the response differs by Accept-Encoding even when we
	// end up not compressing for this particular client
	patchVary(h, "Accept-Encoding")

	ae := r.Header.Get("Accept-Encoding")
	encoded, encoding := encodeBody(body, ae)
	if encoding == "" {
		cw.flushBuffered()
		return
	}

	h.Set("Content-Encoding", encoding)
	h.Set("Content-Length", strconv.Itoa(len(encoded)))
	if onCompressed != nil {
		onCompressed(encoding)
	}

	status := cw.status
	if status == 0 {
		status = http.StatusOK
	}
	cw.ResponseWriter.WriteHeader(status)
	_, _ = cw.ResponseWriter.Write(encoded)
}

// finishHead advertises on a bodyless HEAD response the encoding headers
// the equivalent GET would produce: Vary and Content-Encoding when the
// declared length clears the threshold, with Content-Length dropped since
// the compressed size is unknowable without a body.
func (cw *compressWriter) finishHead(r *http.Request, h http.Header) {
	declared, err := strconv.Atoi(h.Get("Content-Length"))
	if err == nil && h.Get("Content-Encoding") == "" && declared >= minCompressLen {
		patchVary(h, "Accept-Encoding")
		if enc := chooseEncoding(r.Header.Get("Accept-Encoding")); enc != "" {
			h.Set("Content-Encoding", enc)
			h.Del("Content-Length")
		}
	}
	cw.flushBuffered()
}

// chooseEncoding picks the encoding a compressible response would use for
// this client, Brotli preferred.
func chooseEncoding(acceptEncoding string) string {
	if reAcceptsBrotli.MatchString(acceptEncoding) {
		return "br"
	}
	if reAcceptsGzip.MatchString(acceptEncoding) {
		return "gzip"
	}
	return ""
}

// encodeBody compresses body with the best encoding the client accepts.
// Returns ("", "") when no accepted encoding actually shrinks the body.
func encodeBody(body []byte, acceptEncoding string) ([]byte, string) {
	if reAcceptsBrotli.MatchString(acceptEncoding) {
		if enc, ok := brotliCompress(body); ok {
			return enc, "br"
		}
	}
	if reAcceptsGzip.MatchString(acceptEncoding) {
		if enc, ok := gzipCompress(body); ok {
			return enc, "gzip"
		}
	}
	return nil, ""
}

func brotliCompress(body []byte) ([]byte, bool) {
	var out bytes.Buffer
	bw := brotli.NewWriterLevel(&out, brotliQuality)
	if _, err := bw.Write(body); err != nil {
		return nil, false
	}
	if err := bw.Close(); err != nil {
		return nil, false
	}
	if out.Len() >= len(body) {
		return nil, false
	}
	return out.Bytes(), true
}

func gzipCompress(body []byte) ([]byte, bool) {
	var out bytes.Buffer
	gw, err := gzip.NewWriterLevel(&out, gzip.DefaultCompression)
	if err != nil {
		return nil, false
	}
	if _, err := gw.Write(body); err != nil {
		return nil, false
	}
	if err := gw.Close(); err != nil {
		return nil, false
	}
	if out.Len() >= len(body) {
		return nil, false
	}
	return out.Bytes(), true
}

// patchVary appends value to the Vary header unless it (or "*") is already
// present.
func patchVary(h http.Header, value string) {
	for _, v := range h.Values("Vary") {
		for _, item := range strings.Split(v, ",") {
			item = strings.TrimSpace(item)
			if item == "*" || strings.EqualFold(item, value) {
				return
			}
		}
	}
	h.Add("Vary", value)
}
