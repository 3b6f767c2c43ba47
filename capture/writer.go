package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"net/http"
)

// captureWriter forwards every write to the underlying ResponseWriter and
// keeps the first limit bytes aside for logging. A zero limit tracks status
// and size only.
type captureWriter struct {
	http.ResponseWriter

	buf         bytes.Buffer
	limit       int
	status      int
	size        int64
	wroteHeader bool
}

func newCaptureWriter(w http.ResponseWriter, limit int) *captureWriter {
	return &captureWriter{ResponseWriter: w, limit: limit}
}

func (w *captureWriter) WriteHeader(code int) {
	// Informational responses may precede the final status.
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(p)
	w.size += int64(n)
	if remain := w.limit - w.buf.Len(); remain > 0 && n > 0 {
		if n < remain {
			remain = n
		}
		w.buf.Write(p[:remain])
	}
	return n, err
}

func (w *captureWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		if !w.wroteHeader {
			w.WriteHeader(http.StatusOK)
		}
		f.Flush()
	}
}

func (w *captureWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("capture: %T cannot hijack: %w", w.ResponseWriter, http.ErrNotSupported)
	}
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *captureWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Captured returns the bytes kept aside, at most the configured limit.
func (w *captureWriter) Captured() string {
	return w.buf.String()
}

// StatusCode returns the status sent to the client, 200 if the handler wrote
// a body without one, or 0 if nothing was written.
func (w *captureWriter) StatusCode() int {
	return w.status
}

// Size returns the number of body bytes accepted by the underlying writer.
func (w *captureWriter) Size() int64 {
	return w.size
}

// bufferedWriter holds the whole response until commit. Headers go straight
// to the underlying writer's header map.
type bufferedWriter struct {
	w           http.ResponseWriter
	buf         bytes.Buffer
	status      int
	wroteHeader bool
}

func newBufferedWriter(w http.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{w: w}
}

func (b *bufferedWriter) Header() http.Header {
	return b.w.Header()
}

func (b *bufferedWriter) WriteHeader(code int) {
	if b.wroteHeader || (code >= 100 && code < 200) {
		return
	}
	b.status = code
	b.wroteHeader = true
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	return b.buf.Write(p)
}

// StatusCode returns the buffered status, or 0 if nothing was written.
func (b *bufferedWriter) StatusCode() int {
	return b.status
}

func (b *bufferedWriter) Bytes() []byte {
	return b.buf.Bytes()
}

// commit sends the buffered status and body to the client.
func (b *bufferedWriter) commit() error {
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	b.w.WriteHeader(status)
	if b.buf.Len() == 0 {
		return nil
	}
	_, err := b.w.Write(b.buf.Bytes())
	return err
}
