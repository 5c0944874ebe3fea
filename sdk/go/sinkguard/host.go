package sinkguard

import (
	"net/http"
)

// responseHost applies verdict effects to an http.ResponseWriter. Once
// terminated, every later write is dropped.
type responseHost struct {
	w          http.ResponseWriter
	guard      *Guard
	pending    int
	status     int
	wrote      bool
	terminated bool
}

func (h *responseHost) SetStatus(code int) {
	if code > 0 {
		h.pending = code
	}
}

func (h *responseHost) ClearHeaders() {
	hdr := h.w.Header()
	for k := range hdr {
		delete(hdr, k)
	}
}

func (h *responseHost) SetHeader(name, value string) {
	h.w.Header().Set(name, value)
}

func (h *responseHost) Write(body string) {
	if h.terminated {
		return
	}
	h.writeHeader(h.pending)
	_, _ = h.w.Write([]byte(body))
}

func (h *responseHost) Terminate() {
	h.writeHeader(h.pending)
	h.terminated = true
}

func (h *responseHost) writeHeader(code int) {
	if h.wrote {
		return
	}
	if code == 0 {
		code = http.StatusOK
	}
	h.status = code
	h.wrote = true
	h.w.WriteHeader(code)
}

func (h *responseHost) statusCode() int {
	if h.status == 0 {
		return http.StatusOK
	}
	return h.status
}

// appWriter is the http.ResponseWriter the application sees.
type appWriter struct {
	h *responseHost
}

func (a appWriter) Header() http.Header { return a.h.w.Header() }

func (a appWriter) WriteHeader(code int) {
	if a.h.terminated {
		return
	}
	a.h.writeHeader(code)
}

func (a appWriter) Write(b []byte) (int, error) {
	if a.h.terminated {
		return len(b), nil
	}
	a.h.writeHeader(http.StatusOK)
	return a.h.w.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (a appWriter) Unwrap() http.ResponseWriter { return a.h.w }
