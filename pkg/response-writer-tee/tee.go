// Package tee records what an in-process handler writes, so the gateway can
// treat the handler like any other network.
package tee

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// ResponseSaver is an http.ResponseWriter that keeps the response in memory.
type ResponseSaver struct {
	header       http.Header
	body         bytes.Buffer
	status       int
	wroteHeaders bool
}

func (t *ResponseSaver) Header() http.Header {
	return t.header
}

// WriteHeader records the status code. Only the first call counts,
// and the headers are frozen at that point.
func (t *ResponseSaver) WriteHeader(statusCode int) {
	if t.wroteHeaders {
		return
	}
	t.wroteHeaders = true
	t.status = statusCode
	t.header = t.header.Clone()
}

func (t *ResponseSaver) Write(b []byte) (int, error) {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	return t.body.Write(b)
}

// StatusCode returns the recorded status, 200 if the handler never set one.
func (t *ResponseSaver) StatusCode() int {
	if !t.wroteHeaders {
		return http.StatusOK
	}
	return t.status
}

// ToResponse returns the recorded response as a reply to req.
func (t *ResponseSaver) ToResponse(req *http.Request) (*http.Response, error) {
	status := t.StatusCode()
	if status < 100 || status > 999 {
		return nil, fmt.Errorf("invalid status code %d", status)
	}
	header := t.header.Clone()
	header.Del("Content-Length")
	body := bytes.Clone(t.body.Bytes())
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}

// NewResponseSaver returns an empty ResponseSaver.
func NewResponseSaver() *ResponseSaver {
	return &ResponseSaver{header: http.Header{}}
}
