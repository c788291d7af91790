package serializer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Gateway-Stored-At"

type StoredResponse struct {
	Response *http.Response
	// The value of the clock at the time the response was written to the store.
	StoredAt time.Time
}

// StoredResponseToBytes returns the HTTP/1.1 representation of the stored response.
// The body of the original response is buffered and set back, so the caller
// can still send it to the client.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	res := sRes.Response
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.Unix(), 10))
	bts, err := responseToBytes(res)
	// remove the extra header so it does not leak to the client
	res.Header.Del(storedAtHeaderName)
	return bts, err
}

// BytesToStoredResponse reconstructs a stored response.
// The request is attached to the response as is, it may be nil.
func BytesToStoredResponse(b []byte, req *http.Request) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := bytesToResponse(b, req)
	if err != nil {
		return sRes, err
	}
	sRes.Response = res
	if storedAt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64); err == nil {
		sRes.StoredAt = time.Unix(storedAt, 0)
	}
	res.Header.Del(storedAtHeaderName)
	return sRes, nil
}

// bytesToResponse converts a byte slice to a http.Response.
func bytesToResponse(b []byte, req *http.Request) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
}

// responseToBytes converts a response to a byte slice.
// The body is read fully, so the written response always carries a Content-Length.
func responseToBytes(res *http.Response) ([]byte, error) {
	var body []byte
	if res.Body != nil {
		var err error
		body, err = io.ReadAll(res.Body)
		res.Body.Close()
		// set back whatever was read, the caller still owns the response
		res.Body = io.NopCloser(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.TransferEncoding = nil

	// write a copy, the original may have been received over HTTP/2
	// or belong to a HEAD request
	wire := *res
	wire.ProtoMajor, wire.ProtoMinor = 1, 1
	wire.Request = nil
	wire.Close = false
	wire.Body = io.NopCloser(bytes.NewReader(body))

	buf := &bytes.Buffer{}
	if err := wire.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
