// Package rfc9211 implements the Cache-Status HTTP response header field.
// https://www.rfc-editor.org/rfc/rfc9211
package rfc9211

import (
	"fmt"
	"strings"
)

const HeaderName = "Cache-Status"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics did not allow its use.
	FwdReasonRequest FwdReason = "request"
)

// CacheStatus describes how a cache handled a single request.
type CacheStatus struct {
	// Name of the cache, first item of the header value.
	Cache     string
	Status    Status
	FwdReason FwdReason
	// FwdStatus is the status code the next hop returned, if forwarded.
	FwdStatus int
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs CacheStatus) String() string {
	var b strings.Builder
	name := cs.Cache
	if name == "" {
		name = "OfflineGateway"
	}
	b.WriteString(name)
	switch cs.Status {
	case StatusHit:
		b.WriteString("; hit")
	case StatusFwd:
		b.WriteString("; fwd=")
		if cs.FwdReason != "" {
			b.WriteString(string(cs.FwdReason))
		} else {
			b.WriteString(string(FwdReasonMiss))
		}
		if cs.FwdStatus != 0 {
			fmt.Fprintf(&b, "; fwd-status=%d", cs.FwdStatus)
		}
	}
	if cs.Stored {
		b.WriteString("; stored")
	}
	if cs.Detail != "" {
		fmt.Fprintf(&b, "; detail=%q", cs.Detail)
	}
	return b.String()
}
