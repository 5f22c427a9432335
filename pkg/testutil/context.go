package testutil

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"sos/pkg/requestcontext"
)

// WithCaller sets the ledger caller on the request context, as the auth
// middleware would after validating a token for account.
func WithCaller(req *http.Request, account common.Address) *http.Request {
	return req.WithContext(requestcontext.WithCaller(req.Context(), account))
}

// WithTime pins the request clock so emitted events carry a fixed timestamp.
func WithTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}

// Account returns a deterministic test address whose last byte is b.
func Account(b byte) common.Address {
	var a common.Address
	a[common.AddressLength-1] = b
	return a
}
