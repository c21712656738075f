package testutil

import (
	"net/http"
	"time"

	id "certledger/pkg/domain"
	"certledger/pkg/requestcontext"
)

// AsCaller marks req as authenticated by caller, as the auth middleware would.
func AsCaller(req *http.Request, caller id.Address) *http.Request {
	return req.WithContext(requestcontext.WithCaller(req.Context(), caller))
}

// AtTime pins the ledger time of req.
func AtTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
