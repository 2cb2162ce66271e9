// Package oracle defines the benchmark-rate oracle adapter used during
// valuation. The engine issues a request identified by the construction-time
// job id; the rate arrives later through a fulfillment callback that must
// carry the original request id.
package oracle

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrUnknownJob = errors.New("oracle: unknown job id")

// Adapter issues benchmark-rate requests. Implementations may answer
// asynchronously; the engine matches fulfillments against the returned
// request id.
type Adapter interface {
	// RequestRate registers a rate request for the given job and returns
	// the request id the fulfillment must echo.
	RequestRate(ctx context.Context, jobID string) (string, error)
}

// FixedAdapter is the local-mode adapter: it accepts requests for a single
// known job and expects fulfillment to be driven externally (tests, or the
// operator endpoint) with whatever rate is appropriate.
type FixedAdapter struct {
	jobID string
}

// NewFixedAdapter creates an adapter that recognizes one job id.
func NewFixedAdapter(jobID string) *FixedAdapter {
	return &FixedAdapter{jobID: jobID}
}

func (a *FixedAdapter) RequestRate(_ context.Context, jobID string) (string, error) {
	if jobID != a.jobID {
		return "", ErrUnknownJob
	}
	return uuid.New().String(), nil
}

// Fulfillment is a benchmark-rate response. Rate uses the same scaling as
// the swap's configured rates.
type Fulfillment struct {
	RequestID string          `json:"request_id"`
	Rate      decimal.Decimal `json:"rate"`
}
