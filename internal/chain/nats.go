package chain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jpillora/backoff"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"CurveLedger/internal/errs"
)

// SubjectMint is the request/reply subject the execution worker
// listens on.
const SubjectMint = "curve.launch.mint"

// NATSDistributor sends mint requests over NATS request/reply. Each
// attempt is bounded by the per-request timeout; failed attempts are
// retried with jittered exponential backoff up to MaxAttempts. The
// overall call still respects ctx.
type NATSDistributor struct {
	nc          *nats.Conn
	timeout     time.Duration
	maxAttempts int
	log         zerolog.Logger
}

type NATSOption func(*NATSDistributor)

func WithRequestTimeout(d time.Duration) NATSOption {
	return func(n *NATSDistributor) { n.timeout = d }
}

func WithMaxAttempts(n int) NATSOption {
	return func(d *NATSDistributor) { d.maxAttempts = n }
}

func NewNATSDistributor(nc *nats.Conn, log zerolog.Logger, opts ...NATSOption) *NATSDistributor {
	d := &NATSDistributor{
		nc:          nc,
		timeout:     10 * time.Second,
		maxAttempts: 5,
		log:         log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// mintReply is the wire envelope the worker replies with.
type mintReply struct {
	Receipt *MintReceipt `json:"receipt,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func (d *NATSDistributor) MintAndDistribute(ctx context.Context, req *MintRequest) (*MintReceipt, error) {
	const op = "chain.MintAndDistribute"

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Wrap(errs.CodeValidation, op, err, "marshal mint request")
	}

	b := &backoff.Backoff{
		Min:    250 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
		msg, err := d.nc.RequestWithContext(reqCtx, SubjectMint, payload)
		cancel()

		if err == nil {
			var reply mintReply
			if uerr := json.Unmarshal(msg.Data, &reply); uerr != nil {
				return nil, errs.Wrap(errs.CodeExternalDependency, op, uerr, "decode mint reply")
			}
			if reply.Error != "" {
				// Worker-side rejections are not transient; surface immediately.
				return nil, errs.E(errs.CodeExternalDependency, op, "mint rejected: %s", reply.Error)
			}
			if reply.Receipt == nil {
				return nil, errs.E(errs.CodeExternalDependency, op, "empty mint reply")
			}
			return reply.Receipt, nil
		}

		lastErr = err
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			break
		}

		wait := b.Duration()
		d.log.Warn().
			Err(err).
			Str("curve_id", req.CurveID.String()).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("mint request failed, retrying")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, errs.Wrap(errs.CodeExternalDependency, op, ctx.Err(), "mint aborted")
		}
	}

	return nil, errs.Wrap(errs.CodeExternalDependency, op, lastErr,
		"mint failed after %d attempts", d.maxAttempts)
}
