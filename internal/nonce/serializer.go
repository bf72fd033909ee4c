package nonce

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/xueqianLu/txsigner/internal/metrics"
)

// DefaultMaxAttempts bounds the sign-and-submit attempts of one request.
const DefaultMaxAttempts = 5

// ErrNonceRace is matched by every *RaceError.
var ErrNonceRace = errors.New("nonce race")

// Upstream rejection messages caused by a concurrent submission.
var raceMessages = []string{
	"nonce too low",
	"replacement transaction underpriced",
}

// RaceError is a submission rejected because the nonce was taken.
type RaceError struct {
	Err error
}

func (e *RaceError) Error() string { return e.Err.Error() }

func (e *RaceError) Unwrap() error { return e.Err }

func (e *RaceError) Is(target error) bool { return target == ErrNonceRace }

// Classify wraps err in a *RaceError when the upstream message reports a
// nonce race, and returns it unchanged otherwise.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, m := range raceMessages {
		if strings.Contains(msg, m) {
			return &RaceError{Err: err}
		}
	}
	return err
}

// Serializer runs sign-and-submit attempts one address at a time and
// repeats them when they lose a nonce race.
type Serializer struct {
	locks       *LockTable
	maxAttempts int
	metrics     *metrics.Metrics
}

// NewSerializer creates a Serializer over locks. maxAttempts <= 0 selects
// DefaultMaxAttempts.
func NewSerializer(locks *LockTable, maxAttempts int, m *metrics.Metrics) *Serializer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Serializer{
		locks:       locks,
		maxAttempts: maxAttempts,
		metrics:     m,
	}
}

// Do runs attempt while holding the slot of address. A nonce race is retried
// unless the nonce was pinned by the caller; every other error is returned
// unchanged.
func (s *Serializer) Do(ctx context.Context, address common.Address, pinned bool, attempt func(context.Context) error) error {
	return s.locks.WithAddressLock(ctx, address, func(ctx context.Context) error {
		logger := zerolog.Ctx(ctx)

		for i := 1; ; i++ {
			err := attempt(ctx)
			if err == nil || !errors.Is(err, ErrNonceRace) {
				return err
			}
			if pinned {
				s.metrics.NonceRaceSurfaced()
				return err
			}
			if i == s.maxAttempts {
				s.metrics.NonceRaceSurfaced()
				return errors.Wrapf(err, "gave up after %d attempts", s.maxAttempts)
			}
			s.metrics.NonceRetried()
			logger.Debug().Err(err).Int("attempt", i).Str("from", address.Hex()).Msg("Nonce race, retrying with a fresh nonce")
		}
	})
}
