// Package broadcast implements the quorum broadcaster (SPEC_FULL
// §4.E): the communicate_with_quorum primitive that fires an action
// concurrently against every authority and terminates on one of three
// conditions. The concurrent fan-out / channel-collection / deadline
// shape is grounded on the teacher's
// AttestationBroadcaster.BroadcastAndCollect in
// pkg/batch/attestation_broadcaster.go (self-action-first, buffered
// response/error channels, a closer goroutine, a collect loop selecting
// over responses/errors/deadline/ctx.Done) — generalized here from one
// hardcoded "collect BLS attestations until quorum" routine into a
// reusable generic primitive over any authority action, and from a
// simple count-based quorum into the stake-weighted three-condition
// rule of §4.E.
package broadcast

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vaultbft/client/internal/committee"
	"github.com/vaultbft/client/internal/errs"
	"github.com/vaultbft/client/internal/types"
	"github.com/vaultbft/client/pkg/authority"
	"github.com/vaultbft/client/pkg/metrics"
)

// Action is invoked once per authority and returns either a value or a
// typed error. A nil *errs.Error return pair is never valid; exactly
// one of (value, err) is meaningful per Go convention, but Action
// always returns both so the broadcaster can classify outcomes as
// Success(V) or Error(ErrKind) uniformly.
type Action[V any] func(ctx context.Context, client authority.Client) (V, *errs.Error)

// Broadcaster runs Actions against a committee's authorities and
// applies the three-condition termination rule.
type Broadcaster struct {
	committee *committee.Committee
	timeout   time.Duration
	logger    *log.Logger
}

type Config struct {
	Timeout time.Duration // per-call timeout, default 60s per §5
	Logger  *log.Logger
}

func DefaultConfig() *Config {
	return &Config{
		Timeout: 60 * time.Second,
		Logger:  log.New(log.Writer(), "[Broadcaster] ", log.LstdFlags),
	}
}

func New(c *committee.Committee, cfg *Config) (*Broadcaster, error) {
	if c == nil {
		return nil, fmt.Errorf("broadcast: committee cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Broadcaster] ", log.LstdFlags)
	}
	return &Broadcaster{committee: c, timeout: cfg.Timeout, logger: cfg.Logger}, nil
}

type result[V any] struct {
	authority types.AuthorityName
	value     V
	err       *errs.Error
}

// CommunicateWithQuorum fires action concurrently against every given
// authority and streams responses as they arrive, applying the
// priority-ordered termination rule of §4.E:
//  1. Σ stake(Success) >= quorum_threshold -> return collected values.
//  2. Σ stake(responses of one exact error kind) >= validity_threshold
//     -> QuorumNotReached{inner: kinds}.
//  3. all responded, no quorum -> QuorumNotReached{inner: kinds seen}.
//
// Responses arriving after a terminal condition land in the results
// channel, which has one buffered slot per authority, and are discarded,
// so no sender blocks and no goroutine leaks; the closer goroutine only
// waits for every sender and closes the channel. In-flight authority
// calls are not forcibly interrupted (cancellation is cooperative via
// ctx).
func CommunicateWithQuorum[V any](
	ctx context.Context,
	b *Broadcaster,
	authorities []authority.Client,
	action Action[V],
) (map[types.AuthorityName]V, *errs.Error) {
	if len(authorities) == 0 {
		return nil, errs.New(errs.QuorumNotReached)
	}

	start := time.Now()
	defer func() { metrics.VoteLatency.Observe(time.Since(start).Seconds()) }()

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	results := make(chan result[V], len(authorities))

	var wg sync.WaitGroup
	for _, a := range authorities {
		wg.Add(1)
		go func(a authority.Client) {
			defer wg.Done()
			v, aerr := action(callCtx, a)
			select {
			case results <- result[V]{authority: a.Name(), value: v, err: aerr}:
			case <-ctx.Done():
			}
		}(a)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	successes := make(map[types.AuthorityName]V)
	var successStake uint64
	var groups []*errorGroup
	responded := 0

	quorum := b.committee.QuorumThreshold()
	validity := b.committee.ValidityThreshold()

	for responded < len(authorities) {
		select {
		case r, ok := <-results:
			if !ok {
				goto done
			}
			responded++
			stake := b.committee.Weight(r.authority)

			if r.err == nil {
				successes[r.authority] = r.value
				successStake += stake
				if successStake >= quorum {
					metrics.QuorumOutcomes.WithLabelValues("success").Inc()
					return successes, nil
				}
				continue
			}

			group := addToGroup(groups, r.err, stake)
			if group == nil {
				groups = append(groups, &errorGroup{representative: r.err, stake: stake})
			}
			for _, g := range groups {
				if g.stake >= validity {
					b.logger.Printf("validity threshold reached for error kind %s", g.representative.Kind)
					metrics.QuorumOutcomes.WithLabelValues("validity_threshold").Inc()
					return nil, errs.NewQuorumNotReached(observedKinds(groups))
				}
			}

		case <-ctx.Done():
			return nil, errs.Wrap(errs.QuorumNotReached, "context cancelled", ctx.Err())
		}
	}

done:
	if successStake >= quorum {
		metrics.QuorumOutcomes.WithLabelValues("success").Inc()
		return successes, nil
	}
	metrics.QuorumOutcomes.WithLabelValues("no_quorum").Inc()
	return nil, errs.NewQuorumNotReached(observedKinds(groups))
}

// errorGroup pools error responses that compare equal by kind+payload
// (errs.SameKind), per §4.E's "error equality for grouping is by
// kind+parameters" rule.
type errorGroup struct {
	representative *errs.Error
	stake          uint64
}

// addToGroup adds e's stake to the first existing group it matches by
// SameKind, returning that group, or nil if no existing group matched
// (the caller then starts a new one).
func addToGroup(groups []*errorGroup, e *errs.Error, stake uint64) *errorGroup {
	for _, g := range groups {
		if errs.SameKind(g.representative, e) {
			g.stake += stake
			return g
		}
	}
	return nil
}

func observedKinds(groups []*errorGroup) []errs.Kind {
	kinds := make([]errs.Kind, 0, len(groups))
	for _, g := range groups {
		kinds = append(kinds, g.representative.Kind)
	}
	return kinds
}
