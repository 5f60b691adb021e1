// Package client implements the façade (SPEC_FULL §4.H): the single
// entry point, execute_transaction, that drives one transaction through
// the INIT -> LOCKED -> VOTED -> CERTIFIED -> CONFIRMED -> APPLIED ->
// DONE state machine, orchestrating the committee, store, address
// manager, broadcaster, certificate requester, syncer, and downloader
// components. The entries-map-by-id plus explicit state enum is
// grounded on the teacher's ConsensusCoordinator
// (pkg/batch/consensus_coordinator.go: ConsensusState +
// entries map[uuid.UUID]*ConsensusEntry guarded by sync.RWMutex); here
// each execution is transient rather than persisted across a map, but
// the google/uuid round-identifier convention is kept for correlating
// log lines across one execution's several RPC rounds.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/vaultbft/client/internal/committee"
	"github.com/vaultbft/client/internal/errs"
	"github.com/vaultbft/client/internal/types"
	"github.com/vaultbft/client/pkg/address"
	"github.com/vaultbft/client/pkg/authority"
	"github.com/vaultbft/client/pkg/broadcast"
	"github.com/vaultbft/client/pkg/certrequester"
	"github.com/vaultbft/client/pkg/download"
	"github.com/vaultbft/client/pkg/store"
	"github.com/vaultbft/client/pkg/syncer"
)

// State is one step of execute_transaction's state machine.
type State string

const (
	StateInit       State = "init"
	StateLocked     State = "locked"
	StateVoted      State = "voted"
	StateCertified  State = "certified"
	StateConfirmed  State = "confirmed"
	StateApplied    State = "applied"
	StateDone       State = "done"
)

// Config bundles the façade's tunables.
type Config struct {
	Logger *log.Logger
}

func DefaultConfig() *Config {
	return &Config{Logger: log.New(log.Writer(), "[Client] ", log.LstdFlags)}
}

// Client is the single entry point application code calls to submit a
// transaction and drive it to finality.
type Client struct {
	committee    *committee.Committee
	authorities  []authority.Client
	byName       map[types.AuthorityName]authority.Client
	store        *store.Store
	addrManager  *address.Manager
	broadcaster  *broadcast.Broadcaster
	certRequester *certrequester.Requester
	syncer       *syncer.Syncer
	downloader   *download.Downloader
	logger       *log.Logger
}

func New(
	c *committee.Committee,
	authorities []authority.Client,
	s *store.Store,
	addrManager *address.Manager,
	b *broadcast.Broadcaster,
	cr *certrequester.Requester,
	sy *syncer.Syncer,
	dl *download.Downloader,
	cfg *Config,
) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Client] ", log.LstdFlags)
	}
	byName := make(map[types.AuthorityName]authority.Client, len(authorities))
	for _, a := range authorities {
		byName[a.Name()] = a
	}
	return &Client{
		committee:     c,
		authorities:   authorities,
		byName:        byName,
		store:         s,
		addrManager:   addrManager,
		broadcaster:   b,
		certRequester: cr,
		syncer:        sy,
		downloader:    dl,
		logger:        cfg.Logger,
	}
}

// Result is what ExecuteTransaction returns once a transaction reaches
// StateDone.
type Result struct {
	Certificate *types.CertifiedTx
	Effects     *types.TransactionEffects
	Downloaded  []types.ObjectRef
	Failed      []types.ObjectRef
}

// ExecuteTransaction drives t through every state of §4.H's machine,
// returning once it is either fully applied and its successor objects
// downloaded or reported as failed in Result.Failed (StateDone), or it
// has failed; after a failure the lock is released only when the error
// is side-effect-free. A round id correlates every log line emitted
// during this call.
func (c *Client) ExecuteTransaction(ctx context.Context, t *types.Transaction) (*Result, error) {
	round := uuid.New()
	state := StateInit
	c.logger.Printf("[%s] execute_transaction start for %s", round, t.Digest())

	if berr := c.addrManager.CheckInputVersions(t); berr != nil {
		return nil, fmt.Errorf("execute_transaction[%s]: failed in state %s: %w", round, state, berr)
	}

	if err := c.addrManager.LockPending(t); err != nil {
		return nil, fmt.Errorf("execute_transaction[%s]: lock: %w", round, err)
	}
	state = StateLocked
	c.logger.Printf("[%s] state -> %s", round, state)

	votes, berr := c.vote(ctx, t)
	if berr != nil {
		return c.fail(round, t, state, berr)
	}
	state = StateVoted
	c.logger.Printf("[%s] state -> %s", round, state)

	cert := &types.CertifiedTx{Transaction: *t, Votes: votes}
	state = StateCertified
	c.logger.Printf("[%s] state -> %s", round, state)

	effects, berr := c.confirm(ctx, cert)
	if berr != nil {
		return c.fail(round, t, state, berr)
	}
	state = StateConfirmed
	c.logger.Printf("[%s] state -> %s", round, state)

	toDownload, err := c.addrManager.ApplyEffects(cert, effects)
	if err != nil {
		return nil, fmt.Errorf("execute_transaction[%s]: apply effects: %w", round, err)
	}
	if err := c.addrManager.UnlockPending(t); err != nil {
		return nil, fmt.Errorf("execute_transaction[%s]: unlock: %w", round, err)
	}
	state = StateApplied
	c.logger.Printf("[%s] state -> %s", round, state)

	stored, failed := c.downloader.Download(ctx, toDownload)
	state = StateDone
	c.logger.Printf("[%s] state -> %s (downloaded %d, failed %d)", round, state, len(stored), len(failed))

	return &Result{Certificate: cert, Effects: effects, Downloaded: stored, Failed: failed}, nil
}

// vote broadcasts t to the committee and collects a quorum of votes.
func (c *Client) vote(ctx context.Context, t *types.Transaction) ([]types.SignedVote, *errs.Error) {
	votes, berr := broadcast.CommunicateWithQuorum(ctx, c.broadcaster, c.authorities, func(ctx context.Context, a authority.Client) (types.SignedVote, *errs.Error) {
		resp, err := a.HandleTransaction(ctx, t)
		if err != nil {
			var re *authority.RemoteError
			if errors.As(err, &re) {
				return types.SignedVote{}, re.ToErr()
			}
			return types.SignedVote{}, errs.Wrap(errs.AuthorityUpdateFailure, "handle_transaction", err)
		}
		if resp == nil || resp.SignedVote == nil {
			return types.SignedVote{}, errs.New(errs.AuthorityUpdateFailure)
		}
		return *resp.SignedVote, nil
	})
	if berr != nil {
		if recovered := c.recoverCertifiedElsewhere(ctx, t, berr); recovered != nil {
			return recovered.Votes, nil
		}
		return nil, berr
	}
	out := make([]types.SignedVote, 0, len(votes))
	for _, v := range votes {
		out = append(out, v)
	}
	return out, nil
}

// recoverCertifiedElsewhere handles the idempotent-retry case named in
// §4.H: a prior crashed run may have already driven this exact
// transaction to a certificate before dying, so a second vote() attempt
// sees UnexpectedSequenceNumber/ConcurrentTransaction from authorities
// that already moved past it. Rather than treat that as a hard failure,
// ask the certificate requester whether one of t's owned inputs already
// has a parent certificate for t's own digest, and resume from there if
// so. Returns nil if no such certificate exists.
func (c *Client) recoverCertifiedElsewhere(ctx context.Context, t *types.Transaction, berr *errs.Error) *types.CertifiedTx {
	if berr.Kind != errs.QuorumNotReached {
		return nil
	}
	relevant := false
	for _, k := range berr.Inner {
		if k == errs.UnexpectedSequenceNumber || k == errs.ConcurrentTransaction {
			relevant = true
			break
		}
	}
	if !relevant {
		return nil
	}

	for _, in := range t.Inputs {
		version, ok := in.InputVersion()
		if !ok {
			continue
		}
		cert, err := c.certRequester.Request(ctx, c.authorities, in.ObjectID(), version+1)
		if err != nil || cert == nil {
			continue
		}
		if cert.Transaction.Digest() == t.Digest() {
			return cert
		}
	}
	return nil
}

// confirm broadcasts the certificate to the committee, repairing any
// authority that cannot yet accept it via the syncer, and collects a
// quorum of effects replies. It returns any one of those replies; the
// replies are not compared with each other.
func (c *Client) confirm(ctx context.Context, cert *types.CertifiedTx) (*types.TransactionEffects, *errs.Error) {
	effectsByAuthority, berr := broadcast.CommunicateWithQuorum(ctx, c.broadcaster, c.authorities, func(ctx context.Context, a authority.Client) (types.TransactionEffects, *errs.Error) {
		resp, err := a.HandleConfirmationOrder(ctx, cert)
		if err != nil {
			if syncErr := c.syncer.Sync(ctx, a, cert); syncErr != nil {
				return types.TransactionEffects{}, errs.Wrap(errs.AuthorityUpdateFailure, "sync then confirm", syncErr)
			}
			resp, err = a.HandleConfirmationOrder(ctx, cert)
			if err != nil {
				var re *authority.RemoteError
				if errors.As(err, &re) {
					return types.TransactionEffects{}, re.ToErr()
				}
				return types.TransactionEffects{}, errs.Wrap(errs.AuthorityUpdateFailure, "handle_confirmation_order after sync", err)
			}
		}
		if resp == nil || resp.SignedEffects == nil {
			return types.TransactionEffects{}, errs.New(errs.AuthorityUpdateFailure)
		}
		return *resp.SignedEffects, nil
	})
	if berr != nil {
		return nil, berr
	}

	for _, e := range effectsByAuthority {
		return &e, nil
	}
	return nil, errs.New(errs.QuorumNotReached)
}

// fail releases the lock when the failure is side-effect-free (§4.H/
// §7: authorities certainly hold no state for t) and reports the
// broadcast error either way.
func (c *Client) fail(round uuid.UUID, t *types.Transaction, state State, berr *errs.Error) (*Result, error) {
	if errs.IsSideEffectFree(berr) {
		if err := c.addrManager.UnlockPending(t); err != nil {
			c.logger.Printf("[%s] failed to unlock after side-effect-free error in state %s: %v", round, state, err)
		}
	} else {
		c.logger.Printf("[%s] leaving %s locked: error in state %s is not known side-effect-free: %v", round, t.Digest(), state, berr)
	}
	return nil, fmt.Errorf("execute_transaction[%s]: failed in state %s: %w", round, state, berr)
}
