// Package download implements the object downloader (SPEC_FULL §4.D):
// bounded-concurrency, digest-checked fan-out fetch of object payloads
// after commit.
package download

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/vaultbft/client/internal/types"
	"github.com/vaultbft/client/pkg/authority"
	"github.com/vaultbft/client/pkg/metrics"
	"github.com/vaultbft/client/pkg/store"
)

// resultChanCapacity is the bounded channel capacity named in §4.D.
const resultChanCapacity = 1024

// Downloader fetches object payloads into the persistent store.
type Downloader struct {
	authorities    []authority.Client
	store          *store.Store
	maxConcurrency int
	perRefTimeout  time.Duration
	logger         *log.Logger
}

type Config struct {
	MaxConcurrency int           // bound on simultaneous per-ref tasks, default 32
	PerRefTimeout  time.Duration // default 60s per §5
	Logger         *log.Logger
}

func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency: 32,
		PerRefTimeout:  60 * time.Second,
		Logger:         log.New(log.Writer(), "[Downloader] ", log.LstdFlags),
	}
}

func New(authorities []authority.Client, s *store.Store, cfg *Config) *Downloader {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 32
	}
	if cfg.PerRefTimeout == 0 {
		cfg.PerRefTimeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Downloader] ", log.LstdFlags)
	}
	return &Downloader{
		authorities:    authorities,
		store:          s,
		maxConcurrency: cfg.MaxConcurrency,
		perRefTimeout:  cfg.PerRefTimeout,
		logger:         cfg.Logger,
	}
}

type outcome struct {
	ref   types.ObjectRef
	ok    bool
	cause string
}

// Download hydrates every ref in refs, returning the set that was
// successfully stored and the set that was not. Unmatched digests,
// timeouts, and per-authority errors all count as "not found"; a ref
// fails only if no authority returned a matching object within its
// per-request timeout.
func (d *Downloader) Download(ctx context.Context, refs []types.ObjectRef) (stored []types.ObjectRef, failed []types.ObjectRef) {
	if len(refs) == 0 {
		return nil, nil
	}

	results := make(chan outcome, resultChanCapacity)
	sem := make(chan struct{}, d.maxConcurrency)

	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		sem <- struct{}{}
		metrics.InFlightDownloads.Inc()
		go func(ref types.ObjectRef) {
			defer wg.Done()
			defer func() { <-sem; metrics.InFlightDownloads.Dec() }()

			ok, cause := d.fetchOne(ctx, ref)
			results <- outcome{ref: ref, ok: ok, cause: cause}
		}(ref)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.ok {
			stored = append(stored, r.ref)
			metrics.DownloadOutcomes.WithLabelValues("stored").Inc()
		} else {
			failed = append(failed, r.ref)
			metrics.DownloadOutcomes.WithLabelValues("failed").Inc()
			d.logger.Printf("download failed for %s: %s", r.ref, r.cause)
		}
	}
	return stored, failed
}

// fetchOne asks every authority in parallel for ref and accepts the
// first response whose object's digest matches. The downloader is
// naive with respect to Byzantine authorities beyond the digest check:
// a matching digest is accepted from any one.
func (d *Downloader) fetchOne(ctx context.Context, ref types.ObjectRef) (bool, string) {
	callCtx, cancel := context.WithTimeout(ctx, d.perRefTimeout)
	defer cancel()

	type reply struct {
		payload []byte
		digest  types.Digest
	}
	replies := make(chan reply, len(d.authorities))

	var wg sync.WaitGroup
	for _, a := range d.authorities {
		wg.Add(1)
		go func(a authority.Client) {
			defer wg.Done()
			resp, err := a.HandleObjectInfoRequest(callCtx, authority.ObjectInfoRequest{ObjectID: ref.ID})
			if err != nil || resp == nil || resp.ObjectAndLock == nil {
				return
			}
			if resp.ObjectAndLock.Ref.Digest != ref.Digest {
				return
			}
			select {
			case replies <- reply{payload: resp.ObjectAndLock.Payload, digest: resp.ObjectAndLock.Ref.Digest}:
			case <-callCtx.Done():
			}
		}(a)
	}
	go func() {
		wg.Wait()
		close(replies)
	}()

	select {
	case r, ok := <-replies:
		if !ok {
			return false, "no authority returned a matching digest"
		}
		if err := d.store.NewBatch().PutObjectPayload(ref, r.payload).Write(); err != nil {
			return false, err.Error()
		}
		return true, ""
	case <-callCtx.Done():
		return false, "timeout"
	}
}
