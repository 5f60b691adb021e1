// Package committee implements the stake-weighted authority set: the
// quorum/validity thresholds and weighted sampling operations of
// SPEC_FULL §4.A. The stake-and-voting-power shape follows the
// teacher's PeerManager.GetTotalVotingPower/ValidatorPeer.VotingPower
// convention in pkg/batch, generalized from a single total into a
// per-authority weighted set.
package committee

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/vaultbft/client/internal/types"
)

// Committee is an unordered mapping from AuthorityName to positive
// integer stake.
type Committee struct {
	stakes     map[types.AuthorityName]uint64
	names      []types.AuthorityName // stable order for sampling
	totalStake uint64
}

// New builds a Committee from a stake map. Zero or negative stakes are
// rejected; the caller (pkg/config) is expected to have validated the
// manifest already, but this guards against programmer error too.
func New(stakes map[types.AuthorityName]uint64) (*Committee, error) {
	if len(stakes) == 0 {
		return nil, fmt.Errorf("committee: stake map must not be empty")
	}
	c := &Committee{stakes: make(map[types.AuthorityName]uint64, len(stakes))}
	for name, stake := range stakes {
		if stake == 0 {
			return nil, fmt.Errorf("committee: authority %s has zero stake", name)
		}
		c.stakes[name] = stake
		c.names = append(c.names, name)
		c.totalStake += stake
	}
	sort.Slice(c.names, func(i, j int) bool {
		return string(c.names[i][:]) < string(c.names[j][:])
	})
	return c, nil
}

// Weight returns an authority's stake, or 0 if it is not a member.
func (c *Committee) Weight(name types.AuthorityName) uint64 {
	return c.stakes[name]
}

// TotalStake returns the sum of all member stakes.
func (c *Committee) TotalStake() uint64 { return c.totalStake }

// QuorumThreshold is ⌊2·total_stake/3⌋ + 1.
func (c *Committee) QuorumThreshold() uint64 {
	return (2*c.totalStake)/3 + 1
}

// ValidityThreshold is ⌊(total_stake−1)/3⌋ + 1: any subset meeting it
// is guaranteed to contain at least one honest authority so long as
// faulty stake stays below it.
func (c *Committee) ValidityThreshold() uint64 {
	return (c.totalStake-1)/3 + 1
}

// Members returns the committee's authority names in a stable order.
func (c *Committee) Members() []types.AuthorityName {
	out := make([]types.AuthorityName, len(c.names))
	copy(out, c.names)
	return out
}

// Sample draws one authority with probability proportional to stake,
// using a cryptographically seeded RNG.
func (c *Committee) Sample() (types.AuthorityName, error) {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return types.AuthorityName{}, fmt.Errorf("committee: seeding sample RNG: %w", err)
	}
	target := binary.BigEndian.Uint64(seed[:]) % c.totalStake

	var cursor uint64
	for _, name := range c.names {
		cursor += c.stakes[name]
		if target < cursor {
			return name, nil
		}
	}
	// Unreachable given totalStake == Σ stakes, but keep the fallback
	// honest rather than panicking.
	return c.names[len(c.names)-1], nil
}

// SampleDistinct draws up to n distinct authorities by repeated
// weighted sampling without replacement, for sync's "retries distinct
// sources sampled by stake" requirement (§4.F).
func (c *Committee) SampleDistinct(n int, exclude map[types.AuthorityName]bool) ([]types.AuthorityName, error) {
	remaining := make(map[types.AuthorityName]uint64, len(c.stakes))
	var remainingTotal uint64
	for name, stake := range c.stakes {
		if exclude[name] {
			continue
		}
		remaining[name] = stake
		remainingTotal += stake
	}

	var out []types.AuthorityName
	for len(out) < n && remainingTotal > 0 {
		var seed [8]byte
		if _, err := rand.Read(seed[:]); err != nil {
			return nil, fmt.Errorf("committee: seeding sample RNG: %w", err)
		}
		target := binary.BigEndian.Uint64(seed[:]) % remainingTotal

		var cursor uint64
		var picked types.AuthorityName
		for _, name := range c.names {
			stake, ok := remaining[name]
			if !ok {
				continue
			}
			cursor += stake
			if target < cursor {
				picked = name
				break
			}
		}
		out = append(out, picked)
		remainingTotal -= remaining[picked]
		delete(remaining, picked)
	}
	return out, nil
}

// StrongMajorityLowerBound returns the tightest value v such that
// authorities reporting >= v together hold >= quorum_threshold stake.
// Used to read a replicated monotonic counter (e.g. object version)
// under up to f faulty authorities.
func (c *Committee) StrongMajorityLowerBound(reports map[types.AuthorityName]types.Version) types.Version {
	if len(reports) == 0 {
		return 0
	}

	type bucket struct {
		value types.Version
		stake uint64
	}
	var buckets []bucket
	for name, v := range reports {
		buckets = append(buckets, bucket{value: v, stake: c.Weight(name)})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].value > buckets[j].value })

	need := c.QuorumThreshold()
	var cumulative uint64
	for _, b := range buckets {
		cumulative += b.stake
		if cumulative >= need {
			return b.value
		}
	}
	// Not enough responsive stake to meet quorum; report the lowest
	// value seen as the conservative bound.
	return buckets[len(buckets)-1].value
}
