package app

import (
	"math/rand/v2"
	"sort"

	"github.com/fd1az/chain-gateway/business/provider/domain"
)

// orderCandidates returns the endpoint states eligible for a request, best
// first. Unhealthy and inactive endpoints are skipped; degraded ones are used
// only when no healthy endpoint exists anywhere in the pool. Within a priority
// tier the order is weighted-random so load spreads by weight.
func orderCandidates(states []*endpointState) []*endpointState {
	healthy := filterByStatus(states, domain.StatusHealthy)
	pool := healthy
	if len(pool) == 0 {
		pool = filterByStatus(states, domain.StatusDegraded)
	}
	if len(pool) == 0 {
		return nil
	}

	// Partition into priority tiers, lowest value first.
	tiers := make(map[int][]*endpointState)
	priorities := make([]int, 0, 4)
	for _, es := range pool {
		p := es.endpoint.Priority
		if _, ok := tiers[p]; !ok {
			priorities = append(priorities, p)
		}
		tiers[p] = append(tiers[p], es)
	}
	sort.Ints(priorities)

	ordered := make([]*endpointState, 0, len(pool))
	for _, p := range priorities {
		ordered = append(ordered, weightedOrder(tiers[p])...)
	}
	return ordered
}

func filterByStatus(states []*endpointState, status domain.Status) []*endpointState {
	var out []*endpointState
	for _, es := range states {
		es.mu.RLock()
		ok := es.endpoint.IsActive && es.health.Status() == status
		es.mu.RUnlock()
		if ok {
			out = append(out, es)
		}
	}
	return out
}

// weightedOrder produces a weighted-random permutation of one priority tier:
// each position is drawn with probability proportional to remaining weights.
func weightedOrder(tier []*endpointState) []*endpointState {
	if len(tier) <= 1 {
		return tier
	}

	remaining := make([]*endpointState, len(tier))
	copy(remaining, tier)

	out := make([]*endpointState, 0, len(tier))
	for len(remaining) > 0 {
		total := 0
		for _, es := range remaining {
			total += effectiveWeight(es)
		}

		pick := rand.IntN(total)
		idx := 0
		for i, es := range remaining {
			pick -= effectiveWeight(es)
			if pick < 0 {
				idx = i
				break
			}
		}

		out = append(out, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return out
}

func effectiveWeight(es *endpointState) int {
	if es.endpoint.Weight > 0 {
		return es.endpoint.Weight
	}
	return 1
}
