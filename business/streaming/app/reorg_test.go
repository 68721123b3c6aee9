package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/chain-gateway/business/streaming/domain"
	"github.com/fd1az/chain-gateway/internal/chain"
	"github.com/fd1az/chain-gateway/internal/logger"
)

func hashOf(b byte) common.Hash {
	var h common.Hash
	h[31] = b
	return h
}

func headerAt(number uint64, hash, parent common.Hash) domain.Header {
	return domain.Header{Number: number, Hash: hash, ParentHash: parent, Timestamp: time.Now()}
}

// fakeBlockSource answers eth_getBlockByNumber from a scripted chain view.
type fakeBlockSource struct {
	mu     sync.Mutex
	blocks map[uint64]domain.Header
	fail   bool
}

func (f *fakeBlockSource) ExecuteRequest(ctx context.Context, chainID chain.ID, method string, params ...any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return nil, errors.New("provider unavailable")
	}
	if method != "eth_getBlockByNumber" {
		return nil, fmt.Errorf("unexpected method %s", method)
	}

	tag := params[0].(string)
	for _, b := range f.blocks {
		if fmt.Sprintf("0x%x", b.Number) == tag {
			return json.RawMessage(fmt.Sprintf(
				`{"number":"0x%x","hash":"%s","parentHash":"%s","timestamp":"0x0"}`,
				b.Number, b.Hash.Hex(), b.ParentHash.Hex())), nil
		}
	}
	return nil, fmt.Errorf("block %s not found", tag)
}

func newTestDetector(t *testing.T, source RequestExecutor) *ReorgDetector {
	t.Helper()

	cfg := DefaultReorgConfig()
	cfg.PollInterval = time.Hour // observations driven manually from tests
	cfg.HistorySize = 3

	d, err := NewReorgDetector(cfg, source, logger.New(io.Discard, logger.LevelError, "test", nil))
	if err != nil {
		t.Fatalf("NewReorgDetector: %v", err)
	}
	t.Cleanup(d.Stop)

	return d
}

func TestReorgDetector_DetectsHashChange(t *testing.T) {
	source := &fakeBlockSource{blocks: map[uint64]domain.Header{}}
	d := newTestDetector(t, source)

	var events []domain.ReorgEvent
	var order []string
	d.OnReorg(func(e domain.ReorgEvent) {
		events = append(events, e)
		order = append(order, "first")
	})
	d.OnReorg(func(e domain.ReorgEvent) {
		order = append(order, "second")
	})

	ctx := context.Background()
	parent := hashOf(0x09)
	oldHash := hashOf(0xaa)
	newHash := hashOf(0xbb)

	d.Observe(ctx, chain.Ethereum, headerAt(9, parent, hashOf(0x08)))
	d.Observe(ctx, chain.Ethereum, headerAt(10, oldHash, parent))

	// The chain rewrites height 10: same parent, new hash.
	d.Observe(ctx, chain.Ethereum, headerAt(10, newHash, parent))

	if len(events) != 1 {
		t.Fatalf("expected exactly one reorg event, got %d", len(events))
	}
	e := events[0]
	if e.OldBlockHash != oldHash || e.NewBlockHash != newHash || e.OldBlockNumber != 10 {
		t.Fatalf("event fields wrong: %+v", e)
	}
	if e.Depth < 1 {
		t.Fatalf("depth = %d, want >= 1", e.Depth)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("callbacks must run once each in registration order, got %v", order)
	}

	// The new head is now the recorded truth; re-observing it is not a reorg.
	d.Observe(ctx, chain.Ethereum, headerAt(10, newHash, parent))
	if len(events) != 1 {
		t.Fatal("re-observing the accepted head must not fire again")
	}

	stats := d.Stats(chain.Ethereum)
	if stats.LastHeight != 10 || stats.LastHash != newHash || stats.EventsSeen != 1 {
		t.Fatalf("stats wrong: %+v", stats)
	}
}

func TestReorgDetector_DepthUnknownWhenWalkbackFails(t *testing.T) {
	source := &fakeBlockSource{blocks: map[uint64]domain.Header{}, fail: true}
	d := newTestDetector(t, source)

	var events []domain.ReorgEvent
	d.OnReorg(func(e domain.ReorgEvent) { events = append(events, e) })

	ctx := context.Background()

	// Only height 10 is in the window; establishing depth needs ancestors
	// from the provider, which is down.
	d.Observe(ctx, chain.Ethereum, headerAt(10, hashOf(0xaa), hashOf(0x01)))
	d.Observe(ctx, chain.Ethereum, headerAt(10, hashOf(0xbb), hashOf(0x02)))

	if len(events) != 1 {
		t.Fatalf("expected one reorg event, got %d", len(events))
	}
	if events[0].Depth != domain.DepthUnknown {
		t.Fatalf("depth = %d, want DepthUnknown sentinel", events[0].Depth)
	}
}

func TestReorgDetector_HistoryBoundedNewestFirst(t *testing.T) {
	source := &fakeBlockSource{blocks: map[uint64]domain.Header{}}
	d := newTestDetector(t, source)

	ctx := context.Background()
	parent := hashOf(0x09)
	d.Observe(ctx, chain.Ethereum, headerAt(9, parent, hashOf(0x08)))

	// Five successive rewrites of height 10; capacity is 3.
	for i := byte(0); i < 5; i++ {
		d.Observe(ctx, chain.Ethereum, headerAt(10, hashOf(0x10+i), parent))
	}

	hist, err := d.GetReorgHistory(chain.Ethereum, 10)
	if err != nil {
		t.Fatalf("GetReorgHistory: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("history should be bounded at 3, got %d", len(hist))
	}
	for i := 0; i < len(hist)-1; i++ {
		if hist[i].Timestamp.Before(hist[i+1].Timestamp) {
			t.Fatal("history must be ordered newest first")
		}
	}
	if hist[0].NewBlockHash != hashOf(0x14) {
		t.Fatalf("newest entry should be the last rewrite, got %s", hist[0].NewBlockHash.Hex())
	}

	if limited, _ := d.GetReorgHistory(chain.Ethereum, 2); len(limited) != 2 {
		t.Fatalf("limit=2 should cap the result, got %d", len(limited))
	}
}

// hangingBlockSource parks every fetch until released, signalling when one
// is in flight.
type hangingBlockSource struct {
	fetching chan struct{}
	release  chan struct{}
}

func (s *hangingBlockSource) ExecuteRequest(ctx context.Context, chainID chain.ID, method string, params ...any) (json.RawMessage, error) {
	select {
	case s.fetching <- struct{}{}:
	default:
	}
	<-s.release
	return nil, errors.New("provider unavailable")
}

func TestReorgDetector_WalkbackDoesNotBlockOtherChains(t *testing.T) {
	source := &hangingBlockSource{
		fetching: make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	d := newTestDetector(t, source)
	ctx := context.Background()

	// Ethereum sees height 10, then a rewrite of it. The parent height is
	// not in the tracking window, so the walk-back must ask the provider,
	// which hangs until released.
	d.Observe(ctx, chain.Ethereum, headerAt(10, hashOf(0x0a), hashOf(0x09)))

	ethDone := make(chan struct{})
	go func() {
		d.Observe(ctx, chain.Ethereum, headerAt(10, hashOf(0xaa), hashOf(0x99)))
		close(ethDone)
	}()
	<-source.fetching // ethereum walk-back is now parked inside the provider

	otherDone := make(chan struct{})
	go func() {
		if _, err := d.GetReorgHistory(chain.Polygon, 1); err != nil {
			t.Errorf("GetReorgHistory(polygon): %v", err)
		}
		d.Observe(ctx, chain.Polygon, headerAt(5, hashOf(0x05), hashOf(0x04)))
		if stats := d.Stats(chain.Polygon); stats.LastHeight != 5 {
			t.Errorf("polygon LastHeight = %d, want 5", stats.LastHeight)
		}
		close(otherDone)
	}()

	select {
	case <-otherDone:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("polygon operations blocked behind ethereum walk-back")
	}

	close(source.release)
	<-ethDone
}
