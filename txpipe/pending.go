package txpipe

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletcore/chains"
	"github.com/opd-ai/walletcore/chainrpc"
)

// PendingTx is one broadcast transaction awaiting its receipt. Everything a
// replacement needs to be rebuilt is kept here.
type PendingTx struct {
	Hash        common.Hash
	Nonce       uint64
	From        common.Address
	To          *common.Address
	Value       *big.Int
	GasLimit    uint64
	GasPrice    *big.Int
	MaxFee      *big.Int
	PriorityFee *big.Int
	Data        []byte
	Type        chains.TxType
	ChainID     uint64
	SubmittedAt time.Time
	// Replaceable is true for the newest entry of its (from, nonce) slot;
	// superseded entries stay tracked but lose the flag.
	Replaceable bool
}

// Outcome is a resolved pending entry.
type Outcome struct {
	Entry   PendingTx
	Receipt chainrpc.Receipt
	// Success mirrors receipt.status == 1.
	Success bool
}

// OutcomeFunc is notified once per resolved nonce slot.
type OutcomeFunc func(Outcome)

// PendingSet tracks in-flight transactions. One mutex guards insertion,
// removal, and iteration; the receipt poller snapshots hashes under it and
// performs its RPC with the lock released.
type PendingSet struct {
	mu      sync.Mutex
	entries map[common.Hash]*PendingTx
}

// NewPendingSet creates an empty set.
func NewPendingSet() *PendingSet {
	return &PendingSet{entries: make(map[common.Hash]*PendingTx)}
}

// Add records a broadcast transaction. Any earlier entry with the same
// (from, nonce) is marked superseded so at most one entry per slot is
// replaceable.
func (ps *PendingSet) Add(tx PendingTx) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for _, existing := range ps.entries {
		if existing.From == tx.From && existing.Nonce == tx.Nonce {
			existing.Replaceable = false
		}
	}
	tx.Replaceable = true
	ps.entries[tx.Hash] = &tx

	logrus.WithFields(logrus.Fields{
		"function": "Add",
		"hash":     tx.Hash.Hex(),
		"from":     tx.From.Hex(),
		"nonce":    tx.Nonce,
	}).Info("pending transaction recorded")
}

// Get returns a copy of the entry for hash.
func (ps *PendingSet) Get(hash common.Hash) (PendingTx, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if e, ok := ps.entries[hash]; ok {
		return *e, true
	}
	return PendingTx{}, false
}

// List returns copies of all entries, newest first.
func (ps *PendingSet) List() []PendingTx {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	out := make([]PendingTx, 0, len(ps.entries))
	for _, e := range ps.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out
}

// Len reports the number of tracked entries.
func (ps *PendingSet) Len() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.entries)
}

// snapshotHashes copies the tracked hashes for a polling round.
func (ps *PendingSet) snapshotHashes() []common.Hash {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	out := make([]common.Hash, 0, len(ps.entries))
	for h := range ps.entries {
		out = append(out, h)
	}
	return out
}

// resolveSlot removes every entry sharing the resolved entry's (from,
// nonce): a receipt for either an original or its replacement settles the
// whole slot. It returns the removed entries.
func (ps *PendingSet) resolveSlot(hash common.Hash) []PendingTx {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	target, ok := ps.entries[hash]
	if !ok {
		return nil
	}
	var removed []PendingTx
	for h, e := range ps.entries {
		if e.From == target.From && e.Nonce == target.Nonce {
			removed = append(removed, *e)
			delete(ps.entries, h)
		}
	}
	return removed
}

// Tracker polls receipts for pending transactions on a fixed cadence.
type Tracker struct {
	mu       sync.Mutex
	rpc      chainrpc.Client
	set      *PendingSet
	interval time.Duration
	onDone   OutcomeFunc
	running  bool
	stopChan chan struct{}
}

// DefaultPollInterval is the receipt polling cadence.
const DefaultPollInterval = 7 * time.Second

// NewTracker creates a tracker over set. onDone may be nil.
func NewTracker(rpc chainrpc.Client, set *PendingSet, interval time.Duration, onDone OutcomeFunc) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Tracker{rpc: rpc, set: set, interval: interval, onDone: onDone}
}

// Start launches the polling loop.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.stopChan = make(chan struct{})
	go t.loop(t.stopChan)
}

// Stop terminates the polling loop.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	close(t.stopChan)
}

func (t *Tracker) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.Poll(context.Background())
		}
	}
}

// Poll runs one receipt round: snapshot the tracked hashes, query each, and
// retire every slot that resolved. Exposed so tests and the wallet can poll
// on demand.
func (t *Tracker) Poll(ctx context.Context) {
	for _, hash := range t.set.snapshotHashes() {
		receipt, err := t.rpc.TransactionReceipt(ctx, hash)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Poll",
				"hash":     hash.Hex(),
				"error":    err.Error(),
			}).Debug("receipt poll failed, will retry next round")
			continue
		}
		if receipt == nil {
			continue
		}

		resolved := t.set.resolveSlot(hash)
		if len(resolved) == 0 {
			// Another goroutine resolved the slot between snapshot and
			// receipt; the first recorded receipt wins.
			continue
		}
		success := receipt.Status == chainrpc.ReceiptStatusSuccessful
		logrus.WithFields(logrus.Fields{
			"function": "Poll",
			"hash":     hash.Hex(),
			"status":   receipt.Status,
			"retired":  len(resolved),
		}).Info("pending transaction resolved")

		if t.onDone != nil {
			for _, entry := range resolved {
				if entry.Hash == hash {
					t.onDone(Outcome{Entry: entry, Receipt: *receipt, Success: success})
				}
			}
		}
	}
}
