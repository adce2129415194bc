package chains

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletcore/walleterr"
)

// TxType is a network's preferred transaction envelope.
type TxType string

const (
	// TxTypeLegacy networks price transactions with a single gas price.
	TxTypeLegacy TxType = "legacy"
	// TxTypeDynamicFee networks use EIP-1559 base fee plus priority tip.
	TxTypeDynamicFee TxType = "dynamic-fee"
)

// Network describes one EVM chain.
type Network struct {
	ChainID     uint64 `json:"chain_id"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	RPCURL      string `json:"rpc_url"`
	TxType      TxType `json:"tx_type"`
	ExplorerURL string `json:"explorer_url,omitempty"`
}

// FileName is the persisted table's document name under the configuration
// directory.
const FileName = "networks.json"

// builtin networks are always present; user entries override them by chain
// id and extend the table.
var builtin = []Network{
	{ChainID: 1, Name: "Ethereum", Symbol: "ETH", RPCURL: "https://eth.llamarpc.com", TxType: TxTypeDynamicFee, ExplorerURL: "https://etherscan.io"},
	{ChainID: 10, Name: "Optimism", Symbol: "ETH", RPCURL: "https://mainnet.optimism.io", TxType: TxTypeDynamicFee, ExplorerURL: "https://optimistic.etherscan.io"},
	{ChainID: 56, Name: "BNB Smart Chain", Symbol: "BNB", RPCURL: "https://bsc-dataseed.binance.org", TxType: TxTypeLegacy, ExplorerURL: "https://bscscan.com"},
	{ChainID: 137, Name: "Polygon", Symbol: "POL", RPCURL: "https://polygon-rpc.com", TxType: TxTypeDynamicFee, ExplorerURL: "https://polygonscan.com"},
	{ChainID: 8453, Name: "Base", Symbol: "ETH", RPCURL: "https://mainnet.base.org", TxType: TxTypeDynamicFee, ExplorerURL: "https://basescan.org"},
	{ChainID: 42161, Name: "Arbitrum One", Symbol: "ETH", RPCURL: "https://arb1.arbitrum.io/rpc", TxType: TxTypeDynamicFee, ExplorerURL: "https://arbiscan.io"},
	{ChainID: 11155111, Name: "Sepolia", Symbol: "ETH", RPCURL: "https://rpc.sepolia.org", TxType: TxTypeDynamicFee, ExplorerURL: "https://sepolia.etherscan.io"},
}

// Table is the per-process network registry.
type Table struct {
	mu   sync.RWMutex
	path string
	nets map[uint64]Network
	user map[uint64]bool
}

// Load builds the table from the built-in set plus any persisted user
// entries under configDir.
func Load(configDir string) (*Table, error) {
	t := &Table{
		path: filepath.Join(configDir, FileName),
		nets: make(map[uint64]Network, len(builtin)),
		user: make(map[uint64]bool),
	}
	for _, n := range builtin {
		t.nets[n.ChainID] = n
	}

	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, walleterr.Wrap(walleterr.ErrIo, err)
	}
	var saved []Network
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIo, fmt.Errorf("corrupt network table: %w", err))
	}
	for _, n := range saved {
		t.nets[n.ChainID] = n
		t.user[n.ChainID] = true
	}

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"builtin":  len(builtin),
		"user":     len(saved),
	}).Debug("network table loaded")
	return t, nil
}

// Get returns the network for a chain id.
func (t *Table) Get(chainID uint64) (Network, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nets[chainID]
	return n, ok
}

// List returns every known network ordered by chain id.
func (t *Table) List() []Network {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Network, 0, len(t.nets))
	for _, n := range t.nets {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// Put adds or replaces a network and persists the user-defined entries.
func (t *Table) Put(n Network) error {
	if n.ChainID == 0 || n.Name == "" || n.RPCURL == "" {
		return walleterr.Wrap(walleterr.ErrUnsupported,
			fmt.Errorf("network needs a chain id, name, and RPC URL"))
	}
	if n.TxType == "" {
		n.TxType = TxTypeDynamicFee
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.nets[n.ChainID] = n
	t.user[n.ChainID] = true
	return t.saveLocked()
}

// Remove deletes a user-defined network. Built-in networks cannot be
// removed; removing a user override of a built-in restores the built-in.
func (t *Table) Remove(chainID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.user[chainID] {
		return walleterr.Wrap(walleterr.ErrUnsupported,
			fmt.Errorf("chain %d is not a user-defined network", chainID))
	}
	delete(t.user, chainID)
	delete(t.nets, chainID)
	for _, b := range builtin {
		if b.ChainID == chainID {
			t.nets[chainID] = b
			break
		}
	}
	return t.saveLocked()
}

func (t *Table) saveLocked() error {
	user := make([]Network, 0, len(t.user))
	for id := range t.user {
		user = append(user, t.nets[id])
	}
	sort.Slice(user, func(i, j int) bool { return user[i].ChainID < user[j].ChainID })

	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o700); err != nil {
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	tmp := t.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		os.Remove(tmp)
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	return nil
}
