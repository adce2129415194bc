package chains

import (
	"testing"
)

func TestBuiltinsPresent(t *testing.T) {
	tbl, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	mainnet, ok := tbl.Get(1)
	if !ok {
		t.Fatal("Ethereum mainnet missing from built-ins")
	}
	if mainnet.TxType != TxTypeDynamicFee {
		t.Errorf("mainnet tx type = %s, want dynamic-fee", mainnet.TxType)
	}

	bsc, ok := tbl.Get(56)
	if !ok || bsc.TxType != TxTypeLegacy {
		t.Errorf("BSC should be a built-in legacy network, got %+v ok=%v", bsc, ok)
	}
}

func TestPutPersistsUserNetwork(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	custom := Network{
		ChainID: 31337,
		Name:    "Local Devnet",
		Symbol:  "ETH",
		RPCURL:  "http://127.0.0.1:8545",
		TxType:  TxTypeDynamicFee,
	}
	if err := tbl.Put(custom); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := reloaded.Get(31337)
	if !ok || got.Name != "Local Devnet" {
		t.Errorf("reloaded custom network = %+v ok=%v", got, ok)
	}

	// Built-ins survive alongside user entries.
	if _, ok := reloaded.Get(1); !ok {
		t.Error("built-in lost after user addition")
	}
}

func TestPutValidates(t *testing.T) {
	tbl, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := tbl.Put(Network{ChainID: 0, Name: "x", RPCURL: "http://x"}); err == nil {
		t.Error("accepted zero chain id")
	}
	if err := tbl.Put(Network{ChainID: 5, Name: "", RPCURL: "http://x"}); err == nil {
		t.Error("accepted empty name")
	}
}

func TestUserOverrideAndRemoveRestoresBuiltin(t *testing.T) {
	tbl, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	override := Network{ChainID: 1, Name: "My Mainnet", Symbol: "ETH", RPCURL: "http://me:8545", TxType: TxTypeDynamicFee}
	if err := tbl.Put(override); err != nil {
		t.Fatal(err)
	}
	if got, _ := tbl.Get(1); got.Name != "My Mainnet" {
		t.Errorf("override not applied: %+v", got)
	}

	if err := tbl.Remove(1); err != nil {
		t.Fatal(err)
	}
	got, ok := tbl.Get(1)
	if !ok || got.Name != "Ethereum" {
		t.Errorf("built-in not restored after removing override: %+v ok=%v", got, ok)
	}

	// A pristine built-in cannot be removed.
	if err := tbl.Remove(137); err == nil {
		t.Error("removed a built-in network")
	}
}

func TestListSorted(t *testing.T) {
	tbl, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	list := tbl.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].ChainID >= list[i].ChainID {
			t.Fatalf("list not sorted at %d: %d >= %d", i, list[i-1].ChainID, list[i].ChainID)
		}
	}
}
