package wallet

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func testKeystore(t *testing.T) *Keystore {
	t.Helper()
	ks, err := NewKeystore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeystore() error: %v", err)
	}
	return ks
}

func testSeedBytes(t *testing.T) []byte {
	t.Helper()
	seed, err := SeedFromMnemonic(testMnemonic12, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	return seed
}

// testAccountEntry derives the quasar address for the given path and returns
// a matching entry.
func testAccountEntry(t *testing.T, seed []byte, change, index uint32, name string) AccountEntry {
	t.Helper()
	master, err := NewMasterKey(seed)
	if err != nil {
		t.Fatalf("NewMasterKey() error: %v", err)
	}
	hd, err := master.DeriveAddress(0, change, index)
	if err != nil {
		t.Fatalf("DeriveAddress() error: %v", err)
	}
	addr, err := hd.Address("quasar")
	if err != nil {
		t.Fatalf("Address() error: %v", err)
	}
	return AccountEntry{Index: index, Change: change, Name: name, Address: addr.String()}
}

func TestKeystore_CreateAndLoad(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)
	password := []byte("test-password")

	if err := ks.Create("main", seed, password, fastParams()); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	loaded, err := ks.Load("main", password)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !bytes.Equal(loaded, seed) {
		t.Error("loaded seed does not match original")
	}
}

func TestKeystore_CreateDuplicate(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)

	if err := ks.Create("dup", seed, []byte("pass"), fastParams()); err != nil {
		t.Fatalf("first Create() error: %v", err)
	}
	if err := ks.Create("dup", seed, []byte("pass"), fastParams()); err == nil {
		t.Error("second Create() should fail for duplicate name")
	}
}

func TestKeystore_LoadWrongPassword(t *testing.T) {
	ks := testKeystore(t)
	ks.Create("main", testSeedBytes(t), []byte("correct"), fastParams())

	if _, err := ks.Load("main", []byte("wrong")); err == nil {
		t.Error("Load() with wrong password should fail")
	}
}

func TestKeystore_LoadNonexistent(t *testing.T) {
	ks := testKeystore(t)
	if _, err := ks.Load("ghost", []byte("pass")); err == nil {
		t.Error("Load() for nonexistent wallet should fail")
	}
}

func TestKeystore_List(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)

	names, err := ks.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected 0 wallets, got %d", len(names))
	}

	ks.Create("alpha", seed, []byte("p"), fastParams())
	ks.Create("beta", seed, []byte("p"), fastParams())

	names, err = ks.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 wallets, got %d", len(names))
	}
}

func TestKeystore_Delete(t *testing.T) {
	ks := testKeystore(t)
	ks.Create("doomed", testSeedBytes(t), []byte("p"), fastParams())

	if err := ks.Delete("doomed"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := ks.Load("doomed", []byte("p")); err == nil {
		t.Error("wallet should be deleted")
	}

	if err := ks.Delete("ghost"); err == nil {
		t.Error("Delete() for nonexistent wallet should fail")
	}
}

func TestKeystore_AddAccount(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)
	ks.Create("main", seed, []byte("p"), fastParams())

	entry := testAccountEntry(t, seed, ChangeExternal, 0, "default")
	if err := ks.AddAccount("main", entry); err != nil {
		t.Fatalf("AddAccount() error: %v", err)
	}

	accounts, err := ks.ListAccounts("main")
	if err != nil {
		t.Fatalf("ListAccounts() error: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	if accounts[0].Name != "default" {
		t.Errorf("account name = %q, want %q", accounts[0].Name, "default")
	}
	if !strings.HasPrefix(accounts[0].Address, "quasar1") {
		t.Errorf("account address = %q, want a quasar1 address", accounts[0].Address)
	}
}

func TestKeystore_AddAccount_Idempotent(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)
	ks.Create("main", seed, []byte("p"), fastParams())

	entry := testAccountEntry(t, seed, ChangeExternal, 0, "default")
	if err := ks.AddAccount("main", entry); err != nil {
		t.Fatalf("AddAccount() error: %v", err)
	}
	// Same path, same address: a no-op, not an error.
	if err := ks.AddAccount("main", entry); err != nil {
		t.Fatalf("re-adding the same account should succeed, got: %v", err)
	}

	accounts, _ := ks.ListAccounts("main")
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account after duplicate add, got %d", len(accounts))
	}
}

func TestKeystore_AddAccount_ConflictingPath(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)
	ks.Create("main", seed, []byte("p"), fastParams())

	first := testAccountEntry(t, seed, ChangeExternal, 0, "first")
	ks.AddAccount("main", first)

	// Same derivation path but a different address is a corrupt entry.
	conflicting := first
	conflicting.Name = "second"
	conflicting.Address = "quasar1different"
	if err := ks.AddAccount("main", conflicting); err == nil {
		t.Error("conflicting account at the same path should be rejected")
	}
}

func TestKeystore_AccountsSurviveReload(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)
	password := []byte("p")
	ks.Create("main", seed, password, fastParams())

	external := testAccountEntry(t, seed, ChangeExternal, 0, "receive")
	change := testAccountEntry(t, seed, ChangeInternal, 0, "change")
	ks.AddAccount("main", external)
	ks.AddAccount("main", change)

	// Reload the seed and re-derive signers for the stored accounts.
	loaded, err := ks.Load("main", password)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	accounts, err := ks.ListAccounts("main")
	if err != nil {
		t.Fatalf("ListAccounts() error: %v", err)
	}

	keys, err := DeriveAccountKeys(loaded, "quasar", accounts)
	if err != nil {
		t.Fatalf("DeriveAccountKeys() error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("derived %d keys, want 2", len(keys))
	}
	for _, ak := range keys {
		if ak.Address.String() != ak.Entry.Address {
			t.Errorf("derived address %q does not match stored %q for account %q",
				ak.Address, ak.Entry.Address, ak.Entry.Name)
		}
	}
}

func TestKeystore_FilePermissions(t *testing.T) {
	ks := testKeystore(t)
	ks.Create("secure", testSeedBytes(t), []byte("p"), fastParams())

	info, err := os.Stat(ks.walletPath("secure"))
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("wallet file should be 0600, got %o", perm)
	}
}

func TestKeystore_AddressIndexes(t *testing.T) {
	ks := testKeystore(t)
	ks.Create("main", testSeedBytes(t), []byte("p"), fastParams())

	// Both counters start at zero.
	if idx, err := ks.GetChangeIndex("main"); err != nil || idx != 0 {
		t.Fatalf("GetChangeIndex = %d, %v; want 0, nil", idx, err)
	}
	if idx, err := ks.GetExternalIndex("main"); err != nil || idx != 0 {
		t.Fatalf("GetExternalIndex = %d, %v; want 0, nil", idx, err)
	}

	// The counters advance independently.
	ks.IncrementChangeIndex("main")
	ks.IncrementChangeIndex("main")
	ks.IncrementExternalIndex("main")

	if idx, _ := ks.GetChangeIndex("main"); idx != 2 {
		t.Errorf("change index = %d, want 2", idx)
	}
	if idx, _ := ks.GetExternalIndex("main"); idx != 1 {
		t.Errorf("external index = %d, want 1", idx)
	}

	// Set overrides, including back to zero.
	if err := ks.SetExternalIndex("main", 5); err != nil {
		t.Fatalf("SetExternalIndex: %v", err)
	}
	if idx, _ := ks.GetExternalIndex("main"); idx != 5 {
		t.Errorf("external index = %d, want 5", idx)
	}
	if err := ks.SetChangeIndex("main", 0); err != nil {
		t.Fatalf("SetChangeIndex: %v", err)
	}
	if idx, _ := ks.GetChangeIndex("main"); idx != 0 {
		t.Errorf("change index = %d, want 0", idx)
	}
}

func TestKeystore_IndexOps_Nonexistent(t *testing.T) {
	ks := testKeystore(t)

	if _, err := ks.GetChangeIndex("ghost"); err == nil {
		t.Error("GetChangeIndex for nonexistent wallet should fail")
	}
	if err := ks.IncrementChangeIndex("ghost"); err == nil {
		t.Error("IncrementChangeIndex for nonexistent wallet should fail")
	}
	if _, err := ks.GetExternalIndex("ghost"); err == nil {
		t.Error("GetExternalIndex for nonexistent wallet should fail")
	}
	if err := ks.IncrementExternalIndex("ghost"); err == nil {
		t.Error("IncrementExternalIndex for nonexistent wallet should fail")
	}
	if err := ks.SetExternalIndex("ghost", 1); err == nil {
		t.Error("SetExternalIndex for nonexistent wallet should fail")
	}
	if err := ks.SetChangeIndex("ghost", 1); err == nil {
		t.Error("SetChangeIndex for nonexistent wallet should fail")
	}
}

func TestKeystore_NoLeftoverTempFiles(t *testing.T) {
	ks := testKeystore(t)
	ks.Create("main", testSeedBytes(t), []byte("p"), fastParams())
	ks.IncrementExternalIndex("main")

	entries, err := os.ReadDir(ks.path)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("leftover temp file %q in keystore dir", e.Name())
		}
	}
}
