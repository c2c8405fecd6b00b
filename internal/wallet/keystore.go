package wallet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const walletFileVersion = 1

// walletFile is the on-disk JSON layout of one encrypted wallet.
type walletFile struct {
	Version           int            `json:"version"`
	CreatedAt         time.Time      `json:"created_at"`
	EncryptedSeed     []byte         `json:"encrypted_seed"`
	Accounts          []AccountEntry `json:"accounts"`
	NextChangeIndex   uint32         `json:"next_change_index"`
	NextExternalIndex uint32         `json:"next_external_index"`
}

// AccountEntry stores metadata for a derived account.
type AccountEntry struct {
	Index   uint32 `json:"index"`
	Change  uint32 `json:"change"` // ChangeExternal or ChangeInternal
	Name    string `json:"name"`
	Address string `json:"address"` // bech32, e.g. quasar1...
}

// Derivation returns the BIP-44 (change, index) pair for this entry.
func (a AccountEntry) Derivation() (change uint32, index uint32) {
	return a.Change, a.Index
}

// Keystore manages encrypted wallet files in a directory, one .wallet file
// per wallet name.
type Keystore struct {
	path string
}

// NewKeystore opens a keystore directory, creating it if needed.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

func (ks *Keystore) walletPath(name string) string {
	return filepath.Join(ks.path, name+".wallet")
}

// Create writes a new wallet file holding the seed sealed under password.
func (ks *Keystore) Create(name string, seed, password []byte, params EncryptionParams) error {
	path := ks.walletPath(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("wallet %q already exists", name)
	}

	sealed, err := Encrypt(seed, password, params)
	if err != nil {
		return fmt.Errorf("encrypt seed: %w", err)
	}

	return ks.write(path, &walletFile{
		Version:       walletFileVersion,
		CreatedAt:     time.Now().UTC(),
		EncryptedSeed: sealed,
		Accounts:      []AccountEntry{},
	})
}

// Load opens a wallet and returns the decrypted seed. The caller owns the
// seed bytes and should zero them when done.
func (ks *Keystore) Load(name string, password []byte) ([]byte, error) {
	wf, err := ks.read(name)
	if err != nil {
		return nil, err
	}

	seed, err := Decrypt(wf.EncryptedSeed, password)
	if err != nil {
		return nil, fmt.Errorf("wallet %q: %w", name, err)
	}
	return seed, nil
}

// AddAccount records a derived account in the wallet metadata. Re-adding an
// account that already exists with the same address is a no-op.
func (ks *Keystore) AddAccount(walletName string, acct AccountEntry) error {
	return ks.update(walletName, func(wf *walletFile) error {
		for _, existing := range wf.Accounts {
			if existing.Change == acct.Change && existing.Index == acct.Index {
				if existing.Address == acct.Address {
					return errSkipWrite
				}
				return fmt.Errorf("account path change=%d index=%d already exists", acct.Change, acct.Index)
			}
			if existing.Address != "" && existing.Address == acct.Address {
				return errSkipWrite
			}
		}
		wf.Accounts = append(wf.Accounts, acct)
		return nil
	})
}

// ListAccounts returns the account entries for a wallet.
func (ks *Keystore) ListAccounts(walletName string) ([]AccountEntry, error) {
	wf, err := ks.read(walletName)
	if err != nil {
		return nil, err
	}
	return wf.Accounts, nil
}

// List returns the names of all wallets in the keystore.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == ".wallet" {
			names = append(names, name[:len(name)-len(ext)])
		}
	}
	return names, nil
}

// GetChangeIndex returns the next internal (change) address index.
func (ks *Keystore) GetChangeIndex(name string) (uint32, error) {
	wf, err := ks.read(name)
	if err != nil {
		return 0, err
	}
	return wf.NextChangeIndex, nil
}

// IncrementChangeIndex advances the change address index by 1.
func (ks *Keystore) IncrementChangeIndex(name string) error {
	return ks.update(name, func(wf *walletFile) error {
		wf.NextChangeIndex++
		return nil
	})
}

// SetChangeIndex sets the next change address index.
func (ks *Keystore) SetChangeIndex(name string, idx uint32) error {
	return ks.update(name, func(wf *walletFile) error {
		wf.NextChangeIndex = idx
		return nil
	})
}

// GetExternalIndex returns the next external (receive) address index.
func (ks *Keystore) GetExternalIndex(name string) (uint32, error) {
	wf, err := ks.read(name)
	if err != nil {
		return 0, err
	}
	return wf.NextExternalIndex, nil
}

// IncrementExternalIndex advances the external address index by 1.
func (ks *Keystore) IncrementExternalIndex(name string) error {
	return ks.update(name, func(wf *walletFile) error {
		wf.NextExternalIndex++
		return nil
	})
}

// SetExternalIndex sets the next external address index.
func (ks *Keystore) SetExternalIndex(name string, idx uint32) error {
	return ks.update(name, func(wf *walletFile) error {
		wf.NextExternalIndex = idx
		return nil
	})
}

// Delete removes a wallet file.
func (ks *Keystore) Delete(name string) error {
	path := ks.walletPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("wallet %q not found", name)
	}
	return os.Remove(path)
}

// errSkipWrite signals from an update callback that nothing changed.
var errSkipWrite = fmt.Errorf("skip write")

// update applies fn to a wallet file and writes it back.
func (ks *Keystore) update(name string, fn func(*walletFile) error) error {
	wf, err := ks.read(name)
	if err != nil {
		return err
	}
	if err := fn(wf); err != nil {
		if err == errSkipWrite {
			return nil
		}
		return err
	}
	return ks.write(ks.walletPath(name), wf)
}

func (ks *Keystore) read(name string) (*walletFile, error) {
	data, err := os.ReadFile(ks.walletPath(name))
	if err != nil {
		return nil, fmt.Errorf("read wallet %q: %w", name, err)
	}
	var wf walletFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse wallet %q: %w", name, err)
	}
	if wf.Version != walletFileVersion {
		return nil, fmt.Errorf("wallet %q: unsupported version %d", name, wf.Version)
	}
	return &wf, nil
}

// write lands the wallet file atomically: a crash mid-write never leaves a
// half-written .wallet behind.
func (ks *Keystore) write(path string, wf *walletFile) error {
	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write wallet: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write wallet: %w", err)
	}
	return nil
}
