// quasar-wallet-cli is a command-line client for building and sending Quasar
// transactions against a node, backed by an encrypted local keystore.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/quasar-dag/quasar-wallet/config"
	"github.com/quasar-dag/quasar-wallet/internal/generator"
	"github.com/quasar-dag/quasar-wallet/internal/rpcclient"
	"github.com/quasar-dag/quasar-wallet/internal/utxo"
	"github.com/quasar-dag/quasar-wallet/internal/wallet"
	"github.com/quasar-dag/quasar-wallet/pkg/crypto"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// keystoreDir returns the keystore path matching quasar-walletd's layout:
// <datadir>/<network>/keystore
func keystoreDir(dataDir, network string) string {
	return filepath.Join(dataDir, network, "keystore")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Parse global flags that appear before the subcommand.
	rpcURL := "http://127.0.0.1:16110"
	dataDir := config.DefaultDataDir()
	network := string(config.Mainnet)

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	params, err := config.ForNetwork(config.NetworkID(network))
	if err != nil {
		fatal("%v", err)
	}

	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	ksDir := keystoreDir(dataDir, network)
	client := rpcclient.New(rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(client)
	case "balance":
		cmdBalance(client, params, cmdArgs)
	case "utxos":
		cmdUtxos(client, params, cmdArgs)
	case "send":
		cmdSend(client, params, cmdArgs, ksDir)
	case "sweep":
		cmdSweep(client, params, cmdArgs, ksDir)
	case "estimate":
		cmdEstimate(client, params, cmdArgs, ksDir)
	case "wallet":
		cmdWallet(params, cmdArgs, ksDir)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: quasar-wallet-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         Node JSON-RPC endpoint (default: http://127.0.0.1:16110)
  --datadir <path>    Data directory (default: platform-specific)
  --network <net>     mainnet (default), testnet, simnet or devnet

Commands:
  status                          Show node status
  balance <address> [address...]  Show the balance of addresses
  utxos <address>                 List the spendable entries of an address
  send --wallet <w> --to <addr> --amount <amt> [--priority-fee <amt>] [--receiver-pays]
                                  Send a payment
  sweep --wallet <w> [--to <addr>]
                                  Sweep the wallet into one output
  estimate --wallet <w> --to <addr> --amount <amt>
                                  Plan a payment without reserving or sending

  wallet create --name <n>        Create a new wallet
  wallet import --name <n> --mnemonic "..."
                                  Import a wallet from a mnemonic
  wallet list                     List wallets
  wallet addresses --wallet <w>   List wallet addresses
  wallet new-address --wallet <w> Derive the next receiving address
`)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// readPassword prompts for a password without echoing it.
func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return password, nil
}

// parseAmount converts a decimal QSR amount to photon.
func parseAmount(s string) (uint64, error) {
	parts := strings.SplitN(s, ".", 2)
	whole, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q", s)
	}
	var frac uint64
	if len(parts) == 2 {
		digits := parts[1]
		if len(digits) == 0 || len(digits) > 8 {
			return 0, fmt.Errorf("amount %q: 1 to 8 decimal places", s)
		}
		frac, err = strconv.ParseUint(digits+strings.Repeat("0", 8-len(digits)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad amount %q", s)
		}
	}
	if whole > config.MaxPhoton/config.PhotonPerQuasar {
		return 0, fmt.Errorf("amount %q exceeds the supply cap", s)
	}
	return whole*config.PhotonPerQuasar + frac, nil
}

// ── status ──────────────────────────────────────────────────────────────

func cmdStatus(client *rpcclient.Client) {
	info, err := client.GetServerInfo()
	if err != nil {
		fatal("getServerInfo: %v", err)
	}

	fmt.Printf("Version:   %s\n", info.ServerVersion)
	fmt.Printf("Network:   %s\n", info.NetworkID)
	fmt.Printf("Synced:    %v\n", info.IsSynced)
	fmt.Printf("DAA score: %d\n", info.VirtualDAAScore)
}

// ── balance ─────────────────────────────────────────────────────────────

// snapshotContext builds a one-shot context over the given addresses at the
// node's current DAA score.
func snapshotContext(client *rpcclient.Client, params *config.Params, addresses []*types.Address) *utxo.Context {
	ctx := utxo.NewContext(params, nil)

	daaScore, err := client.GetVirtualDAAScore()
	if err != nil {
		fatal("getVirtualDaaScore: %v", err)
	}
	ctx.UpdateDAAScore(daaScore)

	if err := ctx.TrackAddresses(client, addresses); err != nil {
		fatal("scan addresses: %v", err)
	}
	return ctx
}

func parseAddresses(params *config.Params, args []string) []*types.Address {
	addresses := make([]*types.Address, len(args))
	for i, s := range args {
		addr, err := types.ParseAddressForNetwork(s, params.AddressPrefix)
		if err != nil {
			fatal("invalid address %q: %v", s, err)
		}
		addresses[i] = addr
	}
	return addresses
}

func cmdBalance(client *rpcclient.Client, params *config.Params, args []string) {
	if len(args) < 1 {
		fatal("Usage: quasar-wallet-cli balance <address> [address...]")
	}

	ctx := snapshotContext(client, params, parseAddresses(params, args))
	balance := ctx.Balance()

	fmt.Printf("Mature:   %s QSR (%d UTXOs)\n", utxo.FormatQSR(balance.Mature), balance.MatureUTXOCount)
	if balance.Pending > 0 || balance.PendingUTXOCount > 0 {
		fmt.Printf("Pending:  %s QSR (%d UTXOs)\n", utxo.FormatQSR(balance.Pending), balance.PendingUTXOCount)
	}
	if balance.StasisUTXOCount > 0 {
		fmt.Printf("Stasis:   %d UTXOs\n", balance.StasisUTXOCount)
	}
}

func cmdUtxos(client *rpcclient.Client, params *config.Params, args []string) {
	if len(args) != 1 {
		fatal("Usage: quasar-wallet-cli utxos <address>")
	}

	ctx := snapshotContext(client, params, parseAddresses(params, args))
	for _, ref := range ctx.MatureEntries() {
		fmt.Printf("%s  %s QSR  daa %d\n",
			ref.Outpoint, utxo.FormatQSR(ref.Entry.Amount), ref.Entry.BlockDAAScore)
	}
	for _, ref := range ctx.PendingEntries() {
		fmt.Printf("%s  %s QSR  daa %d  (pending)\n",
			ref.Outpoint, utxo.FormatQSR(ref.Entry.Amount), ref.Entry.BlockDAAScore)
	}
}

// ── send / sweep / estimate ─────────────────────────────────────────────

// unlockWallet loads a wallet's seed and derives a signer for each stored
// account. The seed is zeroed before returning.
func unlockWallet(ksDir, name string, params *config.Params) []wallet.AccountKey {
	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	seed, err := ks.Load(name, password)
	if err != nil {
		fatal("unlock wallet: %v", err)
	}
	defer zero(seed)

	accounts, err := ks.ListAccounts(name)
	if err != nil {
		fatal("list accounts: %v", err)
	}
	if len(accounts) == 0 {
		fatal("wallet %q has no derived addresses", name)
	}

	keys, err := wallet.DeriveAccountKeys(seed, params.AddressPrefix, accounts)
	if err != nil {
		fatal("derive keys: %v", err)
	}
	return keys
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// runPlan drains a generator, signing and submitting every transaction.
func runPlan(g *generator.Generator, keys []*crypto.PrivateKey, client *rpcclient.Client) {
	for {
		pending, err := g.Next()
		if err != nil {
			fatal("build transaction: %v", err)
		}
		if pending == nil {
			break
		}
		if err := pending.SignWithKeys(keys, true); err != nil {
			fatal("sign transaction: %v", err)
		}
		id, err := pending.Submit(client)
		if err != nil {
			fatal("submit transaction: %v", err)
		}
		fmt.Printf("Submitted: %s\n", id)
	}
	fmt.Println(g.Summary())
}

func walletSettings(client *rpcclient.Client, params *config.Params, keys []wallet.AccountKey) (*generator.Settings, []*crypto.PrivateKey) {
	addresses := make([]*types.Address, len(keys))
	signers := make([]*crypto.PrivateKey, len(keys))
	for i, ak := range keys {
		addresses[i] = ak.Address
		signers[i] = ak.Key
	}

	ctx := snapshotContext(client, params, addresses)
	return &generator.Settings{
		Params:        params,
		Source:        ctx,
		ChangeAddress: keys[0].Address,
	}, signers
}

func cmdSend(client *rpcclient.Client, params *config.Params, args []string, ksDir string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	toAddr := fs.String("to", "", "Recipient address")
	amountStr := fs.String("amount", "", "Amount to send (e.g. 1.5)")
	priorityStr := fs.String("priority-fee", "", "Extra fee on top of the relay minimum")
	receiverPays := fs.Bool("receiver-pays", false, "Deduct the fee from the payment")
	fs.Parse(args)

	if *walletName == "" || *toAddr == "" || *amountStr == "" {
		fatal("Usage: quasar-wallet-cli send --wallet <name> --to <addr> --amount <amt>")
	}

	amount, err := parseAmount(*amountStr)
	if err != nil {
		fatal("%v", err)
	}
	recipient, err := types.ParseAddressForNetwork(*toAddr, params.AddressPrefix)
	if err != nil {
		fatal("invalid recipient address: %v", err)
	}

	fees := generator.Fees{}
	if *priorityStr != "" {
		priority, err := parseAmount(*priorityStr)
		if err != nil {
			fatal("%v", err)
		}
		fees = generator.Fees{Source: generator.SenderPays, Amount: priority}
	}
	if *receiverPays {
		fees.Source = generator.ReceiverPays
	}

	keys := unlockWallet(ksDir, *walletName, params)
	settings, signers := walletSettings(client, params, keys)
	settings.Outputs = []generator.PaymentOutput{{Address: recipient, Amount: amount}}
	settings.PriorityFee = fees

	g, err := generator.New(settings)
	if err != nil {
		fatal("plan transaction: %v", err)
	}
	runPlan(g, signers, client)
}

func cmdSweep(client *rpcclient.Client, params *config.Params, args []string, ksDir string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	toAddr := fs.String("to", "", "Destination (default: the wallet's first address)")
	fs.Parse(args)

	if *walletName == "" {
		fatal("Usage: quasar-wallet-cli sweep --wallet <name> [--to <addr>]")
	}

	keys := unlockWallet(ksDir, *walletName, params)
	settings, signers := walletSettings(client, params, keys)
	if *toAddr != "" {
		dest, err := types.ParseAddressForNetwork(*toAddr, params.AddressPrefix)
		if err != nil {
			fatal("invalid destination address: %v", err)
		}
		settings.ChangeAddress = dest
	}

	g, err := generator.New(settings)
	if err != nil {
		fatal("plan sweep: %v", err)
	}
	runPlan(g, signers, client)
}

func cmdEstimate(client *rpcclient.Client, params *config.Params, args []string, ksDir string) {
	fs := flag.NewFlagSet("estimate", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	toAddr := fs.String("to", "", "Recipient address")
	amountStr := fs.String("amount", "", "Amount to send (e.g. 1.5)")
	fs.Parse(args)

	if *walletName == "" || *toAddr == "" || *amountStr == "" {
		fatal("Usage: quasar-wallet-cli estimate --wallet <name> --to <addr> --amount <amt>")
	}

	amount, err := parseAmount(*amountStr)
	if err != nil {
		fatal("%v", err)
	}
	recipient, err := types.ParseAddressForNetwork(*toAddr, params.AddressPrefix)
	if err != nil {
		fatal("invalid recipient address: %v", err)
	}

	keys := unlockWallet(ksDir, *walletName, params)
	settings, _ := walletSettings(client, params, keys)
	settings.Outputs = []generator.PaymentOutput{{Address: recipient, Amount: amount}}

	summary, err := generator.Estimate(settings)
	if err != nil {
		fatal("estimate: %v", err)
	}
	fmt.Println(summary)
}

// ── wallet ──────────────────────────────────────────────────────────────

func cmdWallet(params *config.Params, args []string, ksDir string) {
	if len(args) < 1 {
		fatal("Usage: quasar-wallet-cli wallet <create|import|list|addresses|new-address> [flags]")
	}

	switch args[0] {
	case "create":
		cmdWalletCreate(params, args[1:], ksDir)
	case "import":
		cmdWalletImport(params, args[1:], ksDir)
	case "list":
		cmdWalletList(ksDir)
	case "addresses":
		cmdWalletAddresses(args[1:], ksDir)
	case "new-address":
		cmdWalletNewAddress(params, args[1:], ksDir)
	default:
		fatal("Unknown wallet command: %s", args[0])
	}
}

// initWallet encrypts a seed into the keystore and records the first
// receiving address.
func initWallet(params *config.Params, ksDir, name string, seed, password []byte) *types.Address {
	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		fatal("derive master key: %v", err)
	}
	hdKey, err := master.DeriveAddress(0, wallet.ChangeExternal, 0)
	if err != nil {
		fatal("derive address: %v", err)
	}
	addr, err := hdKey.Address(params.AddressPrefix)
	if err != nil {
		fatal("derive address: %v", err)
	}

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("create keystore: %v", err)
	}
	if err := ks.Create(name, seed, password, wallet.DefaultParams()); err != nil {
		fatal("create wallet: %v", err)
	}
	zero(seed)

	if err := ks.AddAccount(name, wallet.AccountEntry{
		Index:   0,
		Change:  wallet.ChangeExternal,
		Name:    "default",
		Address: addr.String(),
	}); err != nil {
		fatal("add account: %v", err)
	}
	if err := ks.SetExternalIndex(name, 1); err != nil {
		fatal("record address index: %v", err)
	}
	return addr
}

func confirmedPassword() []byte {
	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}
	return password
}

func cmdWalletCreate(params *config.Params, args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet create", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	fs.Parse(args)

	if *name == "" {
		fatal("Usage: quasar-wallet-cli wallet create --name <name>")
	}

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		fatal("generate mnemonic: %v", err)
	}

	fmt.Println("Mnemonic (write this down!):")
	fmt.Printf("  %s\n\n", mnemonic)

	password := confirmedPassword()
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		fatal("derive seed: %v", err)
	}

	addr := initWallet(params, ksDir, *name, seed, password)
	fmt.Printf("\nWallet created: %s\n", *name)
	fmt.Printf("Address: %s\n", addr)
}

func cmdWalletImport(params *config.Params, args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet import", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic (24 words)")
	fs.Parse(args)

	if *name == "" || *mnemonic == "" {
		fatal("Usage: quasar-wallet-cli wallet import --name <name> --mnemonic \"word1 word2 ...\"")
	}
	if !wallet.ValidateMnemonic(*mnemonic) {
		fatal("invalid mnemonic")
	}

	password := confirmedPassword()
	seed, err := wallet.SeedFromMnemonic(*mnemonic, "")
	if err != nil {
		fatal("derive seed: %v", err)
	}

	addr := initWallet(params, ksDir, *name, seed, password)
	fmt.Printf("Wallet imported: %s\n", *name)
	fmt.Printf("Address: %s\n", addr)
}

func cmdWalletList(ksDir string) {
	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	names, err := ks.List()
	if err != nil {
		fatal("list wallets: %v", err)
	}
	if len(names) == 0 {
		fmt.Println("No wallets found.")
		return
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func cmdWalletAddresses(args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet addresses", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	fs.Parse(args)

	if *walletName == "" {
		fatal("Usage: quasar-wallet-cli wallet addresses --wallet <name>")
	}

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	accounts, err := ks.ListAccounts(*walletName)
	if err != nil {
		fatal("list accounts: %v", err)
	}
	for _, acct := range accounts {
		fmt.Printf("%s  %s\n", acct.Address, acct.Name)
	}
}

func cmdWalletNewAddress(params *config.Params, args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet new-address", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	fs.Parse(args)

	if *walletName == "" {
		fatal("Usage: quasar-wallet-cli wallet new-address --wallet <name>")
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	seed, err := ks.Load(*walletName, password)
	if err != nil {
		fatal("unlock wallet: %v", err)
	}
	defer zero(seed)

	index, err := ks.GetExternalIndex(*walletName)
	if err != nil {
		fatal("read address index: %v", err)
	}

	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		fatal("derive master key: %v", err)
	}
	hdKey, err := master.DeriveAddress(0, wallet.ChangeExternal, index)
	if err != nil {
		fatal("derive address: %v", err)
	}
	addr, err := hdKey.Address(params.AddressPrefix)
	if err != nil {
		fatal("derive address: %v", err)
	}

	if err := ks.AddAccount(*walletName, wallet.AccountEntry{
		Index:   index,
		Change:  wallet.ChangeExternal,
		Name:    fmt.Sprintf("address-%d", index),
		Address: addr.String(),
	}); err != nil {
		fatal("add account: %v", err)
	}
	if err := ks.IncrementExternalIndex(*walletName); err != nil {
		fatal("record address index: %v", err)
	}

	fmt.Printf("Address: %s\n", addr)
}
