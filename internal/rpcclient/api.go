package rpcclient

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/quasar-dag/quasar-wallet/pkg/tx"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// ServerInfo describes the node the client is connected to.
type ServerInfo struct {
	ServerVersion   string `json:"serverVersion"`
	NetworkID       string `json:"networkId"`
	IsSynced        bool   `json:"isSynced"`
	VirtualDAAScore uint64 `json:"virtualDaaScore,string"`
}

// UtxoEntry is the wire form of one UTXO. Amounts and DAA scores travel as
// decimal strings so intermediate JSON processors cannot corrupt them.
type UtxoEntry struct {
	Address         string                `json:"address"`
	Outpoint        types.Outpoint        `json:"outpoint"`
	Amount          string                `json:"amount"`
	ScriptPublicKey types.ScriptPublicKey `json:"scriptPublicKey"`
	BlockDAAScore   string                `json:"blockDaaScore"`
	IsCoinbase      bool                  `json:"isCoinbase"`
}

// AmountValue parses the photon amount.
func (e *UtxoEntry) AmountValue() (uint64, error) {
	v, err := strconv.ParseUint(e.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("utxo %s: bad amount %q: %w", e.Outpoint, e.Amount, err)
	}
	return v, nil
}

// DAAScoreValue parses the block DAA score.
func (e *UtxoEntry) DAAScoreValue() (uint64, error) {
	v, err := strconv.ParseUint(e.BlockDAAScore, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("utxo %s: bad DAA score %q: %w", e.Outpoint, e.BlockDAAScore, err)
	}
	return v, nil
}

// ChainBlock is one block of a virtual chain changed notification.
type ChainBlock struct {
	Hash                   string   `json:"hash"`
	AcceptedTransactionIDs []string `json:"acceptedTransactionIds"`
}

// GetServerInfo fetches version, network and sync state from the node.
func (c *Client) GetServerInfo() (*ServerInfo, error) {
	var info ServerInfo
	if err := c.Call("getServerInfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetVirtualDAAScore fetches the current virtual DAA score.
func (c *Client) GetVirtualDAAScore() (uint64, error) {
	var result struct {
		VirtualDAAScore uint64 `json:"virtualDaaScore,string"`
	}
	if err := c.Call("getVirtualDaaScore", nil, &result); err != nil {
		return 0, err
	}
	return result.VirtualDAAScore, nil
}

// GetUtxosByAddresses fetches the current UTXO set of the given addresses.
func (c *Client) GetUtxosByAddresses(addresses []string) ([]UtxoEntry, error) {
	params := struct {
		Addresses []string `json:"addresses"`
	}{Addresses: addresses}

	var result struct {
		Entries []UtxoEntry `json:"entries"`
	}
	if err := c.Call("getUtxosByAddresses", params, &result); err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// SubmitTransaction sends a signed transaction to the node and returns the
// accepted transaction ID.
func (c *Client) SubmitTransaction(transaction *tx.Transaction, allowOrphan bool) (types.TransactionID, error) {
	rawTx, err := transaction.MarshalSafeJSON()
	if err != nil {
		return types.TransactionID{}, fmt.Errorf("encode transaction: %w", err)
	}

	params := struct {
		Transaction json.RawMessage `json:"transaction"`
		AllowOrphan bool            `json:"allowOrphan"`
	}{Transaction: rawTx, AllowOrphan: allowOrphan}

	var result struct {
		TransactionID string `json:"transactionId"`
	}
	if err := c.Call("submitTransaction", params, &result); err != nil {
		return types.TransactionID{}, err
	}

	id, err := types.HexToHash(result.TransactionID)
	if err != nil {
		return types.TransactionID{}, fmt.Errorf("node returned malformed transaction ID: %w", err)
	}
	return id, nil
}
