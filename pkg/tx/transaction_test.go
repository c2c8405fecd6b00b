package tx

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

func testScriptPublicKey(fill byte) *types.ScriptPublicKey {
	script := make([]byte, 34)
	script[0] = 0x20
	for i := 1; i < 33; i++ {
		script[i] = fill
	}
	script[33] = 0xac
	return &types.ScriptPublicKey{Version: 0, Script: script}
}

func testTransaction() *Transaction {
	return &Transaction{
		Version: 0,
		Inputs: []*Input{
			{
				PreviousOutpoint: types.Outpoint{TxID: types.Hash{0x01}, Index: 0},
				Sequence:         MaximumSequence,
				SigOpCount:       1,
			},
		},
		Outputs: []*Output{
			{Value: 300_000_000, ScriptPublicKey: testScriptPublicKey(0xaa)},
			{Value: 699_000_000, ScriptPublicKey: testScriptPublicKey(0xbb)},
		},
		SubnetworkID: SubnetworkIDNative,
	}
}

func TestTransaction_ID_ExcludesSignatureAndMass(t *testing.T) {
	a := testTransaction()
	id := a.ID()

	a.Inputs[0].SignatureScript = []byte{0x41, 0x01, 0x02}
	if a.ID() != id {
		t.Error("ID should not change when a signature script is attached")
	}

	a.Mass = 12345
	if a.ID() != id {
		t.Error("ID should not change with the mass field")
	}
}

func TestTransaction_ID_CommitsToOutputs(t *testing.T) {
	a := testTransaction()
	b := testTransaction()
	b.Outputs[0].Value++
	if a.ID() == b.ID() {
		t.Error("changing an output value should change the ID")
	}

	c := testTransaction()
	c.Inputs[0].PreviousOutpoint.Index = 7
	if a.ID() == c.ID() {
		t.Error("changing an outpoint should change the ID")
	}
}

func TestTransaction_SerializedByteSize(t *testing.T) {
	trx := testTransaction()
	// blank(94) + input(36+8+0+8) + 2 * output(8+2+8+34)
	want := uint64(94 + 52 + 2*52)
	if got := trx.SerializedByteSize(); got != want {
		t.Errorf("SerializedByteSize() = %d, want %d", got, want)
	}

	trx.Inputs[0].SignatureScript = make([]byte, 66)
	if got := trx.SerializedByteSize(); got != want+66 {
		t.Errorf("signed SerializedByteSize() = %d, want %d", got, want+66)
	}

	trx.Payload = []byte{1, 2, 3}
	if got := trx.SerializedByteSize(); got != want+66+3 {
		t.Errorf("payload SerializedByteSize() = %d, want %d", got, want+66+3)
	}
}

func TestTransaction_IsCoinbase(t *testing.T) {
	trx := testTransaction()
	if trx.IsCoinbase() {
		t.Error("native transaction should not be coinbase")
	}
	trx.SubnetworkID = SubnetworkIDCoinbase
	if !trx.IsCoinbase() {
		t.Error("coinbase subnetwork should be coinbase")
	}
}

func TestTransaction_TotalOutputValue(t *testing.T) {
	trx := testTransaction()
	total, err := trx.TotalOutputValue()
	if err != nil {
		t.Fatalf("TotalOutputValue: %v", err)
	}
	if total != 999_000_000 {
		t.Errorf("total = %d, want 999000000", total)
	}

	trx.Outputs = append(trx.Outputs, &Output{Value: ^uint64(0), ScriptPublicKey: testScriptPublicKey(0)})
	if _, err := trx.TotalOutputValue(); err == nil {
		t.Error("overflowing output sum should fail")
	}
}

func TestTransaction_JSONRoundtrip(t *testing.T) {
	trx := testTransaction()
	trx.Inputs[0].SignatureScript = []byte{0x41, 0xde, 0xad}
	trx.Payload = []byte("data")
	trx.Mass = 2000

	data, err := json.Marshal(trx)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Transaction
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ID() != trx.ID() {
		t.Error("JSON roundtrip changed the transaction ID")
	}
	if decoded.Mass != trx.Mass {
		t.Errorf("mass = %d, want %d", decoded.Mass, trx.Mass)
	}
	if string(decoded.Inputs[0].SignatureScript) != string(trx.Inputs[0].SignatureScript) {
		t.Error("signature script did not survive the roundtrip")
	}
}

func TestTransaction_MarshalSafeJSON(t *testing.T) {
	trx := testTransaction()
	data, err := trx.MarshalSafeJSON()
	if err != nil {
		t.Fatalf("MarshalSafeJSON: %v", err)
	}

	s := string(data)
	if !strings.Contains(s, `"value":"300000000"`) {
		t.Errorf("amounts should be decimal strings, got: %s", s)
	}
	if !strings.Contains(s, `"id":"`+trx.ID().String()+`"`) {
		t.Error("safe JSON should carry the transaction ID")
	}
}
