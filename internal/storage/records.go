package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// RecordKind classifies a wallet transaction record.
type RecordKind string

// Record kinds written by the UTXO processor.
const (
	RecordIncoming RecordKind = "incoming"
	RecordOutgoing RecordKind = "outgoing"
	RecordCoinbase RecordKind = "coinbase"
	RecordReorg    RecordKind = "reorg"
)

// ErrRecordNotFound is returned when no record exists for a transaction ID.
var ErrRecordNotFound = errors.New("record not found")

// Record is one persisted wallet transaction event.
type Record struct {
	TxID      types.TransactionID `json:"transactionId"`
	Kind      RecordKind          `json:"kind"`
	DAAScore  uint64              `json:"daaScore"`
	Amount    uint64              `json:"amount"`
	Fee       uint64              `json:"fee,omitempty"`
	Addresses []string            `json:"addresses,omitempty"`
}

// Key prefixes for the record namespace. Records are stored under an
// ordering key (DAA score, then transaction ID) so prefix iteration walks
// them chronologically, with a secondary index from transaction ID to the
// ordering key.
var (
	recordKeyPrefix = []byte("rec/")
	recordIdxPrefix = []byte("idx/")
)

// RecordStore persists wallet transaction records in a key-value DB.
type RecordStore struct {
	db DB
}

// NewRecordStore creates a record store on top of db.
func NewRecordStore(db DB) *RecordStore {
	return &RecordStore{db: db}
}

// orderKey builds the chronological key for a record.
func orderKey(daaScore uint64, txID types.TransactionID) []byte {
	key := make([]byte, len(recordKeyPrefix)+8+len(txID))
	n := copy(key, recordKeyPrefix)
	binary.BigEndian.PutUint64(key[n:], daaScore)
	copy(key[n+8:], txID[:])
	return key
}

// indexKey builds the transaction ID index key.
func indexKey(txID types.TransactionID) []byte {
	key := make([]byte, len(recordIdxPrefix)+len(txID))
	n := copy(key, recordIdxPrefix)
	copy(key[n:], txID[:])
	return key
}

// Add stores a record, replacing any previous record for the same
// transaction ID.
func (s *RecordStore) Add(record *Record) error {
	// Drop the old ordering entry if the record moved to a new DAA score.
	if old, err := s.db.Get(indexKey(record.TxID)); err == nil {
		if err := s.db.Delete(old); err != nil {
			return fmt.Errorf("remove stale record: %w", err)
		}
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.TxID, err)
	}

	key := orderKey(record.DAAScore, record.TxID)
	if err := s.db.Put(key, value); err != nil {
		return fmt.Errorf("store record %s: %w", record.TxID, err)
	}
	if err := s.db.Put(indexKey(record.TxID), key); err != nil {
		return fmt.Errorf("index record %s: %w", record.TxID, err)
	}
	return nil
}

// Get fetches the record for a transaction ID.
func (s *RecordStore) Get(txID types.TransactionID) (*Record, error) {
	key, err := s.db.Get(indexKey(txID))
	if err != nil {
		return nil, ErrRecordNotFound
	}
	value, err := s.db.Get(key)
	if err != nil {
		return nil, ErrRecordNotFound
	}

	var record Record
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", txID, err)
	}
	return &record, nil
}

// Remove deletes the record for a transaction ID. Removing a missing record
// is not an error.
func (s *RecordStore) Remove(txID types.TransactionID) error {
	key, err := s.db.Get(indexKey(txID))
	if err != nil {
		return nil
	}
	if err := s.db.Delete(key); err != nil {
		return fmt.Errorf("delete record %s: %w", txID, err)
	}
	if err := s.db.Delete(indexKey(txID)); err != nil {
		return fmt.Errorf("delete record index %s: %w", txID, err)
	}
	return nil
}

// ForEach iterates over all records. On an ordered backing store the
// callback sees records in ascending DAA score order. Return a non-nil
// error from fn to stop early.
func (s *RecordStore) ForEach(fn func(*Record) error) error {
	return s.db.ForEach(recordKeyPrefix, func(key, value []byte) error {
		var record Record
		if err := json.Unmarshal(value, &record); err != nil {
			return fmt.Errorf("decode record at %x: %w", key, err)
		}
		return fn(&record)
	})
}
