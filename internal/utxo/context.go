package utxo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/quasar-dag/quasar-wallet/config"
	"github.com/quasar-dag/quasar-wallet/internal/log"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// Errors returned by context operations.
var (
	ErrEntryNotSpendable = errors.New("entry is not in the mature set")
	ErrUnknownOutgoing   = errors.New("unknown outgoing transaction")
)

// OutgoingTransaction records a reservation: the entries a pending
// transaction consumes plus its aggregate values. It is created when the
// entries are reserved and lives until the node confirms every input spent
// or the reservation is cancelled.
type OutgoingTransaction struct {
	ID                   types.TransactionID
	Entries              []*EntryReference
	AggregateInputAmount uint64
	PaymentAmount        uint64
	ChangeAmount         uint64
	Fees                 uint64

	Submitted         bool
	SubmittedDAAScore uint64
	Accepted          bool
	AcceptedDAAScore  uint64

	// remaining counts reserved inputs the node has not yet reported spent.
	remaining int
}

// Context owns the UTXO state of a tracked address set. All state lives
// behind one mutex; the processor and generators are the only callers.
type Context struct {
	params  *config.Params
	emitter *Emitter

	mu        sync.Mutex
	addresses map[string]*types.Address
	mature    *EntrySet
	pending   map[types.Outpoint]*EntryReference
	stasis    map[types.Outpoint]*EntryReference
	reserved  map[types.Outpoint]types.TransactionID
	outgoing  map[types.TransactionID]*OutgoingTransaction
	daaScore  uint64
}

// NewContext creates an empty context. The emitter may be nil when the
// caller does not consume events.
func NewContext(params *config.Params, emitter *Emitter) *Context {
	c := &Context{params: params, emitter: emitter}
	c.reset()
	return c
}

// reset reinitializes all entry state. Caller holds c.mu (or owns c
// exclusively during construction).
func (c *Context) reset() {
	c.addresses = make(map[string]*types.Address)
	c.mature = NewEntrySet()
	c.pending = make(map[types.Outpoint]*EntryReference)
	c.stasis = make(map[types.Outpoint]*EntryReference)
	c.reserved = make(map[types.Outpoint]types.TransactionID)
	c.outgoing = make(map[types.TransactionID]*OutgoingTransaction)
}

// Params returns the network parameters the context was built with.
func (c *Context) Params() *config.Params {
	return c.params
}

// UpdateDAAScore records the current virtual DAA score without running
// maturity transitions.
func (c *Context) UpdateDAAScore(daaScore uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.daaScore = daaScore
}

// DAAScore returns the last virtual DAA score the context saw.
func (c *Context) DAAScore() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.daaScore
}

// RegisterAddresses starts tracking the given addresses. Registering an
// already tracked address is a no-op.
func (c *Context) RegisterAddresses(addresses []*types.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, addr := range addresses {
		c.addresses[addr.String()] = addr
	}
}

// UnregisterAddresses stops tracking the given addresses and drops their
// entries. Unregistering an unknown address is a no-op.
func (c *Context) UnregisterAddresses(addresses []*types.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, addr := range addresses {
		key := addr.String()
		if _, ok := c.addresses[key]; !ok {
			continue
		}
		delete(c.addresses, key)
		c.dropEntriesOf(key)
	}
}

// dropEntriesOf removes every non-reserved entry owned by the address.
// Caller holds c.mu.
func (c *Context) dropEntriesOf(address string) {
	for _, ref := range c.mature.Snapshot() {
		if ref.Address != nil && ref.Address.String() == address {
			c.mature.Remove(ref.Outpoint)
		}
	}
	for outpoint, ref := range c.pending {
		if ref.Address != nil && ref.Address.String() == address {
			delete(c.pending, outpoint)
		}
	}
	for outpoint, ref := range c.stasis {
		if ref.Address != nil && ref.Address.String() == address {
			delete(c.stasis, outpoint)
		}
	}
}

// IsTracked reports whether the address string is registered.
func (c *Context) IsTracked(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.addresses[address]
	return ok
}

// TrackedAddresses returns the registered addresses.
func (c *Context) TrackedAddresses() []*types.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Address, 0, len(c.addresses))
	for _, addr := range c.addresses {
		out = append(out, addr)
	}
	return out
}

// Clear drops all addresses and entries. Required after a connection gap,
// since in-flight state cannot be trusted across it; callers must re-register
// before balances are meaningful again.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// TrackAddresses registers the addresses and performs a historical scan
// against the node, emitting a discovery event per found entry.
func (c *Context) TrackAddresses(backend Backend, addresses []*types.Address) error {
	fresh := make([]string, 0, len(addresses))
	c.mu.Lock()
	for _, addr := range addresses {
		key := addr.String()
		if _, ok := c.addresses[key]; ok {
			continue
		}
		c.addresses[key] = addr
		fresh = append(fresh, key)
	}
	c.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	wireEntries, err := backend.GetUtxosByAddresses(fresh)
	if err != nil {
		return fmt.Errorf("historical scan: %w", err)
	}
	for i := range wireEntries {
		ref, err := entryFromRPC(c.params, &wireEntries[i])
		if err != nil {
			log.Utxo.Warn().Err(err).Msg("skipping malformed utxo in scan")
			continue
		}
		c.InsertEntry(ref, false)
		c.emitter.emit(Event{Kind: EventDiscovery, Entry: ref, DAAScore: c.DAAScore()})
	}
	return nil
}

// InsertEntry adds an observed entry, classified by maturity at the current
// DAA score. Entries already owned in any state are ignored. force places
// the entry directly in the mature set; it is used for the wallet's own
// change, which is safe to respend immediately.
func (c *Context) InsertEntry(ref *EntryReference, force bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ownsLocked(ref.Outpoint) {
		return
	}

	state := ref.Maturity(c.params, c.daaScore)
	if force {
		state = StateMature
	}
	switch state {
	case StateStasis:
		c.stasis[ref.Outpoint] = ref
		c.emitter.emit(Event{Kind: EventStasis, Entry: ref, DAAScore: c.daaScore})
	case StatePending:
		c.pending[ref.Outpoint] = ref
		c.emitter.emit(Event{Kind: EventPending, Entry: ref, DAAScore: c.daaScore})
		c.emitBalanceLocked()
	case StateMature:
		c.mature.Insert(ref)
		c.emitBalanceLocked()
	}
}

// ownsLocked reports whether the outpoint is held in any state. Caller
// holds c.mu.
func (c *Context) ownsLocked(outpoint types.Outpoint) bool {
	if c.mature.Contains(outpoint) {
		return true
	}
	if _, ok := c.pending[outpoint]; ok {
		return true
	}
	if _, ok := c.stasis[outpoint]; ok {
		return true
	}
	if _, ok := c.reserved[outpoint]; ok {
		return true
	}
	return false
}

// RemoveEntries processes spend confirmations from the node. Spends of
// reserved entries settle their outgoing transaction; spends of spendable
// entries remove them outright. Unknown outpoints are ignored.
func (c *Context) RemoveEntries(outpoints []types.Outpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for _, outpoint := range outpoints {
		if txID, ok := c.reserved[outpoint]; ok {
			delete(c.reserved, outpoint)
			changed = true
			if out, ok := c.outgoing[txID]; ok {
				out.remaining--
				if out.remaining <= 0 {
					delete(c.outgoing, txID)
				}
			}
			continue
		}
		if c.mature.Remove(outpoint) != nil {
			changed = true
			continue
		}
		if _, ok := c.pending[outpoint]; ok {
			delete(c.pending, outpoint)
			changed = true
			continue
		}
		if _, ok := c.stasis[outpoint]; ok {
			delete(c.stasis, outpoint)
			changed = true
		}
	}
	if changed {
		c.emitBalanceLocked()
	}
}

// Promote moves pending entries that crossed their maturity window into the
// mature set and emits a maturity event for each.
func (c *Context) Promote() {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for outpoint, ref := range c.pending {
		if ref.Maturity(c.params, c.daaScore) != StateMature {
			continue
		}
		delete(c.pending, outpoint)
		c.mature.Insert(ref)
		changed = true
		c.emitter.emit(Event{Kind: EventMaturity, Entry: ref, DAAScore: c.daaScore})
	}
	if changed {
		c.emitBalanceLocked()
	}
}

// Revive moves coinbase entries out of stasis once the stasis window has
// passed.
func (c *Context) Revive() {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for outpoint, ref := range c.stasis {
		state := ref.Maturity(c.params, c.daaScore)
		if state == StateStasis {
			continue
		}
		delete(c.stasis, outpoint)
		changed = true
		if state == StateMature {
			c.mature.Insert(ref)
			c.emitter.emit(Event{Kind: EventMaturity, Entry: ref, DAAScore: c.daaScore})
		} else {
			c.pending[outpoint] = ref
			c.emitter.emit(Event{Kind: EventPending, Entry: ref, DAAScore: c.daaScore})
		}
	}
	if changed {
		c.emitBalanceLocked()
	}
}

// AdvanceDAAScore records a new virtual DAA score and runs all score-driven
// transitions: stasis revival, maturity promotion and the stale-outgoing
// sweep.
func (c *Context) AdvanceDAAScore(daaScore uint64) {
	c.UpdateDAAScore(daaScore)
	c.Revive()
	c.Promote()
	c.sweepOutgoing()
}

// sweepOutgoing cancels outgoing transactions that were submitted but never
// accepted within the coinbase maturity window; their entries return to the
// mature set so they can be respent.
func (c *Context) sweepOutgoing() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, out := range c.outgoing {
		if !out.Submitted || out.Accepted {
			continue
		}
		if c.daaScore < out.SubmittedDAAScore ||
			c.daaScore-out.SubmittedDAAScore < c.params.CoinbaseMaturityPeriodDAA {
			continue
		}
		log.Utxo.Warn().Str("txId", id.String()).
			Uint64("submittedAt", out.SubmittedDAAScore).
			Msg("outgoing transaction never accepted, releasing its inputs")
		c.cancelOutgoingLocked(id, out)
	}
}

// MatureEntries returns the spendable entries in ascending amount order.
func (c *Context) MatureEntries() []*EntryReference {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mature.Snapshot()
}

// MatureRange returns spendable entries [from, to) in ascending amount
// order.
func (c *Context) MatureRange(from, to int) []*EntryReference {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mature.Range(from, to)
}

// PendingEntries returns the entries below maturity in ascending amount
// order.
func (c *Context) PendingEntries() []*EntryReference {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := NewEntrySet()
	for _, ref := range c.pending {
		set.Insert(ref)
	}
	return set.Snapshot()
}

// Balance returns the current balance snapshot.
func (c *Context) Balance() Balance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceLocked()
}

// balanceLocked computes the balance. Caller holds c.mu.
func (c *Context) balanceLocked() Balance {
	b := Balance{
		Mature:           c.mature.TotalAmount(),
		MatureUTXOCount:  c.mature.Len(),
		PendingUTXOCount: len(c.pending),
		StasisUTXOCount:  len(c.stasis),
	}
	for _, ref := range c.pending {
		b.Pending += ref.Entry.Amount
	}
	for _, out := range c.outgoing {
		for _, ref := range out.Entries {
			if _, reserved := c.reserved[ref.Outpoint]; reserved {
				b.Outgoing += ref.Entry.Amount
			}
		}
	}
	return b
}

func (c *Context) emitBalanceLocked() {
	if c.emitter == nil {
		return
	}
	b := c.balanceLocked()
	c.emitter.emit(Event{Kind: EventBalance, Balance: &b, DAAScore: c.daaScore})
}

// ReserveEntries atomically moves the outgoing transaction's entries from
// the mature set to the reserved overlay. If any entry is not currently
// mature, nothing is reserved and ErrEntryNotSpendable is returned. This is
// the single point that prevents two pending transactions from selecting the
// same outpoint.
func (c *Context) ReserveEntries(out *OutgoingTransaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ref := range out.Entries {
		if !c.mature.Contains(ref.Outpoint) {
			return fmt.Errorf("reserve %s for %s: %w", ref.Outpoint, out.ID, ErrEntryNotSpendable)
		}
	}
	for _, ref := range out.Entries {
		c.mature.Remove(ref.Outpoint)
		c.reserved[ref.Outpoint] = out.ID
	}
	out.remaining = len(out.Entries)
	c.outgoing[out.ID] = out
	c.emitBalanceLocked()
	return nil
}

// RegisterOutgoing marks a reserved transaction as submitted to the network
// at the current DAA score.
func (c *Context) RegisterOutgoing(id types.TransactionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, ok := c.outgoing[id]
	if !ok {
		return fmt.Errorf("register %s: %w", id, ErrUnknownOutgoing)
	}
	out.Submitted = true
	out.SubmittedDAAScore = c.daaScore
	return nil
}

// CancelOutgoing releases a reservation, returning its entries to the
// mature set. Used when submission fails or the caller abandons the
// transaction.
func (c *Context) CancelOutgoing(id types.TransactionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, ok := c.outgoing[id]
	if !ok {
		return fmt.Errorf("cancel %s: %w", id, ErrUnknownOutgoing)
	}
	c.cancelOutgoingLocked(id, out)
	return nil
}

// cancelOutgoingLocked returns still-reserved entries to the mature set and
// drops the record. Caller holds c.mu.
func (c *Context) cancelOutgoingLocked(id types.TransactionID, out *OutgoingTransaction) {
	for _, ref := range out.Entries {
		if _, ok := c.reserved[ref.Outpoint]; !ok {
			continue
		}
		delete(c.reserved, ref.Outpoint)
		c.mature.Insert(ref)
	}
	delete(c.outgoing, id)
	c.emitBalanceLocked()
}

// RemoveOutgoing drops an outgoing transaction and destroys its reserved
// entries. Used when the spend is known confirmed out of band.
func (c *Context) RemoveOutgoing(id types.TransactionID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, ok := c.outgoing[id]
	if !ok {
		return
	}
	for _, ref := range out.Entries {
		delete(c.reserved, ref.Outpoint)
	}
	delete(c.outgoing, id)
	c.emitBalanceLocked()
}

// MarkOutgoingAccepted records that the network accepted the transaction at
// the given DAA score. Returns a copy of the outgoing record, and false for
// transactions the context does not track.
func (c *Context) MarkOutgoingAccepted(id types.TransactionID, daaScore uint64) (OutgoingTransaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, ok := c.outgoing[id]
	if !ok {
		return OutgoingTransaction{}, false
	}
	out.Accepted = true
	out.AcceptedDAAScore = daaScore
	return *out, true
}

// OutgoingCount returns the number of live reservations.
func (c *Context) OutgoingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outgoing)
}

// OwnsOutgoing reports whether the transaction is one of the context's
// in-flight outgoing transactions. Change produced by such a transaction is
// safe to respend as soon as the node reports it.
func (c *Context) OwnsOutgoing(id types.TransactionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.outgoing[id]
	return ok
}

// HandleChainReorg reacts to chain blocks leaving the selected chain.
// Entries created by the named transactions that never matured are destroyed;
// the node re-adds them if they remain valid on the new chain. Mature entries
// are demoted back to pending so they must re-mature, and acceptance of
// outgoing transactions in the removed segment is cleared. Unknown
// transactions are ignored.
func (c *Context) HandleChainReorg(removedTxIDs []types.TransactionID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for _, txID := range removedTxIDs {
		if out, ok := c.outgoing[txID]; ok && out.Accepted {
			out.Accepted = false
			out.AcceptedDAAScore = 0
		}
		for outpoint, ref := range c.pending {
			if outpoint.TxID != txID {
				continue
			}
			delete(c.pending, outpoint)
			changed = true
			c.emitter.emit(Event{Kind: EventReorg, Entry: ref, TxID: txID, DAAScore: c.daaScore})
		}
		for outpoint, ref := range c.stasis {
			if outpoint.TxID != txID {
				continue
			}
			delete(c.stasis, outpoint)
			changed = true
			c.emitter.emit(Event{Kind: EventReorg, Entry: ref, TxID: txID, DAAScore: c.daaScore})
		}
		for _, ref := range c.mature.Snapshot() {
			if ref.Outpoint.TxID != txID {
				continue
			}
			c.mature.Remove(ref.Outpoint)
			// The entry must re-age from the point it rejoined the
			// selected chain; the observed entry itself stays as the node
			// reported it.
			ref.demotedDAAScore = c.daaScore
			c.pending[ref.Outpoint] = ref
			changed = true
			c.emitter.emit(Event{Kind: EventReorg, Entry: ref, TxID: txID, DAAScore: c.daaScore})
		}
	}
	if changed {
		c.emitBalanceLocked()
	}
}
