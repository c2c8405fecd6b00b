package utxo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/quasar-dag/quasar-wallet/config"
	"github.com/quasar-dag/quasar-wallet/internal/log"
	"github.com/quasar-dag/quasar-wallet/internal/rpcclient"
	"github.com/quasar-dag/quasar-wallet/internal/storage"
	"github.com/quasar-dag/quasar-wallet/pkg/tx"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// NotificationSource delivers decoded node push notifications and transport
// state. It is satisfied by rpcclient.Notifier.
type NotificationSource interface {
	Notifications() <-chan rpcclient.Notification
	ConnectionEvents() <-chan bool
	SubscribeUtxosChanged(addresses []string) error
	SubscribeVirtualDAAScoreChanged() error
	SubscribeVirtualChainChanged(includeAcceptedTransactionIDs bool) error
}

// Processor drives all contexts from the node's notification stream. It owns
// the RPC backend, routes UTXO changes per address, advances maturity on DAA
// score movement and resolves reorgs. A single mutex serializes notification
// ingestion with transaction submission so a spend confirmation can never
// race its own submit call.
type Processor struct {
	params  *config.Params
	backend Backend
	source  NotificationSource
	emitter *Emitter
	records *storage.RecordStore

	mu        sync.Mutex
	contexts  []*Context
	byAddress map[string]*Context
	daaScore  uint64
	started   bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ErrProcessorStarted is returned when Start is called twice.
var ErrProcessorStarted = errors.New("processor already started")

// eventQueueCapacity bounds the emitter queue shared by the processor and
// its contexts.
const eventQueueCapacity = 1024

// NewProcessor creates a processor over the given backend and notification
// source. recordStore may be nil to disable the persistence sink.
func NewProcessor(params *config.Params, backend Backend, source NotificationSource, recordStore *storage.RecordStore) *Processor {
	return &Processor{
		params:    params,
		backend:   backend,
		source:    source,
		emitter:   NewEmitter(eventQueueCapacity),
		records:   recordStore,
		byAddress: make(map[string]*Context),
		stop:      make(chan struct{}),
	}
}

// Events returns the shared event queue of the processor and its contexts.
func (p *Processor) Events() <-chan Event {
	return p.emitter.Events()
}

// NewContext creates a context attached to this processor. Its events flow
// into the processor's queue.
func (p *Processor) NewContext() *Context {
	ctx := NewContext(p.params, p.emitter)
	p.mu.Lock()
	ctx.UpdateDAAScore(p.daaScore)
	p.contexts = append(p.contexts, ctx)
	p.mu.Unlock()
	return ctx
}

// TrackAddresses begins tracking the addresses in the given context: a
// historical scan against the node, address routing registration and a UTXO
// change subscription.
func (p *Processor) TrackAddresses(ctx *Context, addresses []*types.Address) error {
	if err := ctx.TrackAddresses(p.backend, addresses); err != nil {
		return err
	}

	keys := make([]string, len(addresses))
	p.mu.Lock()
	for i, addr := range addresses {
		keys[i] = addr.String()
		p.byAddress[keys[i]] = ctx
	}
	p.mu.Unlock()

	if err := p.source.SubscribeUtxosChanged(keys); err != nil {
		return fmt.Errorf("subscribe utxos changed: %w", err)
	}
	return nil
}

// Start fetches the initial DAA score, subscribes to score and chain
// notifications and launches the event loop.
func (p *Processor) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrProcessorStarted
	}
	p.started = true
	p.mu.Unlock()

	daaScore, err := p.backend.GetVirtualDAAScore()
	if err != nil {
		return fmt.Errorf("initial DAA score: %w", err)
	}
	p.setDAAScore(daaScore)

	if err := p.source.SubscribeVirtualDAAScoreChanged(); err != nil {
		return fmt.Errorf("subscribe DAA score: %w", err)
	}
	if err := p.source.SubscribeVirtualChainChanged(true); err != nil {
		return fmt.Errorf("subscribe virtual chain: %w", err)
	}

	p.wg.Add(1)
	go p.run()
	p.emitter.emit(Event{Kind: EventProcStart, DAAScore: daaScore})
	log.Processor.Info().Uint64("daaScore", daaScore).Msg("processor started")
	return nil
}

// Stop terminates the event loop and waits for it to drain. Safe to call
// more than once.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
		p.emitter.emit(Event{Kind: EventProcStop})
		log.Processor.Info().Msg("processor stopped")
	})
}

// SubmitTransaction broadcasts a transaction under the notification lock, so
// the node's resulting UTXO changes cannot interleave with the submission
// bookkeeping of the caller.
func (p *Processor) SubmitTransaction(transaction *tx.Transaction, allowOrphan bool) (types.TransactionID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backend.SubmitTransaction(transaction, allowOrphan)
}

// GetVirtualDAAScore reports the score last seen via notifications, falling
// back to a node query before the first notification arrives.
func (p *Processor) GetVirtualDAAScore() (uint64, error) {
	p.mu.Lock()
	score := p.daaScore
	p.mu.Unlock()
	if score != 0 {
		return score, nil
	}
	return p.backend.GetVirtualDAAScore()
}

// GetUtxosByAddresses delegates to the backend.
func (p *Processor) GetUtxosByAddresses(addresses []string) ([]rpcclient.UtxoEntry, error) {
	return p.backend.GetUtxosByAddresses(addresses)
}

func (p *Processor) setDAAScore(daaScore uint64) {
	p.mu.Lock()
	p.daaScore = daaScore
	contexts := p.contexts
	p.mu.Unlock()
	for _, ctx := range contexts {
		ctx.UpdateDAAScore(daaScore)
	}
}

func (p *Processor) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case up := <-p.source.ConnectionEvents():
			p.handleConnection(up)
		case notification := <-p.source.Notifications():
			p.handleNotification(notification)
		}
	}
}

func (p *Processor) handleConnection(up bool) {
	if !up {
		p.emitter.emit(Event{Kind: EventDisconnect})
		log.Processor.Warn().Msg("node connection lost")
		return
	}

	log.Processor.Info().Msg("node connection established")
	// In-flight state cannot be trusted across a connection gap. Rescan
	// every context from scratch.
	daaScore, err := p.backend.GetVirtualDAAScore()
	if err != nil {
		p.emitError(fmt.Errorf("refresh DAA score: %w", err))
	} else {
		p.setDAAScore(daaScore)
	}

	p.mu.Lock()
	contexts := p.contexts
	p.mu.Unlock()
	for _, ctx := range contexts {
		addresses := ctx.TrackedAddresses()
		ctx.Clear()
		if len(addresses) == 0 {
			continue
		}
		if err := ctx.TrackAddresses(p.backend, addresses); err != nil {
			p.emitError(fmt.Errorf("rescan after reconnect: %w", err))
		}
	}
	p.emitter.emit(Event{Kind: EventConnect, DAAScore: daaScore})
}

func (p *Processor) handleNotification(notification rpcclient.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case notification.UtxosChanged != nil:
		p.handleUtxosChangedLocked(notification.UtxosChanged)
	case notification.VirtualDAAScoreChanged != nil:
		p.handleDAAScoreChangedLocked(notification.VirtualDAAScoreChanged.VirtualDAAScore)
	case notification.VirtualChainChanged != nil:
		p.handleChainChangedLocked(notification.VirtualChainChanged)
	}
}

// handleUtxosChangedLocked routes added and removed entries to the context
// tracking each address. Entries for untracked addresses are ignored.
// Caller holds p.mu.
func (p *Processor) handleUtxosChangedLocked(changes *rpcclient.UtxosChangedNotification) {
	for i := range changes.Added {
		wire := &changes.Added[i]
		ctx, ok := p.byAddress[wire.Address]
		if !ok {
			continue
		}
		ref, err := entryFromRPC(ctx.Params(), wire)
		if err != nil {
			p.emitError(err)
			continue
		}
		// Change from the wallet's own in-flight transaction skips the
		// maturity window; the wallet knows the funds are its own.
		force := ctx.OwnsOutgoing(ref.Outpoint.TxID)
		ctx.InsertEntry(ref, force)
		p.recordIncomingLocked(ref)
	}

	removedByContext := make(map[*Context][]types.Outpoint)
	for i := range changes.Removed {
		wire := &changes.Removed[i]
		ctx, ok := p.byAddress[wire.Address]
		if !ok {
			continue
		}
		removedByContext[ctx] = append(removedByContext[ctx], wire.Outpoint)
	}
	for ctx, outpoints := range removedByContext {
		ctx.RemoveEntries(outpoints)
	}
}

// handleDAAScoreChangedLocked advances maturity on every context. Caller
// holds p.mu.
func (p *Processor) handleDAAScoreChangedLocked(daaScore uint64) {
	p.daaScore = daaScore
	for _, ctx := range p.contexts {
		ctx.AdvanceDAAScore(daaScore)
	}
	p.emitter.emit(Event{Kind: EventDAAScoreChange, DAAScore: daaScore})
}

// handleChainChangedLocked resolves acceptance and reorgs. Accepted
// transaction IDs in added chain blocks settle outgoing transactions; IDs in
// removed blocks demote their outputs and clear acceptance. Caller holds
// p.mu.
func (p *Processor) handleChainChangedLocked(change *rpcclient.VirtualChainChangedNotification) {
	if removed := acceptedIDs(change.RemovedChainBlocks); len(removed) > 0 {
		log.Processor.Info().Int("transactions", len(removed)).Msg("chain segment removed, reverting acceptance")
		for _, ctx := range p.contexts {
			ctx.HandleChainReorg(removed)
		}
	}

	for _, id := range acceptedIDs(change.AddedChainBlocks) {
		for _, ctx := range p.contexts {
			out, ok := ctx.MarkOutgoingAccepted(id, p.daaScore)
			if !ok {
				continue
			}
			p.recordOutgoingLocked(&out)
			break
		}
	}
}

// acceptedIDs flattens and parses the accepted transaction IDs of a chain
// block list, skipping malformed hashes.
func acceptedIDs(blocks []rpcclient.ChainBlock) []types.TransactionID {
	var ids []types.TransactionID
	for _, block := range blocks {
		for _, raw := range block.AcceptedTransactionIDs {
			id, err := types.HexToHash(raw)
			if err != nil {
				log.Processor.Warn().Str("txId", raw).Msg("skipping malformed accepted transaction ID")
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids
}

// recordIncomingLocked persists an incoming entry record. Caller holds p.mu.
func (p *Processor) recordIncomingLocked(ref *EntryReference) {
	if p.records == nil {
		return
	}
	kind := storage.RecordIncoming
	if ref.Entry.IsCoinbase {
		kind = storage.RecordCoinbase
	}
	record := &storage.Record{
		TxID:     ref.Outpoint.TxID,
		Kind:     kind,
		DAAScore: ref.Entry.BlockDAAScore,
		Amount:   ref.Entry.Amount,
	}
	if ref.Address != nil {
		record.Addresses = []string{ref.Address.String()}
	}
	if err := p.records.Add(record); err != nil {
		p.emitError(fmt.Errorf("persist incoming record: %w", err))
	}
}

// recordOutgoingLocked persists an accepted outgoing record. Caller holds
// p.mu.
func (p *Processor) recordOutgoingLocked(out *OutgoingTransaction) {
	if p.records == nil {
		return
	}
	record := &storage.Record{
		TxID:     out.ID,
		Kind:     storage.RecordOutgoing,
		DAAScore: out.AcceptedDAAScore,
		Amount:   out.PaymentAmount,
		Fee:      out.Fees,
	}
	if err := p.records.Add(record); err != nil {
		p.emitError(fmt.Errorf("persist outgoing record: %w", err))
	}
}

func (p *Processor) emitError(err error) {
	log.Processor.Error().Err(err).Msg("processing failure")
	p.emitter.emit(Event{Kind: EventError, Err: err})
}
