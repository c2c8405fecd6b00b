package utxo

import (
	"github.com/quasar-dag/quasar-wallet/internal/log"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// EventKind identifies a processor or context event.
type EventKind int

const (
	// EventConnect signals the node transport came up.
	EventConnect EventKind = iota
	// EventDisconnect signals the node transport went down.
	EventDisconnect
	// EventProcStart signals the processor loop started.
	EventProcStart
	// EventProcStop signals the processor loop stopped.
	EventProcStop
	// EventDAAScoreChange reports virtual DAA score movement.
	EventDAAScoreChange
	// EventBalance reports a balance change.
	EventBalance
	// EventPending reports a newly observed entry below maturity.
	EventPending
	// EventStasis reports a newly observed coinbase entry in stasis.
	EventStasis
	// EventDiscovery reports an entry found during a historical scan.
	EventDiscovery
	// EventMaturity reports an entry crossing into the mature set.
	EventMaturity
	// EventReorg reports an entry demoted because its chain segment was
	// removed.
	EventReorg
	// EventError reports a non-fatal processing failure.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventProcStart:
		return "start"
	case EventProcStop:
		return "stop"
	case EventDAAScoreChange:
		return "daa-score-change"
	case EventBalance:
		return "balance"
	case EventPending:
		return "pending"
	case EventStasis:
		return "stasis"
	case EventDiscovery:
		return "discovery"
	case EventMaturity:
		return "maturity"
	case EventReorg:
		return "reorg"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one record on the emitter queue. Fields beyond Kind are set when
// meaningful for the kind.
type Event struct {
	Kind     EventKind
	DAAScore uint64
	Balance  *Balance
	Entry    *EntryReference
	TxID     types.TransactionID
	Err      error
}

// Emitter is a bounded event queue. Emission never blocks; when the consumer
// falls behind, events are dropped and counted.
type Emitter struct {
	ch      chan Event
	dropped uint64
}

// NewEmitter creates an emitter with the given queue capacity.
func NewEmitter(capacity int) *Emitter {
	return &Emitter{ch: make(chan Event, capacity)}
}

// Events returns the consumer side of the queue.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

func (e *Emitter) emit(ev Event) {
	if e == nil {
		return
	}
	select {
	case e.ch <- ev:
	default:
		e.dropped++
		log.Utxo.Warn().Str("kind", ev.Kind.String()).
			Uint64("dropped", e.dropped).Msg("event queue full, dropping")
	}
}
