package rpcclient

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quasar-dag/quasar-wallet/internal/log"
)

// Notification methods delivered by the node over the websocket.
const (
	MethodUtxosChanged           = "utxosChangedNotification"
	MethodVirtualDAAScoreChanged = "virtualDaaScoreChangedNotification"
	MethodVirtualChainChanged    = "virtualChainChangedNotification"
)

// Notification is one decoded push message. Exactly one payload field is
// non-nil, matching Method.
type Notification struct {
	Method                 string
	UtxosChanged           *UtxosChangedNotification
	VirtualDAAScoreChanged *VirtualDAAScoreChangedNotification
	VirtualChainChanged    *VirtualChainChangedNotification
}

// UtxosChangedNotification reports UTXOs added to and removed from the
// tracked addresses.
type UtxosChangedNotification struct {
	Added   []UtxoEntry `json:"added"`
	Removed []UtxoEntry `json:"removed"`
}

// VirtualDAAScoreChangedNotification reports DAA score movement.
type VirtualDAAScoreChangedNotification struct {
	VirtualDAAScore uint64 `json:"virtualDaaScore,string"`
}

// VirtualChainChangedNotification reports a change of the selected chain.
type VirtualChainChangedNotification struct {
	RemovedChainBlocks []ChainBlock `json:"removedChainBlocks"`
	AddedChainBlocks   []ChainBlock `json:"addedChainBlocks"`
}

// wsMessage is the envelope of every websocket frame: either a push
// notification (method set) or a response to a subscribe request (id set).
type wsMessage struct {
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
	ID     *int            `json:"id,omitempty"`
}

// Notifier maintains a websocket connection to the node, manages
// subscriptions and decodes push notifications. It reconnects with a fixed
// backoff and replays active subscriptions after every reconnect.
type Notifier struct {
	url string

	mu            sync.Mutex
	conn          *websocket.Conn
	subscriptions []subscription
	nextID        int
	closed        bool

	notifications chan Notification
	connected     chan bool
	stop          chan struct{}
	wg            sync.WaitGroup
}

type subscription struct {
	method string
	params interface{}
}

// reconnectDelay is the pause between connection attempts.
const reconnectDelay = 5 * time.Second

// NewNotifier creates a notifier for the given websocket URL. Call Start
// to connect.
func NewNotifier(url string) *Notifier {
	return &Notifier{
		url:           url,
		notifications: make(chan Notification, 256),
		connected:     make(chan bool, 8),
		stop:          make(chan struct{}),
	}
}

// Notifications returns the stream of decoded push notifications.
func (n *Notifier) Notifications() <-chan Notification {
	return n.notifications
}

// ConnectionEvents reports true on connect and false on disconnect.
func (n *Notifier) ConnectionEvents() <-chan bool {
	return n.connected
}

// Start connects and begins delivering notifications. The connection is
// re-established automatically until Close is called.
func (n *Notifier) Start() {
	n.wg.Add(1)
	go n.run()
}

// Close tears down the connection and stops reconnecting.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.stop)
	if n.conn != nil {
		n.conn.Close()
	}
	n.mu.Unlock()
	n.wg.Wait()
}

// SubscribeUtxosChanged subscribes to UTXO changes for the addresses. The
// subscription survives reconnects.
func (n *Notifier) SubscribeUtxosChanged(addresses []string) error {
	params := struct {
		Addresses []string `json:"addresses"`
	}{Addresses: addresses}
	return n.subscribe("subscribeUtxosChanged", params)
}

// SubscribeVirtualDAAScoreChanged subscribes to DAA score movement.
func (n *Notifier) SubscribeVirtualDAAScoreChanged() error {
	return n.subscribe("subscribeVirtualDaaScoreChanged", nil)
}

// SubscribeVirtualChainChanged subscribes to selected-chain updates.
func (n *Notifier) SubscribeVirtualChainChanged(includeAcceptedTransactionIDs bool) error {
	params := struct {
		IncludeAcceptedTransactionIDs bool `json:"includeAcceptedTransactionIds"`
	}{IncludeAcceptedTransactionIDs: includeAcceptedTransactionIDs}
	return n.subscribe("subscribeVirtualChainChanged", params)
}

func (n *Notifier) subscribe(method string, params interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return fmt.Errorf("notifier is closed")
	}
	n.subscriptions = append(n.subscriptions, subscription{method: method, params: params})
	if n.conn == nil {
		// Not connected yet; the subscription is replayed on connect.
		return nil
	}
	return n.send(method, params)
}

// send writes one subscribe request. Caller holds n.mu.
func (n *Notifier) send(method string, params interface{}) error {
	n.nextID++
	req := request{JSONRPC: "2.0", Method: method, Params: params, ID: int64(n.nextID)}
	if err := n.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe %s: %w", method, err)
	}
	return nil
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stop:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(n.url, nil)
		if err != nil {
			log.RPC.Warn().Err(err).Str("url", n.url).Msg("websocket dial failed")
			select {
			case <-n.stop:
				return
			case <-time.After(reconnectDelay):
				continue
			}
		}

		n.mu.Lock()
		if n.closed {
			n.mu.Unlock()
			conn.Close()
			return
		}
		n.conn = conn
		replayErr := n.replaySubscriptions()
		n.mu.Unlock()

		if replayErr != nil {
			log.RPC.Warn().Err(replayErr).Msg("subscription replay failed")
			conn.Close()
			continue
		}

		n.emitConnected(true)
		n.readLoop(conn)
		n.emitConnected(false)

		n.mu.Lock()
		n.conn = nil
		n.mu.Unlock()
	}
}

// replaySubscriptions re-sends every active subscription. Caller holds n.mu.
func (n *Notifier) replaySubscriptions() error {
	for _, sub := range n.subscriptions {
		if err := n.send(sub.method, sub.params); err != nil {
			return err
		}
	}
	return nil
}

func (n *Notifier) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-n.stop:
			default:
				log.RPC.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.RPC.Warn().Err(err).Msg("malformed websocket frame")
			continue
		}
		if msg.ID != nil {
			// Subscribe acknowledgement.
			if msg.Error != nil {
				log.RPC.Error().Int("code", msg.Error.Code).
					Str("message", msg.Error.Message).Msg("subscription rejected")
			}
			continue
		}

		notification, err := decodeNotification(&msg)
		if err != nil {
			log.RPC.Warn().Err(err).Str("method", msg.Method).Msg("dropping notification")
			continue
		}
		if notification == nil {
			continue
		}

		select {
		case n.notifications <- *notification:
		default:
			log.RPC.Warn().Str("method", msg.Method).Msg("notification channel full, dropping")
		}
	}
}

func decodeNotification(msg *wsMessage) (*Notification, error) {
	switch msg.Method {
	case MethodUtxosChanged:
		var payload UtxosChangedNotification
		if err := json.Unmarshal(msg.Params, &payload); err != nil {
			return nil, err
		}
		return &Notification{Method: msg.Method, UtxosChanged: &payload}, nil
	case MethodVirtualDAAScoreChanged:
		var payload VirtualDAAScoreChangedNotification
		if err := json.Unmarshal(msg.Params, &payload); err != nil {
			return nil, err
		}
		return &Notification{Method: msg.Method, VirtualDAAScoreChanged: &payload}, nil
	case MethodVirtualChainChanged:
		var payload VirtualChainChangedNotification
		if err := json.Unmarshal(msg.Params, &payload); err != nil {
			return nil, err
		}
		return &Notification{Method: msg.Method, VirtualChainChanged: &payload}, nil
	default:
		// Unknown push methods are ignored.
		return nil, nil
	}
}

func (n *Notifier) emitConnected(up bool) {
	select {
	case n.connected <- up:
	default:
	}
}
