package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/tradeit-market/tradeit/internal/app/domain/market"
	"github.com/tradeit-market/tradeit/internal/app/services/policy"
	"github.com/tradeit-market/tradeit/internal/identity"
	"github.com/tradeit-market/tradeit/internal/treestore"
)

const (
	livePingInterval = 30 * time.Second
	liveWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	// Cross-origin policy is enforced by the CORS middleware upstream.
	CheckOrigin: func(*http.Request) bool { return true },
}

// liveEvent is the wire shape of one feed message. A snapshot carries
// the full ordered collection; put and delete carry a single record.
type liveEvent struct {
	Type     string           `json:"type"`
	Key      string           `json:"key,omitempty"`
	Value    map[string]any   `json:"value,omitempty"`
	Children []map[string]any `json:"children,omitempty"`
}

// eventFilter decides whether a single-record event is forwarded and
// may rewrite snapshot children. A nil filter forwards everything.
type eventFilter func(key string, value map[string]any) bool

func (h *handler) liveCategories(w http.ResponseWriter, r *http.Request) {
	sub, err := h.app.Categories.Watch(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.serveFeed(w, r, sub, nil)
}

func (h *handler) liveItems(w http.ResponseWriter, r *http.Request) {
	sub, err := h.app.Items.Watch(r.Context(), mux.Vars(r)["categoryID"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.serveFeed(w, r, sub, nil)
}

func (h *handler) liveMyItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	sub, err := h.app.Items.WatchMine(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.serveFeed(w, r, sub, nil)
}

// livePending streams the pending transactions the caller participates
// in. The underlying feed carries every pending trade, so events are
// filtered per viewer before forwarding.
func (h *handler) livePending(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	sub, err := h.app.Transactions.WatchPending(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.serveFeed(w, r, sub, func(key string, value map[string]any) bool {
		// Deletes carry no value; forward them so viewers can drop the
		// record if they held it.
		if value == nil {
			return true
		}
		return policy.IsParticipant(market.PendingFromFields(key, value), userID)
	})
}

// serveFeed upgrades the connection and forwards subscription events
// until either side goes away. Closing the subscription is this
// function's responsibility.
func (h *handler) serveFeed(w http.ResponseWriter, r *http.Request, sub *treestore.Subscription, filter eventFilter) {
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Drain client frames so close handshakes are noticed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(livePingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			msg, forward := encodeLiveEvent(ev, filter)
			if !forward {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func encodeLiveEvent(ev treestore.Event, filter eventFilter) (liveEvent, bool) {
	switch ev.Type {
	case treestore.EventSnapshot:
		children := make([]map[string]any, 0, len(ev.Children))
		for _, node := range ev.Children {
			if node.Value == nil {
				continue
			}
			if filter != nil && !filter(node.Key, node.Value) {
				continue
			}
			child := map[string]any{"key": node.Key, "value": node.Value}
			children = append(children, child)
		}
		return liveEvent{Type: "snapshot", Children: children}, true
	case treestore.EventPut:
		if filter != nil && !filter(ev.Key, ev.Value) {
			return liveEvent{}, false
		}
		return liveEvent{Type: "put", Key: ev.Key, Value: ev.Value}, true
	case treestore.EventDelete:
		if filter != nil && !filter(ev.Key, nil) {
			return liveEvent{}, false
		}
		return liveEvent{Type: "delete", Key: ev.Key}, true
	}
	return liveEvent{}, false
}
