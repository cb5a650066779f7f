package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fntelecomllc/studio-sub001/internal/progress"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The HTTP API already allows any origin; the socket follows suit.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHello is the first frame sent on a new subscription. When resyncRequired
// is true the requested resume point had already been evicted and the client
// must refetch campaign state over the REST API before trusting the stream.
type wsHello struct {
	Type           string `json:"type"`
	CampaignID     string `json:"campaignId"`
	ResyncRequired bool   `json:"resyncRequired"`
	LastSequence   int64  `json:"lastSequenceNumber"`
}

// CampaignEventsHandler upgrades the connection to a WebSocket and streams a
// campaign's progress events in sequence order. ?lastSequenceNumber= resumes
// after the given sequence; omitted or 0 replays everything still buffered.
func (h *APIHandler) CampaignEventsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	fromSequence := int64(0)
	if raw := r.URL.Query().Get("lastSequenceNumber"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid lastSequenceNumber")
			return
		}
		fromSequence = v
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS: Upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	sub := h.Broadcaster.Subscribe(id, fromSequence)
	defer h.Broadcaster.Unsubscribe(sub)
	log.Printf("WS: Client %s subscribed to campaign %s from sequence %d", r.RemoteAddr, id, fromSequence)

	// Reader: consume control frames and detect disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(wsHello{
		Type:           "hello",
		CampaignID:     id.String(),
		ResyncRequired: sub.ResyncRequired,
		LastSequence:   h.Broadcaster.LastSequence(id),
	}); err != nil {
		conn.Close()
		return
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case ev, open := <-sub.Events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !open {
				// Campaign evicted after completion; say goodbye cleanly.
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "campaign stream ended"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("WS: Write to %s failed: %v", r.RemoteAddr, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// wsControl is an inbound control frame on the multiplexed event socket.
type wsControl struct {
	Action       string `json:"action"`
	CampaignID   string `json:"campaignId"`
	LastSequence int64  `json:"lastSequenceNumber"`
}

// wsAck acknowledges a control frame or reports a per-campaign stream event.
type wsAck struct {
	Type           string `json:"type"`
	CampaignID     string `json:"campaignId"`
	ResyncRequired bool   `json:"resyncRequired,omitempty"`
	LastSequence   int64  `json:"lastSequenceNumber,omitempty"`
	Error          string `json:"error,omitempty"`
}

// wsStream tracks one campaign subscription on a multiplexed connection.
type wsStream struct {
	sub  *progress.Subscription
	stop chan struct{}
}

// EventStreamHandler upgrades to a WebSocket that multiplexes any number of
// campaign streams over one connection. Clients drive it with control frames:
//
//	{"action":"subscribe","campaignId":"…","lastSequenceNumber":N}
//	{"action":"unsubscribe","campaignId":"…"}
//
// Subscribing again to the same campaign replaces the existing stream, which
// is how a client resumes from a new sequence number without reconnecting.
func (h *APIHandler) EventStreamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS: Upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	log.Printf("WS: Client %s connected to event stream", r.RemoteAddr)

	out := make(chan interface{}, 64)
	done := make(chan struct{})

	send := func(frame interface{}) {
		select {
		case out <- frame:
		case <-done:
		}
	}

	// Reader: owns the subscription table. All subscribe and unsubscribe
	// bookkeeping happens here, so the table needs no lock.
	go func() {
		defer close(done)
		streams := make(map[uuid.UUID]*wsStream)
		defer func() {
			for _, st := range streams {
				h.Broadcaster.Unsubscribe(st.sub)
				close(st.stop)
			}
		}()

		conn.SetReadLimit(1024)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})

		for {
			var ctl wsControl
			if err := conn.ReadJSON(&ctl); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("WS: Client %s read error: %v", r.RemoteAddr, err)
				}
				return
			}
			id, err := uuid.Parse(ctl.CampaignID)
			if err != nil {
				send(wsAck{Type: "error", CampaignID: ctl.CampaignID, Error: "invalid campaignId"})
				continue
			}

			switch ctl.Action {
			case "subscribe":
				if ctl.LastSequence < 0 {
					send(wsAck{Type: "error", CampaignID: ctl.CampaignID, Error: "invalid lastSequenceNumber"})
					continue
				}
				if prev, ok := streams[id]; ok {
					h.Broadcaster.Unsubscribe(prev.sub)
					close(prev.stop)
				}
				st := &wsStream{
					sub:  h.Broadcaster.Subscribe(id, ctl.LastSequence),
					stop: make(chan struct{}),
				}
				streams[id] = st
				send(wsAck{
					Type:           "subscribed",
					CampaignID:     id.String(),
					ResyncRequired: st.sub.ResyncRequired,
					LastSequence:   h.Broadcaster.LastSequence(id),
				})
				go func(st *wsStream, id uuid.UUID) {
					for {
						select {
						case ev, open := <-st.sub.Events:
							if !open {
								send(wsAck{Type: "streamEnded", CampaignID: id.String()})
								return
							}
							send(ev)
						case <-st.stop:
							return
						}
					}
				}(st, id)
			case "unsubscribe":
				if st, ok := streams[id]; ok {
					h.Broadcaster.Unsubscribe(st.sub)
					close(st.stop)
					delete(streams, id)
				}
				send(wsAck{Type: "unsubscribed", CampaignID: id.String()})
			default:
				send(wsAck{Type: "error", CampaignID: ctl.CampaignID, Error: "unknown action"})
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case frame := <-out:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				log.Printf("WS: Write to %s failed: %v", r.RemoteAddr, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
