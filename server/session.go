/******************************************************************************
 *
 *  Description :
 *    A single websocket session: an attachment point for event delivery.
 *    Sessions subscribe to per-topic channels on the pub/sub transport;
 *    whatever the broadcaster publishes there is relayed verbatim.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banter-chat/banter/server/broadcast"
	"github.com/banter-chat/banter/server/guardian"
	"github.com/banter-chat/banter/server/logs"
	"github.com/banter-chat/banter/server/pubsub"
	"github.com/banter-chat/banter/server/store/types"
)

const (
	// Maximum number of queued messages before the session is considered stale.
	sendQueueLimit = 128

	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Terminate the session after this period of inactivity.
	idleSessionTimeout = 55 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = idleSessionTimeout

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

type subscription struct {
	topic types.Uid
	sub   pubsub.Subscription
}

// Session is a single websocket connection of one principal.
type Session struct {
	// Unique session id.
	sid string

	ws *websocket.Conn

	// Permission resolver of the connected principal.
	gdn *guardian.Guardian

	// Outbound messages, buffered.
	send chan interface{}

	// Channel for shutting down the session, buffer 1.
	stop chan interface{}

	// Live pub/sub subscriptions of this session, keyed by topic id.
	subsLock sync.Mutex
	subs     map[string]subscription
}

// MsgClient is an inbound client request.
type MsgClient struct {
	// Topic id to attach to.
	Subscribe string `json:"subscribe,omitempty"`
	// Topic id to detach from.
	Unsubscribe string `json:"unsubscribe,omitempty"`
}

// MsgServerCtrl is an out-of-band response to a client request.
type MsgServerCtrl struct {
	Code  int    `json:"code"`
	Text  string `json:"text,omitempty"`
	Topic string `json:"topic,omitempty"`
}

// queueOut relays an event to the session. A session which cannot drain
// its queue is shut down: a reader this far behind is not coming back.
func (sess *Session) queueOut(payload []byte) bool {
	select {
	case sess.send <- payload:
		return true
	default:
		logs.Warning.Println("ws: outbound queue full, terminating session", sess.sid)
		select {
		case sess.stop <- nil:
		default:
		}
		return false
	}
}

func (sess *Session) queueCtrl(code int, text, topic string) {
	data, _ := json.Marshal(map[string]*MsgServerCtrl{
		"ctrl": {Code: code, Text: text, Topic: topic}})
	sess.queueOut(data)
}

func (sess *Session) dispatchRaw(raw []byte) {
	var msg MsgClient
	if err := json.Unmarshal(raw, &msg); err != nil {
		sess.queueCtrl(400, "malformed message", "")
		return
	}

	switch {
	case msg.Subscribe != "":
		sess.subscribe(msg.Subscribe)
	case msg.Unsubscribe != "":
		sess.unsubscribe(msg.Unsubscribe)
	default:
		sess.queueCtrl(400, "unknown request", "")
	}
}

// subscribe attaches the session to a topic's event channel. Visibility is
// checked at attach time, the same rule as the REST surface.
func (sess *Session) subscribe(topicId string) {
	uid := types.ParseUid(topicId)
	if uid.IsZero() {
		sess.queueCtrl(404, "not found", topicId)
		return
	}

	if _, err := globals.chatSvc.FetchTopic(sess.gdn, uid); err != nil {
		code, msgs := errorStatus(err)
		sess.queueCtrl(code, msgs[0], topicId)
		return
	}

	sess.subsLock.Lock()
	defer sess.subsLock.Unlock()

	if _, ok := sess.subs[topicId]; ok {
		sess.queueCtrl(304, "already attached", topicId)
		return
	}

	sub, err := pubsub.Get().Subscribe(broadcast.ChannelKey(uid), func(channel string, payload []byte) {
		sess.queueOut(payload)
	})
	if err != nil {
		logs.Error.Println("ws: subscribe failed", sess.sid, err)
		sess.queueCtrl(500, "subscription failed", topicId)
		return
	}

	sess.subs[topicId] = subscription{topic: uid, sub: sub}
	sess.queueCtrl(200, "attached", topicId)
}

func (sess *Session) unsubscribe(topicId string) {
	sess.subsLock.Lock()
	defer sess.subsLock.Unlock()

	entry, ok := sess.subs[topicId]
	if !ok {
		sess.queueCtrl(404, "not attached", topicId)
		return
	}

	if err := entry.sub.Unsubscribe(); err != nil {
		logs.Warning.Println("ws: unsubscribe", sess.sid, err)
	}
	delete(sess.subs, topicId)
	sess.queueCtrl(200, "detached", topicId)
}

// detachAll drops every pub/sub subscription of the session.
func (sess *Session) detachAll() {
	sess.subsLock.Lock()
	defer sess.subsLock.Unlock()

	for topicId, entry := range sess.subs {
		if err := entry.sub.Unsubscribe(); err != nil {
			logs.Warning.Println("ws: unsubscribe", sess.sid, err)
		}
		delete(sess.subs, topicId)
	}
}

func (sess *Session) cleanUp() {
	sess.detachAll()
	globals.sessionStore.Delete(sess)
}

func (sess *Session) readLoop() {
	defer func() {
		sess.ws.Close()
		sess.cleanUp()
	}()

	sess.ws.SetReadLimit(globals.maxMessageSize)
	sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	sess.ws.SetPongHandler(func(string) error {
		sess.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := sess.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logs.Error.Println("ws: readLoop", sess.sid, err)
			}
			return
		}
		statsInc("IncomingMessagesWebsockTotal", 1)
		sess.dispatchRaw(raw)
	}
}

func (sess *Session) sendMessage(msg interface{}) bool {
	var err error
	switch v := msg.(type) {
	case []byte:
		err = wsWrite(sess.ws, websocket.TextMessage, v)
	default:
		var data []byte
		if data, err = json.Marshal(v); err == nil {
			err = wsWrite(sess.ws, websocket.TextMessage, data)
		}
	}
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
			logs.Error.Println("ws: writeLoop", sess.sid, err)
		}
		return false
	}
	statsInc("OutgoingMessagesWebsockTotal", 1)
	return true
}

func (sess *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		// Break readLoop.
		sess.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-sess.send:
			if !ok {
				return
			}
			if !sess.sendMessage(msg) {
				return
			}

		case msg := <-sess.stop:
			// Shutdown requested. Don't care if the message is delivered.
			if msg != nil {
				if data, ok := msg.([]byte); ok {
					wsWrite(sess.ws, websocket.CloseMessage, data)
				}
			}
			return

		case <-ticker.C:
			if err := wsWrite(sess.ws, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func wsWrite(ws *websocket.Conn, mt int, msg []byte) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(mt, msg)
}
