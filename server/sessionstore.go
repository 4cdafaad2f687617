/******************************************************************************
 *
 *  Description :
 *    Session management.
 *
 *****************************************************************************/

package main

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/banter-chat/banter/server/guardian"
	"github.com/banter-chat/banter/server/logs"
	"github.com/banter-chat/banter/server/store"
)

// SessionStore holds live websocket sessions.
type SessionStore struct {
	lock sync.Mutex

	// All sessions indexed by session ID.
	sessCache map[string]*Session
}

// NewSessionStore initializes a session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessCache: make(map[string]*Session),
	}
}

// NewSession creates a new session and saves it to the session store.
func (ss *SessionStore) NewSession(conn *websocket.Conn, gdn *guardian.Guardian) *Session {
	sess := &Session{
		sid:  store.Store.GetUid().String(),
		ws:   conn,
		gdn:  gdn,
		send: make(chan interface{}, sendQueueLimit+32),
		stop: make(chan interface{}, 1),
		subs: make(map[string]subscription),
	}

	ss.lock.Lock()
	ss.sessCache[sess.sid] = sess
	count := len(ss.sessCache)
	ss.lock.Unlock()

	statsSet("LiveSessions", int64(count))
	statsInc("TotalSessions", 1)

	return sess
}

// Get fetches a session from the store by session ID.
func (ss *SessionStore) Get(sid string) *Session {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	return ss.sessCache[sid]
}

// Delete removes session from store.
func (ss *SessionStore) Delete(sess *Session) {
	ss.lock.Lock()
	delete(ss.sessCache, sess.sid)
	count := len(ss.sessCache)
	ss.lock.Unlock()

	statsSet("LiveSessions", int64(count))
}

// Shutdown terminates all sessions. Called on server termination.
func (ss *SessionStore) Shutdown() {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	for _, sess := range ss.sessCache {
		sess.detachAll()
		select {
		case sess.stop <- websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"):
		default:
		}
	}

	logs.Info.Printf("sessions: shut down %d session(s)", len(ss.sessCache))
}
