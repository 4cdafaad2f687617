/******************************************************************************
 *
 *  Description :
 *    Handler of websocket connections.
 *
 *****************************************************************************/

package main

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/banter-chat/banter/server/guardian"
	"github.com/banter-chat/banter/server/logs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The host forum serves the page; cross-origin handling happens at the
	// CORS layer, the upgrade itself accepts any origin.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWebSocket upgrades the connection and attaches a session to it.
func serveWebSocket(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian) {
	if req.Method != http.MethodGet {
		wrt.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ws, err := upgrader.Upgrade(wrt, req, nil)
	if err != nil {
		logs.Error.Println("ws: failed to upgrade", err)
		return
	}

	sess := globals.sessionStore.NewSession(ws, gdn)
	logs.Info.Println("ws: session started", sess.sid, req.RemoteAddr)

	// Do work in goroutines to return from serveWebSocket() to release file pointers.
	// Otherwise "too many open files" will happen.
	go sess.readLoop()
	go sess.writeLoop()
}
