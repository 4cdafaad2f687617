/******************************************************************************
 *
 *  Description :
 *    HTTP handlers for post creation, editing and removal.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/banter-chat/banter/server/guardian"
	"github.com/banter-chat/banter/server/store/types"
)

func hdlPostCreate(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian) {
	topic, err := topicFromRequest(req, gdn)
	if err != nil {
		writeError(wrt, err)
		return
	}

	var msg MsgPostReq
	if err = json.NewDecoder(req.Body).Decode(&msg); err != nil {
		writeError(wrt, types.ErrMalformed)
		return
	}

	post, err := globals.chatSvc.CreatePost(gdn, topic, msg.Raw)
	if err != nil {
		writeError(wrt, err)
		return
	}
	statsInc("PostsCreatedTotal", 1)
	writeJSON(wrt, http.StatusCreated, postView(post))
}

func hdlPostUpdate(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian) {
	topic, err := topicFromRequest(req, gdn)
	if err != nil {
		writeError(wrt, err)
		return
	}

	var msg MsgPostReq
	if err = json.NewDecoder(req.Body).Decode(&msg); err != nil {
		writeError(wrt, types.ErrMalformed)
		return
	}

	post, err := globals.chatSvc.UpdatePost(gdn, topic, types.ParseUid(mux.Vars(req)["post"]), msg.Raw)
	if err != nil {
		writeError(wrt, err)
		return
	}
	writeJSON(wrt, http.StatusOK, postView(post))
}

func hdlPostDestroy(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian) {
	topic, err := topicFromRequest(req, gdn)
	if err != nil {
		writeError(wrt, err)
		return
	}

	if err = globals.chatSvc.DestroyPost(gdn, topic, types.ParseUid(mux.Vars(req)["post"])); err != nil {
		writeError(wrt, err)
		return
	}
	writeJSON(wrt, http.StatusOK, map[string]bool{"success": true})
}
