/******************************************************************************
 *
 *  Description :
 *    HTTP handlers for the topic surface: listing, lifecycle, read
 *    tracking, presence and direct-message resolution.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/banter-chat/banter/server/chat"
	"github.com/banter-chat/banter/server/guardian"
	"github.com/banter-chat/banter/server/store"
	"github.com/banter-chat/banter/server/store/types"
)

// resolveUser loads a host user referenced either by uid in text form or
// by username.
func resolveUser(ref string) (*types.User, error) {
	if uid := types.ParseUid(ref); !uid.IsZero() {
		user, err := store.Users.Get(uid)
		if user != nil || err != nil {
			return user, err
		}
		// A username may happen to parse as a uid; fall through.
	}
	return store.Users.GetByName(ref)
}

// topicFromRequest resolves the {topic} path variable to a loaded, visible
// topic record.
func topicFromRequest(req *http.Request, gdn *guardian.Guardian) (*types.Topic, error) {
	uid := types.ParseUid(mux.Vars(req)["topic"])
	if uid.IsZero() {
		return nil, types.ErrNotFound
	}
	return globals.chatSvc.FetchTopic(gdn, uid)
}

func windowParamsFromRequest(req *http.Request) chat.WindowParams {
	q := req.URL.Query()
	from, _ := strconv.Atoi(q.Get("from"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return chat.WindowParams{
		From:      from,
		Ascending: q.Get("dir") == "asc",
		Limit:     limit,
	}
}

func hdlTopicsList(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian) {
	directOnly := req.URL.Query().Get("pm") == "true"
	topics, err := globals.chatSvc.AvailableTopics(gdn, directOnly)
	if err != nil {
		writeError(wrt, err)
		return
	}

	views := make([]MsgTopicView, len(topics))
	for i := range topics {
		views[i] = topicView(&topics[i])
	}
	writeJSON(wrt, http.StatusOK, views)
}

func hdlTopicCreate(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian) {
	var msg MsgTopicReq
	if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
		writeError(wrt, types.ErrMalformed)
		return
	}
	params, err := msg.params()
	if err != nil {
		writeError(wrt, err)
		return
	}

	topic, err := globals.chatSvc.SaveTopic(gdn, params, nil)
	if err != nil {
		writeError(wrt, err)
		return
	}
	statsInc("TopicsCreatedTotal", 1)
	writeJSON(wrt, http.StatusCreated, topicView(topic))
}

func hdlTopicShow(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian) {
	topic, err := topicFromRequest(req, gdn)
	if err != nil {
		writeError(wrt, err)
		return
	}
	writeTopicShow(wrt, req, gdn, topic)
}

// writeTopicShow renders the single-topic response: the topic summary, a
// window of its posts and the caller's read marker.
func writeTopicShow(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian, topic *types.Topic) {
	posts, err := globals.chatSvc.Window(gdn, topic, windowParamsFromRequest(req))
	if err != nil {
		writeError(wrt, err)
		return
	}

	view := topicView(topic)
	view.Posts = postViews(posts)
	if gdn.Authenticated() {
		if marker, err := store.TopicUsers.Get(topic.Uid(), gdn.Uid()); err == nil && marker != nil {
			view.LastRead = &marker.LastRead
		}
	}
	writeJSON(wrt, http.StatusOK, view)
}

func hdlTopicUpdate(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian) {
	uid := types.ParseUid(mux.Vars(req)["topic"])
	topic, err := store.Topics.Get(uid)
	if err != nil {
		writeError(wrt, err)
		return
	}
	if topic == nil {
		writeError(wrt, types.ErrNotFound)
		return
	}

	var msg MsgTopicReq
	if err = json.NewDecoder(req.Body).Decode(&msg); err != nil {
		writeError(wrt, types.ErrMalformed)
		return
	}
	params, err := msg.params()
	if err != nil {
		writeError(wrt, err)
		return
	}

	topic, err = globals.chatSvc.SaveTopic(gdn, params, topic)
	if err != nil {
		writeError(wrt, err)
		return
	}
	writeJSON(wrt, http.StatusOK, topicView(topic))
}

func hdlTopicDestroy(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian) {
	uid := types.ParseUid(mux.Vars(req)["topic"])
	topic, err := store.Topics.Get(uid)
	if err != nil {
		writeError(wrt, err)
		return
	}
	if topic == nil {
		writeError(wrt, types.ErrNotFound)
		return
	}

	if err = globals.chatSvc.DestroyTopic(gdn, topic); err != nil {
		writeError(wrt, err)
		return
	}
	statsInc("TopicsDestroyedTotal", 1)
	writeJSON(wrt, http.StatusOK, topicView(topic))
}

func hdlTopicGroups(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian) {
	topic, err := topicFromRequest(req, gdn)
	if err != nil {
		writeError(wrt, err)
		return
	}

	groups, err := globals.chatSvc.AllowedGroups(gdn, topic)
	if err != nil {
		writeError(wrt, err)
		return
	}

	views := make([]MsgGroupView, len(groups))
	for i, grp := range groups {
		views[i] = MsgGroupView{Id: grp.Id, Name: grp.Name}
	}
	writeJSON(wrt, http.StatusOK, views)
}

func hdlTopicRead(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian) {
	topic, err := topicFromRequest(req, gdn)
	if err != nil {
		writeError(wrt, err)
		return
	}

	seq, err := strconv.Atoi(mux.Vars(req)["seq"])
	if err != nil {
		writeError(wrt, types.ErrMalformed)
		return
	}

	marker, err := globals.chatSvc.MarkRead(gdn, topic, seq)
	if err != nil {
		writeError(wrt, err)
		return
	}
	writeJSON(wrt, http.StatusOK, MsgMarkerView{
		TopicId:   topic.Id,
		LastRead:  marker.LastRead,
		UpdatedAt: marker.UpdatedAt,
	})
}

func hdlTopicOnline(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian) {
	topic, err := topicFromRequest(req, gdn)
	if err != nil {
		writeError(wrt, err)
		return
	}

	if err = globals.chatSvc.PublishOnline(gdn, topic); err != nil {
		writeError(wrt, err)
		return
	}
	writeJSON(wrt, http.StatusOK, map[string]bool{"success": true})
}

func hdlTopicTyping(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian) {
	topic, err := topicFromRequest(req, gdn)
	if err != nil {
		writeError(wrt, err)
		return
	}

	if err = globals.chatSvc.PublishTyping(gdn, topic); err != nil {
		writeError(wrt, err)
		return
	}
	writeJSON(wrt, http.StatusOK, map[string]bool{"success": true})
}

func hdlDirectTopic(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian) {
	other, err := resolveUser(mux.Vars(req)["user"])
	if err != nil {
		writeError(wrt, err)
		return
	}
	if other == nil {
		writeError(wrt, types.ErrNotFound)
		return
	}

	topic, err := globals.chatSvc.DirectTopic(gdn, other)
	if err != nil {
		writeError(wrt, err)
		return
	}
	writeTopicShow(wrt, req, gdn, topic)
}
