/******************************************************************************
 *
 *  Description :
 *    Wire representations of API requests and responses, and mapping of
 *    core errors to HTTP statuses.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/banter-chat/banter/server/chat"
	"github.com/banter-chat/banter/server/logs"
	"github.com/banter-chat/banter/server/store/types"
)

// MsgTopicReq is a topic create/update request.
type MsgTopicReq struct {
	Title string `json:"title"`
	// One of "group", "category", "public".
	PermissionKind  string      `json:"permission_kind,omitempty"`
	CategoryId      types.Uid   `json:"category_id,omitempty"`
	AllowedGroupIds []types.Uid `json:"allowed_group_ids,omitempty"`
}

func (m *MsgTopicReq) params() (chat.TopicParams, error) {
	params := chat.TopicParams{
		Title:         m.Title,
		CategoryId:    m.CategoryId,
		AllowedGroups: m.AllowedGroupIds,
	}
	if m.PermissionKind != "" {
		kind, ok := types.ParseTopicKind(m.PermissionKind)
		if !ok {
			return params, types.ValidationError{Field: "permission_kind", Msg: "unknown permission kind"}
		}
		params.Kind = kind
	}
	return params, nil
}

// MsgPostReq is a post create/update request.
type MsgPostReq struct {
	Raw string `json:"raw"`
}

// MsgTopicView is the topic representation returned to clients.
type MsgTopicView struct {
	Id             string      `json:"id"`
	Title          string      `json:"title"`
	PermissionKind string      `json:"permission_kind"`
	CategoryId     types.Uid   `json:"category_id,omitempty"`
	AllowedGroups  []types.Uid `json:"allowed_group_ids,omitempty"`
	AllowedUsers   []types.Uid `json:"allowed_user_ids,omitempty"`
	SeqId          int         `json:"post_number"`
	TouchedAt      time.Time   `json:"last_posted_at"`

	// Populated on single-topic reads only.
	Posts    []MsgPostView `json:"posts,omitempty"`
	LastRead *int          `json:"last_read_post_number,omitempty"`
}

func topicView(topic *types.Topic) MsgTopicView {
	return MsgTopicView{
		Id:             topic.Id,
		Title:          topic.Title,
		PermissionKind: string(topic.Kind),
		CategoryId:     topic.CategoryId,
		AllowedGroups:  topic.AllowedGroups,
		AllowedUsers:   topic.AllowedUsers,
		SeqId:          topic.SeqId,
		TouchedAt:      topic.TouchedAt,
	}
}

// MsgPostView is the post representation returned to clients.
type MsgPostView struct {
	Id          string    `json:"id"`
	TopicId     string    `json:"topic_id"`
	SeqId       int       `json:"post_number"`
	From        types.Uid `json:"user_id"`
	Raw         string    `json:"raw"`
	UserDeleted bool      `json:"user_deleted,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func postView(post *types.Post) MsgPostView {
	return MsgPostView{
		Id:          post.Id,
		TopicId:     post.Topic.String(),
		SeqId:       post.SeqId,
		From:        post.From,
		Raw:         post.Raw,
		UserDeleted: post.UserDeleted,
		CreatedAt:   post.CreatedAt,
		UpdatedAt:   post.UpdatedAt,
	}
}

func postViews(posts []types.Post) []MsgPostView {
	views := make([]MsgPostView, len(posts))
	for i := range posts {
		views[i] = postView(&posts[i])
	}
	return views
}

// MsgGroupView is the group representation returned to clients.
type MsgGroupView struct {
	Id   types.Uid `json:"id"`
	Name string    `json:"name"`
}

// MsgMarkerView is the read marker representation returned to clients.
type MsgMarkerView struct {
	TopicId   string    `json:"topic_id"`
	LastRead  int       `json:"last_read_post_number"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MsgError is the error envelope; the shape the host forum's clients
// already understand.
type MsgError struct {
	Errors []string `json:"errors"`
}

// errorStatus maps a core error to an HTTP status and client messages.
func errorStatus(err error) (int, []string) {
	switch e := err.(type) {
	case types.ValidationError:
		return http.StatusUnprocessableEntity, []string{e.Error()}
	case types.StoreError:
		switch e {
		case types.ErrPermissionDenied:
			return http.StatusForbidden, []string{"forbidden"}
		case types.ErrNotFound:
			return http.StatusNotFound, []string{"not found"}
		case types.ErrDuplicate:
			return http.StatusConflict, []string{"already exists"}
		case types.ErrEmptyContent:
			return http.StatusUnprocessableEntity, []string{"raw: must be present"}
		case types.ErrTopicMismatch:
			return http.StatusUnprocessableEntity, []string{"post does not belong to this topic"}
		case types.ErrMalformed:
			return http.StatusBadRequest, []string{"malformed request"}
		}
	}
	return http.StatusInternalServerError, []string{"internal error"}
}

func writeJSON(wrt http.ResponseWriter, code int, body interface{}) {
	wrt.Header().Set("Content-Type", "application/json; charset=utf-8")
	wrt.WriteHeader(code)
	json.NewEncoder(wrt).Encode(body)
}

func writeError(wrt http.ResponseWriter, err error) {
	code, msgs := errorStatus(err)
	if code == http.StatusInternalServerError {
		logs.Error.Println("api:", err)
	}
	writeJSON(wrt, code, &MsgError{Errors: msgs})
}
