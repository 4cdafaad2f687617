package main

import (
	"errors"
	"net/http"
	"testing"

	"github.com/banter-chat/banter/server/store/types"
)

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{types.ValidationError{Field: "title", Msg: "required"}, http.StatusUnprocessableEntity},
		{types.ErrEmptyContent, http.StatusUnprocessableEntity},
		{types.ErrTopicMismatch, http.StatusUnprocessableEntity},
		{types.ErrPermissionDenied, http.StatusForbidden},
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrDuplicate, http.StatusConflict},
		{types.ErrMalformed, http.StatusBadRequest},
		{types.ErrInternal, http.StatusInternalServerError},
		{errors.New("pq: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		code, msgs := errorStatus(tc.err)
		if code != tc.code {
			t.Errorf("%v: expected status %d, got %d", tc.err, tc.code, code)
		}
		if len(msgs) == 0 {
			t.Errorf("%v: no client message", tc.err)
		}
	}
}

func TestErrorStatusHidesInternals(t *testing.T) {
	_, msgs := errorStatus(errors.New("pq: password authentication failed for user postgres"))
	for _, msg := range msgs {
		if msg != "internal error" {
			t.Errorf("internal detail leaked to the client: %q", msg)
		}
	}
}

func TestTopicReqParams(t *testing.T) {
	req := &MsgTopicReq{Title: "general", PermissionKind: "category", CategoryId: 30}
	params, err := req.params()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Kind != types.TopicKindCategory || params.CategoryId != types.Uid(30) {
		t.Errorf("unexpected params %+v", params)
	}

	// Absent kind is resolved downstream, not here.
	req.PermissionKind = ""
	if params, err = req.params(); err != nil || params.Kind != "" {
		t.Errorf("expected empty kind passthrough, got %+v, %v", params, err)
	}

	req.PermissionKind = "sneaky"
	if _, err = req.params(); err == nil {
		t.Error("unknown permission kind accepted")
	}
}

func TestPostViewUserDeleted(t *testing.T) {
	post := &types.Post{Topic: 77, SeqId: 3, From: 2, Raw: "gone", UserDeleted: true}
	post.SetUid(900)
	post.InitTimes()

	view := postView(post)
	if !view.UserDeleted {
		t.Error("user_deleted flag dropped")
	}
	if view.TopicId != types.Uid(77).String() {
		t.Errorf("unexpected topic id %q", view.TopicId)
	}
}
