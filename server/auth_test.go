package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banter-chat/banter/server/guardian"
	"github.com/banter-chat/banter/server/store"
	"github.com/banter-chat/banter/server/store/types"
)

type fakeUsers struct {
	store.UsersObjMapperInterface
	byId   map[types.Uid]*types.User
	byName map[string]*types.User
}

func (f *fakeUsers) Get(user types.Uid) (*types.User, error) {
	return f.byId[user], nil
}

func (f *fakeUsers) GetByName(username string) (*types.User, error) {
	return f.byName[username], nil
}

func TestWithAuth(t *testing.T) {
	salt := []byte("test-salt-test-salt-test-salt-00")
	withSalt(t, salt)
	apikey := forgeAPIKey(salt, false)

	alice := &types.User{Username: "alice"}
	alice.SetUid(2)
	oldUsers := store.Users
	store.Users = &fakeUsers{
		byId:   map[types.Uid]*types.User{2: alice},
		byName: map[string]*types.User{"alice": alice},
	}
	t.Cleanup(func() { store.Users = oldUsers })

	var gotGdn *guardian.Guardian
	handler := withAuth(func(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian) {
		gotGdn = gdn
		wrt.WriteHeader(http.StatusOK)
	})

	run := func(apikey, username string) *httptest.ResponseRecorder {
		gotGdn = nil
		req := httptest.NewRequest("GET", "/chat/v1/topics", nil)
		if apikey != "" {
			req.Header.Set("X-Banter-APIKey", apikey)
		}
		if username != "" {
			req.Header.Set("X-Banter-User", username)
		}
		rec := httptest.NewRecorder()
		handler(rec, req)
		return rec
	}

	// Missing or invalid API key.
	if rec := run("", "alice"); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key: expected 401, got %d", rec.Code)
	}
	if rec := run("bogus", "alice"); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad key: expected 401, got %d", rec.Code)
	}

	// No username is an anonymous caller.
	if rec := run(apikey, ""); rec.Code != http.StatusOK {
		t.Fatalf("anonymous: expected 200, got %d", rec.Code)
	}
	if gotGdn == nil || gotGdn.Authenticated() {
		t.Error("expected an anonymous guardian")
	}

	// A known username resolves to its principal.
	if rec := run(apikey, "alice"); rec.Code != http.StatusOK {
		t.Fatalf("known user: expected 200, got %d", rec.Code)
	}
	if gotGdn == nil || !gotGdn.Authenticated() || gotGdn.Uid() != types.Uid(2) {
		t.Error("expected alice's guardian")
	}

	// So does the uid text form.
	if rec := run(apikey, types.Uid(2).String()); rec.Code != http.StatusOK {
		t.Fatalf("known uid: expected 200, got %d", rec.Code)
	}
	if gotGdn == nil || !gotGdn.Authenticated() || gotGdn.Uid() != types.Uid(2) {
		t.Error("expected alice's guardian from uid reference")
	}

	// A username the directory does not know is rejected.
	rec := run(apikey, "mallory")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user: expected 401, got %d", rec.Code)
	}
	var body MsgError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("bad error body: %v", err)
	}
	if len(body.Errors) != 1 || body.Errors[0] != "unknown user" {
		t.Errorf("unexpected error body %+v", body)
	}
}
