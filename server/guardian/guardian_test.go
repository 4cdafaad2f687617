package guardian

import (
	"errors"
	"io"
	"testing"

	"github.com/banter-chat/banter/server/logs"
	"github.com/banter-chat/banter/server/store"
	"github.com/banter-chat/banter/server/store/types"
)

func init() {
	logs.Init(io.Discard)
}

type fakeUsers struct {
	store.UsersObjMapperInterface

	memberOf []types.Uid
	err      error
}

func (f *fakeUsers) BelongsToAny(user types.Uid, groups []types.Uid) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, g := range groups {
		for _, m := range f.memberOf {
			if g == m {
				return true, nil
			}
		}
	}
	return false, nil
}

type fakeCategories struct {
	store.CategoriesObjMapperInterface

	readable []types.Uid
	err      error
}

func (f *fakeCategories) UserCanRead(user, category types.Uid) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, c := range f.readable {
		if c == category {
			return true, nil
		}
	}
	return false, nil
}

func swapStore(t *testing.T, users *fakeUsers, cats *fakeCategories) {
	t.Helper()
	oldUsers, oldCats := store.Users, store.Categories
	store.Users = users
	store.Categories = cats
	t.Cleanup(func() {
		store.Users = oldUsers
		store.Categories = oldCats
	})
}

func makeUser(id types.Uid, admin bool) *types.User {
	user := &types.User{Username: "u" + id.String(), Admin: admin}
	user.SetUid(id)
	return user
}

func TestCanViewPublic(t *testing.T) {
	topic := &types.Topic{Kind: types.TopicKindPublic}

	if !New(nil).CanView(topic) {
		t.Error("anonymous should see public topics")
	}
	if !New(makeUser(1, false)).CanView(topic) {
		t.Error("user should see public topics")
	}
}

func TestCanViewAnonymous(t *testing.T) {
	gdn := New(nil)
	for _, kind := range []types.TopicKind{types.TopicKindGroup, types.TopicKindCategory, types.TopicKindDirect} {
		if gdn.CanView(&types.Topic{Kind: kind}) {
			t.Errorf("anonymous should not see %s topics", kind)
		}
	}
	if gdn.CanView(nil) {
		t.Error("nil topic should not be visible")
	}
}

func TestCanViewGroup(t *testing.T) {
	swapStore(t, &fakeUsers{memberOf: []types.Uid{5}}, &fakeCategories{})

	topic := &types.Topic{Kind: types.TopicKindGroup, AllowedGroups: []types.Uid{5, 6}}
	if !New(makeUser(1, false)).CanView(topic) {
		t.Error("group member should see the topic")
	}

	other := &types.Topic{Kind: types.TopicKindGroup, AllowedGroups: []types.Uid{7}}
	if New(makeUser(1, false)).CanView(other) {
		t.Error("non-member should not see the topic")
	}

	// Admins bypass membership.
	if !New(makeUser(2, true)).CanView(other) {
		t.Error("admin should see any topic")
	}
}

func TestCanViewGroupLookupFailure(t *testing.T) {
	swapStore(t, &fakeUsers{err: errors.New("db down")}, &fakeCategories{})

	topic := &types.Topic{Kind: types.TopicKindGroup, AllowedGroups: []types.Uid{5}}
	if New(makeUser(1, false)).CanView(topic) {
		t.Error("lookup failure must deny, not grant")
	}
}

func TestCanViewCategory(t *testing.T) {
	swapStore(t, &fakeUsers{}, &fakeCategories{readable: []types.Uid{30}})

	visible := &types.Topic{Kind: types.TopicKindCategory, CategoryId: 30}
	hidden := &types.Topic{Kind: types.TopicKindCategory, CategoryId: 31}

	gdn := New(makeUser(1, false))
	if !gdn.CanView(visible) {
		t.Error("reader of the category should see the topic")
	}
	if gdn.CanView(hidden) {
		t.Error("non-reader should not see the topic")
	}
}

func TestCanViewDirect(t *testing.T) {
	topic := &types.Topic{Kind: types.TopicKindDirect, AllowedUsers: []types.Uid{1, 2}}

	if !New(makeUser(1, false)).CanView(topic) {
		t.Error("participant should see the direct topic")
	}
	if New(makeUser(3, false)).CanView(topic) {
		t.Error("outsider should not see the direct topic")
	}
}

func TestCanPostRequiresAuth(t *testing.T) {
	topic := &types.Topic{Kind: types.TopicKindPublic}

	if New(nil).CanPost(topic) {
		t.Error("anonymous can read public topics but must not post")
	}
	if !New(makeUser(1, false)).CanPost(topic) {
		t.Error("authenticated user should post to public topics")
	}
}

func TestCanModifyPost(t *testing.T) {
	post := &types.Post{From: 1}

	if !New(makeUser(1, false)).CanModifyPost(post) {
		t.Error("author should modify own post")
	}
	if New(makeUser(2, false)).CanModifyPost(post) {
		t.Error("other user should not modify the post")
	}
	if !New(makeUser(2, true)).CanModifyPost(post) {
		t.Error("admin should modify any post")
	}
	if New(nil).CanModifyPost(post) {
		t.Error("anonymous should not modify posts")
	}
	if New(makeUser(1, false)).CanModifyPost(nil) {
		t.Error("nil post should not be modifiable")
	}
}

func TestCanAdminister(t *testing.T) {
	if New(makeUser(1, false)).CanAdminister() {
		t.Error("regular user should not administer")
	}
	if !New(makeUser(1, true)).CanAdminister() {
		t.Error("admin should administer")
	}
	if New(nil).CanAdminister() {
		t.Error("anonymous should not administer")
	}
}
