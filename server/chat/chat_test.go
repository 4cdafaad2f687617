package chat

import (
	"io"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banter-chat/banter/server/guardian"
	"github.com/banter-chat/banter/server/logs"
	"github.com/banter-chat/banter/server/store"
	"github.com/banter-chat/banter/server/store/types"
)

func init() {
	logs.Init(io.Discard)
}

const (
	systemUid    = types.Uid(999)
	trustLevel0  = types.Uid(50)
	testPageSize = 10
)

// memStore is an in-memory stand-in for the content store, shared by the
// mapper fakes below.
type memStore struct {
	nextId uint64

	topics   map[types.Uid]*types.Topic
	posts    map[types.Uid]*types.Post
	markers  map[[2]types.Uid]*types.TopicUser
	notes    []*types.Notification
	users    map[types.Uid]*types.User
	groups   map[types.Uid]types.Group
	groupsOf map[types.Uid][]types.Uid
	readable map[types.Uid][]types.Uid
	cats     map[types.Uid]*types.Category

	postCountDeltas map[types.Uid]int
}

func newMemStore() *memStore {
	return &memStore{
		nextId:          1000,
		topics:          make(map[types.Uid]*types.Topic),
		posts:           make(map[types.Uid]*types.Post),
		markers:         make(map[[2]types.Uid]*types.TopicUser),
		users:           make(map[types.Uid]*types.User),
		groups:          make(map[types.Uid]types.Group),
		groupsOf:        make(map[types.Uid][]types.Uid),
		readable:        make(map[types.Uid][]types.Uid),
		cats:            make(map[types.Uid]*types.Category),
		postCountDeltas: make(map[types.Uid]int),
	}
}

func (ms *memStore) newUid() types.Uid {
	ms.nextId++
	return types.Uid(ms.nextId)
}

func (ms *memStore) addUser(id types.Uid, admin bool) *types.User {
	user := &types.User{Username: "user" + id.String(), Admin: admin}
	user.SetUid(id)
	user.InitTimes()
	ms.users[id] = user
	return user
}

func uidIn(uid types.Uid, list []types.Uid) bool {
	for _, u := range list {
		if u == uid {
			return true
		}
	}
	return false
}

type fakeTopics struct{ ms *memStore }

func (f *fakeTopics) Create(topic *types.Topic) (*types.Topic, error) {
	for _, other := range f.ms.topics {
		if other.IsDeleted() {
			continue
		}
		if !topic.CategoryId.IsZero() && other.CategoryId == topic.CategoryId {
			return nil, types.ErrDuplicate
		}
		if topic.DirectKey != "" && other.DirectKey == topic.DirectKey {
			return nil, types.ErrDuplicate
		}
	}
	topic.SetUid(f.ms.newUid())
	topic.InitTimes()
	if topic.TouchedAt.IsZero() {
		topic.TouchedAt = topic.CreatedAt
	}
	clone := *topic
	f.ms.topics[topic.Uid()] = &clone
	return topic, nil
}

func (f *fakeTopics) Get(topic types.Uid) (*types.Topic, error) {
	tt, ok := f.ms.topics[topic]
	if !ok || tt.IsDeleted() {
		return nil, nil
	}
	clone := *tt
	return &clone, nil
}

func (f *fakeTopics) GetByDirectKey(key string) (*types.Topic, error) {
	for _, tt := range f.ms.topics {
		if tt.DirectKey == key && !tt.IsDeleted() {
			clone := *tt
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeTopics) Update(topic *types.Topic) error {
	stored, ok := f.ms.topics[topic.Uid()]
	if !ok || stored.IsDeleted() {
		return types.ErrNotFound
	}
	for _, other := range f.ms.topics {
		if other.Uid() == topic.Uid() || other.IsDeleted() {
			continue
		}
		if !topic.CategoryId.IsZero() && other.CategoryId == topic.CategoryId {
			return types.ErrDuplicate
		}
	}
	clone := *topic
	f.ms.topics[topic.Uid()] = &clone
	return nil
}

func (f *fakeTopics) Delete(topic types.Uid) error {
	stored, ok := f.ms.topics[topic]
	if !ok || stored.IsDeleted() {
		return types.ErrNotFound
	}
	now := types.TimeNow()
	stored.DeletedAt = &now
	for _, cat := range f.ms.cats {
		if cat.ChatTopicId == topic {
			cat.ChatTopicId = types.ZeroUid
		}
	}
	return nil
}

func (f *fakeTopics) ForUser(user types.Uid, groups, categories []types.Uid, directOnly bool) ([]types.Topic, error) {
	var out []types.Topic
	for _, tt := range f.ms.topics {
		if tt.IsDeleted() {
			continue
		}
		include := false
		switch tt.Kind {
		case types.TopicKindDirect:
			include = uidIn(user, tt.AllowedUsers)
		case types.TopicKindPublic:
			include = !directOnly
		case types.TopicKindGroup:
			if !directOnly {
				for _, g := range tt.AllowedGroups {
					if uidIn(g, groups) {
						include = true
						break
					}
				}
			}
		case types.TopicKindCategory:
			include = !directOnly && uidIn(tt.CategoryId, categories)
		}
		if include {
			out = append(out, *tt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TouchedAt.After(out[j].TouchedAt)
	})
	return out, nil
}

type fakePosts struct{ ms *memStore }

func (f *fakePosts) Create(post *types.Post) (*types.Post, error) {
	topic, ok := f.ms.topics[post.Topic]
	if !ok || topic.IsDeleted() {
		return nil, types.ErrNotFound
	}
	post.SetUid(f.ms.newUid())
	post.InitTimes()
	topic.SeqId++
	topic.TouchedAt = post.CreatedAt
	post.SeqId = topic.SeqId
	clone := *post
	f.ms.posts[post.Uid()] = &clone
	return post, nil
}

func (f *fakePosts) Get(post types.Uid) (*types.Post, error) {
	pp, ok := f.ms.posts[post]
	if !ok {
		return nil, nil
	}
	clone := *pp
	return &clone, nil
}

func (f *fakePosts) Update(post types.Uid, raw string) error {
	pp, ok := f.ms.posts[post]
	if !ok {
		return types.ErrNotFound
	}
	pp.Raw = raw
	pp.UpdatedAt = types.TimeNow()
	return nil
}

func (f *fakePosts) Delete(post types.Uid, hard bool) error {
	pp, ok := f.ms.posts[post]
	if !ok {
		return types.ErrNotFound
	}
	if hard {
		delete(f.ms.posts, post)
	} else {
		pp.UserDeleted = true
	}
	return nil
}

func (f *fakePosts) Window(topic types.Uid, opts *types.WindowOpt) ([]types.Post, error) {
	var out []types.Post
	for _, pp := range f.ms.posts {
		if pp.Topic != topic {
			continue
		}
		if opts.Ascending && pp.SeqId >= opts.From {
			out = append(out, *pp)
		} else if !opts.Ascending && pp.SeqId <= opts.From {
			out = append(out, *pp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if opts.Ascending {
			return out[i].SeqId < out[j].SeqId
		}
		return out[i].SeqId > out[j].SeqId
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

type fakeTopicUsers struct{ ms *memStore }

func (f *fakeTopicUsers) Get(topic, user types.Uid) (*types.TopicUser, error) {
	tu, ok := f.ms.markers[[2]types.Uid{topic, user}]
	if !ok {
		return nil, nil
	}
	clone := *tu
	return &clone, nil
}

func (f *fakeTopicUsers) EnsureExists(topic, user types.Uid) error {
	key := [2]types.Uid{topic, user}
	if _, ok := f.ms.markers[key]; !ok {
		now := types.TimeNow()
		f.ms.markers[key] = &types.TopicUser{
			Topic: topic, User: user, CreatedAt: now, UpdatedAt: now,
		}
	}
	return nil
}

func (f *fakeTopicUsers) SetLastRead(topic, user types.Uid, seq int) (bool, error) {
	tu, ok := f.ms.markers[[2]types.Uid{topic, user}]
	if !ok || tu.LastRead >= seq {
		return false, nil
	}
	tu.LastRead = seq
	tu.UpdatedAt = types.TimeNow()
	return true, nil
}

type fakeNotifications struct{ ms *memStore }

func (f *fakeNotifications) Create(n *types.Notification) error {
	n.Id = f.ms.newUid()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = types.TimeNow()
	}
	clone := *n
	f.ms.notes = append(f.ms.notes, &clone)
	return nil
}

func (f *fakeNotifications) MarkRead(topic, user types.Uid, seq int) (int, error) {
	count := 0
	for _, n := range f.ms.notes {
		if n.Topic == topic && n.User == user && !n.Read && n.SeqId <= seq {
			n.Read = true
			count++
		}
	}
	return count, nil
}

type fakeUsers struct{ ms *memStore }

func (f *fakeUsers) Get(user types.Uid) (*types.User, error) {
	u, ok := f.ms.users[user]
	if !ok {
		return nil, nil
	}
	return u, nil
}

func (f *fakeUsers) GetByName(username string) (*types.User, error) {
	for _, u := range f.ms.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) Groups(user types.Uid) ([]types.Uid, error) {
	return f.ms.groupsOf[user], nil
}

func (f *fakeUsers) ReadableCategories(user types.Uid) ([]types.Uid, error) {
	return f.ms.readable[user], nil
}

func (f *fakeUsers) BelongsToAny(user types.Uid, groups []types.Uid) (bool, error) {
	for _, g := range f.ms.groupsOf[user] {
		if uidIn(g, groups) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUsers) PostCountAdjust(user types.Uid, delta int) error {
	f.ms.postCountDeltas[user] += delta
	return nil
}

type fakeGroups struct{ ms *memStore }

func (f *fakeGroups) Get(ids []types.Uid) ([]types.Group, error) {
	var out []types.Group
	for _, id := range ids {
		if grp, ok := f.ms.groups[id]; ok {
			out = append(out, grp)
		}
	}
	return out, nil
}

type fakeCategories struct{ ms *memStore }

func (f *fakeCategories) Get(category types.Uid) (*types.Category, error) {
	cat, ok := f.ms.cats[category]
	if !ok {
		return nil, nil
	}
	return cat, nil
}

func (f *fakeCategories) UserCanRead(user, category types.Uid) (bool, error) {
	return uidIn(category, f.ms.readable[user]), nil
}

func (f *fakeCategories) SetChatTopic(category, topic types.Uid) error {
	cat, ok := f.ms.cats[category]
	if !ok {
		return types.ErrNotFound
	}
	cat.ChatTopicId = topic
	return nil
}

// pubRecorder records broadcast calls instead of publishing them.
type pubRecorder struct {
	topicEvents []recordedTopicEvent
	postEvents  []recordedPostEvent
	presEvents  []recordedPresEvent
}

type recordedTopicEvent struct {
	topic     types.Uid
	destroyed bool
}

type recordedPostEvent struct {
	post     types.Uid
	isDelete bool
}

type recordedPresEvent struct {
	topic types.Uid
	what  string
}

func (p *pubRecorder) PublishToTopic(topic *types.Topic, destroyed bool) {
	p.topicEvents = append(p.topicEvents, recordedTopicEvent{topic.Uid(), destroyed})
}

func (p *pubRecorder) PublishToPosts(post *types.Post) {
	p.postEvents = append(p.postEvents, recordedPostEvent{post.Uid(), false})
}

func (p *pubRecorder) PublishPostDeleted(post *types.Post) {
	p.postEvents = append(p.postEvents, recordedPostEvent{post.Uid(), true})
}

func (p *pubRecorder) PublishToOnline(topic types.Uid, user *types.User) {
	p.presEvents = append(p.presEvents, recordedPresEvent{topic, "online"})
}

func (p *pubRecorder) PublishToTyping(topic types.Uid, user *types.User) {
	p.presEvents = append(p.presEvents, recordedPresEvent{topic, "typing"})
}

type fixture struct {
	ms  *memStore
	pub *pubRecorder
	svc *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ms := newMemStore()

	oldTopics, oldPosts := store.Topics, store.Posts
	oldTopicUsers, oldNotes := store.TopicUsers, store.Notifications
	oldUsers, oldGroups, oldCats := store.Users, store.Groups, store.Categories
	store.Topics = &fakeTopics{ms}
	store.Posts = &fakePosts{ms}
	store.TopicUsers = &fakeTopicUsers{ms}
	store.Notifications = &fakeNotifications{ms}
	store.Users = &fakeUsers{ms}
	store.Groups = &fakeGroups{ms}
	store.Categories = &fakeCategories{ms}
	t.Cleanup(func() {
		store.Topics, store.Posts = oldTopics, oldPosts
		store.TopicUsers, store.Notifications = oldTopicUsers, oldNotes
		store.Users, store.Groups, store.Categories = oldUsers, oldGroups, oldCats
	})

	pub := &pubRecorder{}
	svc := NewService(Config{
		PageSize:       testPageSize,
		MinTitleLength: 1,
		SystemUser:     systemUid,
		DefaultGroup:   trustLevel0,
	}, pub)

	return &fixture{ms: ms, pub: pub, svc: svc}
}

func (f *fixture) admin() *guardian.Guardian {
	return guardian.New(f.ms.addUser(1, true))
}

func (f *fixture) user(id types.Uid) *guardian.Guardian {
	return guardian.New(f.ms.addUser(id, false))
}

// Topic lifecycle.

func TestSaveTopicRequiresAdmin(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SaveTopic(f.user(2), TopicParams{Title: "general"}, nil)
	if err != types.ErrPermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	_, err = f.svc.SaveTopic(guardian.New(nil), TopicParams{Title: "general"}, nil)
	if err != types.ErrPermissionDenied {
		t.Fatalf("expected permission denied for anonymous, got %v", err)
	}
}

func TestSaveTopicGroupDefaults(t *testing.T) {
	f := newFixture(t)

	topic, err := f.svc.SaveTopic(f.admin(), TopicParams{Title: "general"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if topic.Kind != types.TopicKindGroup {
		t.Errorf("expected group kind, got %s", topic.Kind)
	}
	// Empty group list falls back to the trust-level-0 group.
	if diff := cmp.Diff([]types.Uid{trustLevel0}, topic.AllowedGroups); diff != "" {
		t.Errorf("allowed groups mismatch (-want +got):\n%s", diff)
	}
	if topic.CreatedBy != systemUid {
		t.Errorf("expected system creator, got %d", topic.CreatedBy)
	}
}

func TestSaveTopicGroupRejectsCategoryParams(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SaveTopic(f.admin(), TopicParams{
		Title:      "general",
		Kind:       types.TopicKindGroup,
		CategoryId: 30,
	}, nil)
	if _, ok := err.(types.ValidationError); !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSaveTopicCategory(t *testing.T) {
	f := newFixture(t)
	f.ms.cats[30] = &types.Category{Id: 30, Name: "Science"}

	topic, err := f.svc.SaveTopic(f.admin(), TopicParams{
		Kind:       types.TopicKindCategory,
		CategoryId: 30,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Title defaults to the category name.
	if topic.Title != "Science" {
		t.Errorf("expected title from category, got %q", topic.Title)
	}
	if f.ms.cats[30].ChatTopicId != topic.Uid() {
		t.Error("category back-reference not set")
	}
}

func TestSaveTopicCategoryConflict(t *testing.T) {
	f := newFixture(t)
	f.ms.cats[30] = &types.Category{Id: 30, Name: "Science"}

	first, err := f.svc.SaveTopic(f.admin(), TopicParams{
		Kind: types.TopicKindCategory, CategoryId: 30,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = f.svc.SaveTopic(f.admin(), TopicParams{
		Kind: types.TopicKindCategory, CategoryId: 30, Title: "Another",
	}, nil)
	if err != types.ErrDuplicate {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	// Updating the holder itself is not a conflict.
	if _, err = f.svc.SaveTopic(f.admin(), TopicParams{
		Kind: types.TopicKindCategory, CategoryId: 30, Title: "Renamed",
	}, first); err != nil {
		t.Fatalf("self-update should not conflict: %v", err)
	}
}

func TestSaveTopicCategoryRequiresCategory(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SaveTopic(f.admin(), TopicParams{Kind: types.TopicKindCategory}, nil)
	if _, ok := err.(types.ValidationError); !ok {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = f.svc.SaveTopic(f.admin(), TopicParams{
		Kind: types.TopicKindCategory, CategoryId: 77,
	}, nil)
	if _, ok := err.(types.ValidationError); !ok {
		t.Fatalf("expected validation error for unknown category, got %v", err)
	}
}

func TestSaveTopicTitleValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SaveTopic(f.admin(), TopicParams{Kind: types.TopicKindPublic}, nil)
	if _, ok := err.(types.ValidationError); !ok {
		t.Fatalf("expected validation error for empty title, got %v", err)
	}

	_, err = f.svc.SaveTopic(f.admin(), TopicParams{Kind: types.TopicKindPublic, Title: "   "}, nil)
	if _, ok := err.(types.ValidationError); !ok {
		t.Fatalf("expected validation error for blank title, got %v", err)
	}
}

func TestSaveTopicKindChangeClearsCategory(t *testing.T) {
	f := newFixture(t)
	f.ms.cats[30] = &types.Category{Id: 30, Name: "Science"}

	topic, err := f.svc.SaveTopic(f.admin(), TopicParams{
		Kind: types.TopicKindCategory, CategoryId: 30,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	topic, err = f.svc.SaveTopic(f.admin(), TopicParams{
		Kind: types.TopicKindPublic, Title: "open floor",
	}, topic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !topic.CategoryId.IsZero() {
		t.Error("category id should be cleared")
	}
	if !f.ms.cats[30].ChatTopicId.IsZero() {
		t.Error("category back-reference should be cleared")
	}
}

func TestSaveTopicBroadcasts(t *testing.T) {
	f := newFixture(t)

	topic, err := f.svc.SaveTopic(f.admin(), TopicParams{Title: "general"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []recordedTopicEvent{{topic.Uid(), false}}
	if diff := cmp.Diff(want, f.pub.topicEvents, cmp.AllowUnexported(recordedTopicEvent{})); diff != "" {
		t.Errorf("topic events mismatch (-want +got):\n%s", diff)
	}
}

func TestDestroyTopic(t *testing.T) {
	f := newFixture(t)
	f.ms.cats[30] = &types.Category{Id: 30, Name: "Science"}
	admin := f.admin()

	topic, err := f.svc.SaveTopic(admin, TopicParams{
		Kind: types.TopicKindCategory, CategoryId: 30,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Destruction works with posts present and reverts the back-reference.
	if _, err = f.svc.CreatePost(admin, topic, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err = f.svc.DestroyTopic(admin, topic); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.ms.cats[30].ChatTopicId.IsZero() {
		t.Error("category back-reference should be cleared on destroy")
	}
	if got, _ := store.Topics.Get(topic.Uid()); got != nil {
		t.Error("destroyed topic should not load")
	}

	last := f.pub.topicEvents[len(f.pub.topicEvents)-1]
	if !last.destroyed {
		t.Error("destroy event not flagged")
	}
}

func TestDestroyTopicRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	admin := f.admin()

	topic, err := f.svc.SaveTopic(admin, TopicParams{Title: "general"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err = f.svc.DestroyTopic(f.user(2), topic); err != types.ErrPermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if got, _ := store.Topics.Get(topic.Uid()); got == nil {
		t.Error("topic removed by a denied destroy")
	}
}

func TestDirectTopicIdempotent(t *testing.T) {
	f := newFixture(t)
	alice := f.user(2)
	bob := f.ms.addUser(3, false)

	first, err := f.svc.DirectTopic(alice, bob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Kind != types.TopicKindDirect {
		t.Errorf("expected pm kind, got %s", first.Kind)
	}
	if diff := cmp.Diff([]types.Uid{2, 3}, first.AllowedUsers); diff != "" {
		t.Errorf("participants mismatch (-want +got):\n%s", diff)
	}

	// Same pair, either direction, resolves to the same topic.
	second, err := f.svc.DirectTopic(guardian.New(bob), f.ms.users[2])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Uid() != first.Uid() {
		t.Errorf("expected topic %s, got %s", first.Id, second.Id)
	}
}

func TestDirectTopicSelf(t *testing.T) {
	f := newFixture(t)
	alice := f.user(2)

	_, err := f.svc.DirectTopic(alice, f.ms.users[2])
	if _, ok := err.(types.ValidationError); !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDirectTopicRequiresAuth(t *testing.T) {
	f := newFixture(t)
	bob := f.ms.addUser(3, false)

	_, err := f.svc.DirectTopic(guardian.New(nil), bob)
	if err != types.ErrPermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestAvailableTopics(t *testing.T) {
	f := newFixture(t)
	admin := f.admin()
	f.ms.cats[30] = &types.Category{Id: 30, Name: "Science"}
	f.ms.groups[5] = types.Group{Id: 5, Name: "regulars"}

	public, err := f.svc.SaveTopic(admin, TopicParams{Kind: types.TopicKindPublic, Title: "open"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	grouped, err := f.svc.SaveTopic(admin, TopicParams{
		Kind: types.TopicKindGroup, Title: "members", AllowedGroups: []types.Uid{5},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	category, err := f.svc.SaveTopic(admin, TopicParams{
		Kind: types.TopicKindCategory, CategoryId: 30,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Anonymous sees only public topics.
	topics, err := f.svc.AvailableTopics(guardian.New(nil), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 1 || topics[0].Uid() != public.Uid() {
		t.Errorf("anonymous should see only the public topic, got %d topics", len(topics))
	}

	// A user with group and category grants sees all three.
	carol := f.user(4)
	f.ms.groupsOf[4] = []types.Uid{5}
	f.ms.readable[4] = []types.Uid{30}
	topics, err = f.svc.AvailableTopics(carol, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 3 {
		t.Fatalf("expected 3 topics, got %d", len(topics))
	}

	// Revoking the group grant hides the group topic immediately.
	f.ms.groupsOf[4] = nil
	topics, err = f.svc.AvailableTopics(carol, false)
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range topics {
		if tt.Uid() == grouped.Uid() {
			t.Error("revoked group topic still listed")
		}
	}
	_ = category
}

func TestAvailableTopicsDirectOnly(t *testing.T) {
	f := newFixture(t)
	admin := f.admin()
	alice := f.user(2)
	bob := f.ms.addUser(3, false)

	if _, err := f.svc.SaveTopic(admin, TopicParams{Kind: types.TopicKindPublic, Title: "open"}, nil); err != nil {
		t.Fatal(err)
	}
	pm, err := f.svc.DirectTopic(alice, bob)
	if err != nil {
		t.Fatal(err)
	}

	topics, err := f.svc.AvailableTopics(alice, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 1 || topics[0].Uid() != pm.Uid() {
		t.Fatalf("expected only the direct topic, got %d topics", len(topics))
	}

	// The counterpart's other conversations stay invisible.
	topics, err = f.svc.AvailableTopics(f.user(5), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 0 {
		t.Errorf("expected no topics for an outsider, got %d", len(topics))
	}
}

func TestFetchTopicRegistersMarker(t *testing.T) {
	f := newFixture(t)
	admin := f.admin()

	topic, err := f.svc.SaveTopic(admin, TopicParams{Kind: types.TopicKindPublic, Title: "open"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	alice := f.user(2)
	if _, err = f.svc.FetchTopic(alice, topic.Uid()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	marker, err := store.TopicUsers.Get(topic.Uid(), 2)
	if err != nil || marker == nil {
		t.Fatalf("marker row missing: %v", err)
	}
	if marker.LastRead != 0 {
		t.Errorf("fresh marker should be zero, got %d", marker.LastRead)
	}

	// Anonymous viewing does not create rows.
	if _, err = f.svc.FetchTopic(guardian.New(nil), topic.Uid()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetchTopicHidden(t *testing.T) {
	f := newFixture(t)
	admin := f.admin()

	topic, err := f.svc.SaveTopic(admin, TopicParams{
		Kind: types.TopicKindGroup, Title: "members", AllowedGroups: []types.Uid{5},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err = f.svc.FetchTopic(f.user(2), topic.Uid()); err != types.ErrPermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err = f.svc.FetchTopic(admin, types.Uid(424242)); err != types.ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAllowedGroups(t *testing.T) {
	f := newFixture(t)
	admin := f.admin()
	f.ms.groups[5] = types.Group{Id: 5, Name: "regulars"}

	topic, err := f.svc.SaveTopic(admin, TopicParams{
		Kind: types.TopicKindGroup, Title: "members", AllowedGroups: []types.Uid{5},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	groups, err := f.svc.AllowedGroups(admin, topic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "regulars" {
		t.Errorf("unexpected groups %+v", groups)
	}

	if _, err = f.svc.AllowedGroups(f.user(2), topic); err != types.ErrPermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestPresencePublish(t *testing.T) {
	f := newFixture(t)
	admin := f.admin()

	topic, err := f.svc.SaveTopic(admin, TopicParams{Kind: types.TopicKindPublic, Title: "open"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	alice := f.user(2)
	if err = f.svc.PublishOnline(alice, topic); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err = f.svc.PublishTyping(alice, topic); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []recordedPresEvent{{topic.Uid(), "online"}, {topic.Uid(), "typing"}}
	if diff := cmp.Diff(want, f.pub.presEvents, cmp.AllowUnexported(recordedPresEvent{})); diff != "" {
		t.Errorf("presence events mismatch (-want +got):\n%s", diff)
	}

	// Presence requires authentication even in public topics.
	if err = f.svc.PublishOnline(guardian.New(nil), topic); err != types.ErrPermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
}
