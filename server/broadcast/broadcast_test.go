package broadcast

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/banter-chat/banter/server/logs"
	"github.com/banter-chat/banter/server/pubsub"
	"github.com/banter-chat/banter/server/store/types"
)

func init() {
	logs.Init(io.Discard)
}

type published struct {
	channel string
	payload []byte
}

// fakeTransport delivers publishes to a channel the test can wait on.
type fakeTransport struct {
	out chan published
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{out: make(chan published, 16)}
}

func (f *fakeTransport) Open(jsonconf json.RawMessage) error { return nil }
func (f *fakeTransport) Close() error                        { return nil }
func (f *fakeTransport) IsOpen() bool                        { return true }
func (f *fakeTransport) GetName() string                     { return "fake" }

func (f *fakeTransport) Publish(channel string, payload []byte) error {
	f.out <- published{channel: channel, payload: payload}
	return nil
}

func (f *fakeTransport) Subscribe(channel string, handler pubsub.Handler) (pubsub.Subscription, error) {
	return nil, types.ErrUnsupported
}

func waitFor(t *testing.T, tpt *fakeTransport) published {
	t.Helper()
	select {
	case p := <-tpt.out:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
		return published{}
	}
}

func decode(t *testing.T, payload []byte) *Event {
	t.Helper()
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		t.Fatalf("bad event payload: %v", err)
	}
	return &evt
}

func newTopic(id types.Uid, seq int) *types.Topic {
	topic := &types.Topic{Kind: types.TopicKindPublic, Title: "open", SeqId: seq}
	topic.SetUid(id)
	topic.InitTimes()
	return topic
}

func TestChannelKey(t *testing.T) {
	uid := types.Uid(12345)
	want := "chat.topic." + uid.String()
	if got := ChannelKey(uid); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestPublishToTopic(t *testing.T) {
	tpt := newFakeTransport()
	b := New(tpt)
	defer b.Stop()

	topic := newTopic(77, 4)
	b.PublishToTopic(topic, false)

	p := waitFor(t, tpt)
	if p.channel != ChannelKey(topic.Uid()) {
		t.Errorf("wrong channel %q", p.channel)
	}
	evt := decode(t, p.payload)
	if evt.Topic == nil || evt.Post != nil || evt.Pres != nil {
		t.Fatalf("expected a topic-only envelope, got %+v", evt)
	}
	if evt.Topic.Id != topic.Id || evt.Topic.SeqId != 4 || evt.Topic.Kind != "public" {
		t.Errorf("unexpected topic event %+v", evt.Topic)
	}
	if evt.Topic.Destroyed {
		t.Error("destroy flag set on a refresh event")
	}

	b.PublishToTopic(topic, true)
	evt = decode(t, waitFor(t, tpt).payload)
	if !evt.Topic.Destroyed {
		t.Error("destroy flag not set")
	}
}

func TestPublishToPosts(t *testing.T) {
	tpt := newFakeTransport()
	b := New(tpt)
	defer b.Stop()

	post := &types.Post{Topic: 77, SeqId: 5, From: 3, Raw: "hello"}
	post.SetUid(900)
	post.InitTimes()

	b.PublishToPosts(post)

	p := waitFor(t, tpt)
	if p.channel != ChannelKey(post.Topic) {
		t.Errorf("wrong channel %q", p.channel)
	}
	evt := decode(t, p.payload)
	if evt.Post == nil {
		t.Fatal("expected a post envelope")
	}
	if evt.Post.Raw != "hello" || evt.Post.SeqId != 5 || evt.Post.IsDelete {
		t.Errorf("unexpected post event %+v", evt.Post)
	}
}

func TestPublishPostDeletedWithholdsBody(t *testing.T) {
	tpt := newFakeTransport()
	b := New(tpt)
	defer b.Stop()

	post := &types.Post{Topic: 77, SeqId: 5, From: 3, Raw: "secret"}
	post.SetUid(900)
	post.InitTimes()

	b.PublishPostDeleted(post)

	evt := decode(t, waitFor(t, tpt).payload)
	if evt.Post == nil || !evt.Post.IsDelete {
		t.Fatalf("expected a delete event, got %+v", evt)
	}
	if evt.Post.Raw != "" {
		t.Errorf("deleted post leaked its body: %q", evt.Post.Raw)
	}
}

func TestPublishPresence(t *testing.T) {
	tpt := newFakeTransport()
	b := New(tpt)
	defer b.Stop()

	user := &types.User{Username: "alice"}
	user.SetUid(3)
	user.InitTimes()

	b.PublishToOnline(77, user)
	evt := decode(t, waitFor(t, tpt).payload)
	if evt.Pres == nil || evt.Pres.What != "online" || evt.Pres.Username != "alice" {
		t.Fatalf("unexpected presence event %+v", evt.Pres)
	}

	b.PublishToTyping(77, user)
	evt = decode(t, waitFor(t, tpt).payload)
	if evt.Pres == nil || evt.Pres.What != "typing" {
		t.Fatalf("unexpected presence event %+v", evt.Pres)
	}
}

func TestStopDiscardsQueue(t *testing.T) {
	tpt := newFakeTransport()
	b := New(tpt)
	b.Stop()

	// Publishing after Stop must not block or panic; the event is simply
	// queued and never dispatched.
	b.PublishToTopic(newTopic(77, 1), false)

	select {
	case <-tpt.out:
		t.Error("event dispatched after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}
