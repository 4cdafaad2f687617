/******************************************************************************
 *
 *  Description :
 *    Fan-out of topic, post, presence and typing events to the pub/sub
 *    channel of the affected topic.
 *
 *****************************************************************************/

// Package broadcast pushes chat events to every live subscriber of a topic
// channel. Dispatch is asynchronous and best-effort: a publish never blocks
// or fails the mutation which triggered it.
package broadcast

import (
	"encoding/json"
	"time"

	"github.com/banter-chat/banter/server/logs"
	"github.com/banter-chat/banter/server/pubsub"
	"github.com/banter-chat/banter/server/store/types"
)

const (
	// Channel name prefix; the topic id is appended.
	channelPrefix = "chat.topic."

	// Queued events waiting for the transport before new ones are dropped.
	sendQueueLimit = 256
)

// ChannelKey returns the pub/sub channel name of a topic.
func ChannelKey(topic types.Uid) string {
	return channelPrefix + topic.String()
}

// Event is the wire envelope. Exactly one of the fields is set.
type Event struct {
	Topic *TopicEvent `json:"topic,omitempty"`
	Post  *PostEvent  `json:"post,omitempty"`
	Pres  *PresEvent  `json:"pres,omitempty"`
}

// TopicEvent tells subscribers to refresh their view of the topic.
type TopicEvent struct {
	Id        string    `json:"id"`
	Title     string    `json:"title"`
	Kind      string    `json:"kind"`
	SeqId     int       `json:"seq"`
	Destroyed bool      `json:"destroyed,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// PostEvent carries one created, edited or deleted post.
type PostEvent struct {
	Id    string `json:"id"`
	Topic string `json:"topic"`
	SeqId int    `json:"seq"`
	From  string `json:"from"`
	Raw   string `json:"raw,omitempty"`
	// Deleted posts are rendered as removals, not inserts.
	IsDelete  bool      `json:"is_delete,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// PresEvent is a fire-and-forget presence or typing signal. Nothing is
// persisted; a missed event is degraded UX, not an error.
type PresEvent struct {
	// What the user is doing: "online" or "typing".
	What     string    `json:"what"`
	User     string    `json:"user"`
	Username string    `json:"username,omitempty"`
	When     time.Time `json:"ts"`
}

type envelope struct {
	channel string
	payload []byte
}

// Broadcaster serializes events and hands them to the transport on a
// dedicated goroutine so the request path never waits for the broker.
type Broadcaster struct {
	tpt   pubsub.Transport
	queue chan envelope
	stop  chan chan bool
}

// New starts a broadcaster over the given transport.
func New(tpt pubsub.Transport) *Broadcaster {
	b := &Broadcaster{
		tpt:   tpt,
		queue: make(chan envelope, sendQueueLimit),
		stop:  make(chan chan bool, 1),
	}
	go b.run()
	return b
}

func (b *Broadcaster) run() {
	for {
		select {
		case env := <-b.queue:
			if err := b.tpt.Publish(env.channel, env.payload); err != nil {
				// Transport trouble never propagates to the mutation path.
				logs.Warning.Println("broadcast: publish failed:", err)
			}
		case done := <-b.stop:
			done <- true
			return
		}
	}
}

// Stop terminates the dispatch goroutine. Queued events are discarded.
func (b *Broadcaster) Stop() {
	done := make(chan bool)
	b.stop <- done
	<-done
}

func (b *Broadcaster) enqueue(channel string, evt *Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		logs.Error.Println("broadcast: marshal failed:", err)
		return
	}
	select {
	case b.queue <- envelope{channel: channel, payload: payload}:
	default:
		logs.Warning.Println("broadcast: queue full, dropping event for", channel)
	}
}

// PublishToTopic tells the topic's subscribers to refresh the topic summary.
func (b *Broadcaster) PublishToTopic(topic *types.Topic, destroyed bool) {
	b.enqueue(ChannelKey(topic.Uid()), &Event{Topic: &TopicEvent{
		Id:        topic.Id,
		Title:     topic.Title,
		Kind:      string(topic.Kind),
		SeqId:     topic.SeqId,
		Destroyed: destroyed,
		Timestamp: types.TimeNow(),
	}})
}

// PublishToPosts delivers a created or edited post to the topic's subscribers.
func (b *Broadcaster) PublishToPosts(post *types.Post) {
	b.publishPost(post, false)
}

// PublishPostDeleted delivers a post removal. The body is withheld so
// subscribers render a strike-through instead of content.
func (b *Broadcaster) PublishPostDeleted(post *types.Post) {
	b.publishPost(post, true)
}

func (b *Broadcaster) publishPost(post *types.Post, isDelete bool) {
	evt := &PostEvent{
		Id:        post.Id,
		Topic:     post.Topic.String(),
		SeqId:     post.SeqId,
		From:      post.From.String(),
		IsDelete:  isDelete,
		Timestamp: types.TimeNow(),
	}
	if !isDelete {
		evt.Raw = post.Raw
	}
	b.enqueue(ChannelKey(post.Topic), &Event{Post: evt})
}

// PublishToOnline announces the user's presence in the topic. Rapid repeat
// calls each produce a fresh broadcast; rate limiting is the caller's job.
func (b *Broadcaster) PublishToOnline(topic types.Uid, user *types.User) {
	b.publishPres(topic, user, "online")
}

// PublishToTyping announces that the user is composing a message.
func (b *Broadcaster) PublishToTyping(topic types.Uid, user *types.User) {
	b.publishPres(topic, user, "typing")
}

func (b *Broadcaster) publishPres(topic types.Uid, user *types.User, what string) {
	b.enqueue(ChannelKey(topic), &Event{Pres: &PresEvent{
		What:     what,
		User:     user.Id,
		Username: user.Username,
		When:     types.TimeNow(),
	}})
}
