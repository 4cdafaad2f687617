// Package adapter contains the interfaces to be implemented by the content
// store adapter.
package adapter

import (
	"encoding/json"

	t "github.com/banter-chat/banter/server/store/types"
)

// Adapter is the interface that must be implemented by a content store
// adapter. The current schema supports a single connection by database type.
//
// Chat-owned tables: topics, posts, topic_users (read markers) and
// notifications. User, group and category tables belong to the host forum
// and are read-only here, except for the category chat back-reference and
// the user post counter which the generic post paths maintain.
type Adapter interface {
	// General

	// Open and configure the adapter.
	Open(config json.RawMessage) error
	// Close the adapter.
	Close() error
	// IsOpen checks if the adapter is ready for use.
	IsOpen() bool
	// GetName returns the name of the adapter.
	GetName() string
	// SetMaxResults configures how many results can be returned in a single DB call.
	SetMaxResults(val int) error
	// CreateDb creates the chat tables, optionally dropping existing ones first.
	CreateDb(reset bool) error
	// Stats returns a DB connection stats object.
	Stats() interface{}

	// Topics

	// TopicCreate inserts a topic record. Uniqueness violations on the
	// category back-reference or the direct-message pair key are returned
	// as types.ErrDuplicate.
	TopicCreate(topic *t.Topic) error
	// TopicGet loads a single live topic by id. Returns (nil, nil) if the
	// topic does not exist or is deleted.
	TopicGet(topic t.Uid) (*t.Topic, error)
	// TopicGetByDirectKey loads a live direct-message topic by its
	// participant-pair key. Returns (nil, nil) when absent.
	TopicGetByDirectKey(key string) (*t.Topic, error)
	// TopicUpdate overwrites the mutable fields of a topic record.
	// Subject to the same uniqueness mapping as TopicCreate.
	TopicUpdate(topic *t.Topic) error
	// TopicDelete soft-deletes the topic record and clears any category
	// chat back-reference pointing at it, in one transaction.
	TopicDelete(topic t.Uid) error
	// TopicsForUser returns live topics visible given the caller's current
	// group membership and readable categories, ordered by last activity
	// descending. Direct topics are returned only for their participants;
	// when directOnly is set, nothing else is returned.
	TopicsForUser(user t.Uid, groups, categories []t.Uid, directOnly bool) ([]t.Topic, error)

	// Posts

	// PostCreate saves a post, assigning the next dense per-topic sequence
	// number and advancing the topic's SeqId and TouchedAt atomically.
	PostCreate(post *t.Post) error
	// PostGet loads a single post by id, (nil, nil) when absent.
	PostGet(post t.Uid) (*t.Post, error)
	// PostUpdate replaces the body of a post.
	PostUpdate(post t.Uid, raw string) error
	// PostDelete removes a post: hard deletes the row, soft marks it
	// user_deleted keeping the sequence dense.
	PostDelete(post t.Uid, hard bool) error
	// PostWindow returns a page of posts for the topic according to opts.
	PostWindow(topic t.Uid, opts *t.WindowOpt) ([]t.Post, error)

	// Read markers

	// TopicUserGet reads the (user, topic) marker row, (nil, nil) when absent.
	TopicUserGet(topic, user t.Uid) (*t.TopicUser, error)
	// TopicUserCreate inserts a zero marker row if one does not exist yet.
	TopicUserCreate(topic, user t.Uid) error
	// TopicUserSetLastRead advances the marker to seq if seq is greater
	// than the current value. Returns true if the row changed.
	TopicUserSetLastRead(topic, user t.Uid, seq int) (bool, error)

	// Notifications

	// NotificationCreate inserts a notification record.
	NotificationCreate(n *t.Notification) error
	// NotificationsMarkRead flips to read all unread notifications of the
	// (user, topic) pair with sequence number <= seq, in one statement.
	// Returns the number of rows changed.
	NotificationsMarkRead(topic, user t.Uid, seq int) (int, error)

	// Host directory (read-mostly)

	// UserGet returns a record for a given user ID, (nil, nil) when absent.
	UserGet(user t.Uid) (*t.User, error)
	// UserGetByName resolves a user by username, (nil, nil) when absent.
	UserGetByName(username string) (*t.User, error)
	// UserGroups returns ids of groups the user currently belongs to.
	UserGroups(user t.Uid) ([]t.Uid, error)
	// UserReadableCategories returns ids of categories readable by the user.
	UserReadableCategories(user t.Uid) ([]t.Uid, error)
	// UserPostCountAdjust shifts the user's forum post counter. The chat
	// paths never call it; it exists for the generic post destroyer only.
	UserPostCountAdjust(user t.Uid, delta int) error
	// GroupsGet loads group records for the given list of ids.
	GroupsGet(ids []t.Uid) ([]t.Group, error)
	// UserBelongsToAny checks membership in at least one of the groups.
	UserBelongsToAny(user t.Uid, groups []t.Uid) (bool, error)
	// CategoryGet loads a single category, (nil, nil) when absent.
	CategoryGet(category t.Uid) (*t.Category, error)
	// UserCanReadCategory checks the host category read permission.
	UserCanReadCategory(user, category t.Uid) (bool, error)
	// CategorySetChatTopic points the category's chat back-reference at the
	// topic; a zero topic id clears it.
	CategorySetChatTopic(category, topic t.Uid) error
}
