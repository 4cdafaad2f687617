/******************************************************************************
 *
 *  Description :
 *    Post ingress and mutation: append to a topic's stream, edit, destroy.
 *
 *****************************************************************************/

package chat

import (
	"strings"

	"github.com/banter-chat/banter/server/guardian"
	"github.com/banter-chat/banter/server/logs"
	"github.com/banter-chat/banter/server/store"
	"github.com/banter-chat/banter/server/store/types"
)

// CreatePost appends a message to the topic's stream. The sequence number
// is assigned by the store inside the insert transaction, so concurrent
// writers never collide. Chat posts never count toward the author's forum
// post total.
func (s *Service) CreatePost(gdn *guardian.Guardian, topic *types.Topic, raw string) (*types.Post, error) {
	if !gdn.CanPost(topic) {
		return nil, types.ErrPermissionDenied
	}
	if strings.TrimSpace(raw) == "" {
		return nil, types.ErrEmptyContent
	}

	post, err := store.Posts.Create(&types.Post{
		Topic: topic.Uid(),
		From:  gdn.Uid(),
		Raw:   raw,
	})
	if err != nil {
		return nil, err
	}

	// Reflect the new stream head in the in-memory record before fanning
	// it out; the stored row was bumped in the same transaction.
	topic.SeqId = post.SeqId
	topic.TouchedAt = post.CreatedAt

	s.notifyDirect(gdn, topic, post)

	s.bcast.PublishToPosts(post)
	s.bcast.PublishToTopic(topic, false)
	return post, nil
}

// notifyDirect records an unread notification for the counterpart of a
// direct-message topic. Failures are logged, not surfaced to the author:
// the post itself is already committed.
func (s *Service) notifyDirect(gdn *guardian.Guardian, topic *types.Topic, post *types.Post) {
	if topic.Kind != types.TopicKindDirect {
		return
	}
	other := topic.DirectOther(gdn.Uid())
	if other.IsZero() {
		return
	}
	if err := store.Notifications.Create(&types.Notification{
		User:  other,
		Topic: topic.Uid(),
		SeqId: post.SeqId,
	}); err != nil {
		logs.Warning.Println("chat: failed to create notification:", err)
	}
}

// UpdatePost replaces the body of a post. Authors may edit their own
// posts, admins anyone's.
func (s *Service) UpdatePost(gdn *guardian.Guardian, topic *types.Topic, postId types.Uid, raw string) (*types.Post, error) {
	post, err := s.fetchPost(gdn, topic, postId)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, types.ErrEmptyContent
	}

	if err = store.Posts.Update(post.Uid(), raw); err != nil {
		return nil, err
	}
	post.Raw = raw
	post.UpdatedAt = types.TimeNow()

	s.bcast.PublishToPosts(post)
	return post, nil
}

// DestroyPost removes a post from the topic's stream through the chat
// destroy hook.
func (s *Service) DestroyPost(gdn *guardian.Guardian, topic *types.Topic, postId types.Uid) error {
	post, err := s.fetchPost(gdn, topic, postId)
	if err != nil {
		return err
	}

	d := newPostDestroyer(gdn, topic, post, s.bcast)
	return d.Destroy()
}

// fetchPost loads a post and verifies both its topic linkage and the
// principal's right to modify it.
func (s *Service) fetchPost(gdn *guardian.Guardian, topic *types.Topic, postId types.Uid) (*types.Post, error) {
	post, err := store.Posts.Get(postId)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, types.ErrNotFound
	}
	if post.Topic != topic.Uid() {
		return nil, types.ErrTopicMismatch
	}
	if !gdn.CanModifyPost(post) {
		return nil, types.ErrPermissionDenied
	}
	return post, nil
}
