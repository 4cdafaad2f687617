/******************************************************************************
 *
 *  Description :
 *    Post destroy hook. Wraps the content store's deletion with the
 *    chat-specific behavior around it.
 *
 *****************************************************************************/

package chat

import (
	"github.com/banter-chat/banter/server/guardian"
	"github.com/banter-chat/banter/server/store"
	"github.com/banter-chat/banter/server/store/types"
)

// postDestroyer runs a single post deletion. Admins delete hard, the row
// is gone; authors delete soft, the row stays flagged so moderation can
// still see it. Either way the author's forum post counter is never
// touched: chat messages do not contribute to forum reputation.
type postDestroyer struct {
	actor *guardian.Guardian
	topic *types.Topic
	post  *types.Post
	bcast Publisher

	// When false, deletion adjusts the author's forum post counter the
	// way a regular forum post removal would. Chat always sets it.
	skipUserCounts bool
}

func newPostDestroyer(actor *guardian.Guardian, topic *types.Topic, post *types.Post, bcast Publisher) *postDestroyer {
	return &postDestroyer{
		actor:          actor,
		topic:          topic,
		post:           post,
		bcast:          bcast,
		skipUserCounts: true,
	}
}

// Destroy deletes the post and notifies subscribers: one topic event and
// one post event carrying the deletion flag, nothing else.
func (d *postDestroyer) Destroy() error {
	hard := d.actor.IsAdmin()

	if err := store.Posts.Delete(d.post.Uid(), hard); err != nil {
		return err
	}

	if !d.skipUserCounts {
		if err := store.Users.PostCountAdjust(d.post.From, -1); err != nil {
			return err
		}
	}

	d.post.UserDeleted = !hard
	d.bcast.PublishToTopic(d.topic, false)
	d.bcast.PublishPostDeleted(d.post)
	return nil
}
