/******************************************************************************
 *
 *  Description :
 *    Read-state tracking: the per-user monotonic read marker and the
 *    notification cascade tied to it.
 *
 *****************************************************************************/

package chat

import (
	"github.com/banter-chat/banter/server/guardian"
	"github.com/banter-chat/banter/server/store"
	"github.com/banter-chat/banter/server/store/types"
)

// MarkRead records that the principal has read the topic's stream up to
// the given sequence number and flips the matching unread notifications.
// The marker only moves forward: a stale or repeated acknowledgement is a
// no-op. Returns the marker row after the call.
//
// Marker advance and notification cleanup are two independent idempotent
// writes, not one transaction. A crash between them leaves notifications
// one acknowledgement behind; they are swept by the next one.
func (s *Service) MarkRead(gdn *guardian.Guardian, topic *types.Topic, seq int) (*types.TopicUser, error) {
	if !gdn.Authenticated() || !gdn.CanView(topic) {
		return nil, types.ErrPermissionDenied
	}
	if seq < 0 {
		return nil, types.ErrMalformed
	}

	uid := gdn.Uid()
	if err := store.TopicUsers.EnsureExists(topic.Uid(), uid); err != nil {
		return nil, err
	}

	if seq > 0 {
		if _, err := store.TopicUsers.SetLastRead(topic.Uid(), uid, seq); err != nil {
			return nil, err
		}
		if _, err := store.Notifications.MarkRead(topic.Uid(), uid, seq); err != nil {
			return nil, err
		}
	}

	return store.TopicUsers.Get(topic.Uid(), uid)
}
