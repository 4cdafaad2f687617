/******************************************************************************
 *
 *  Description :
 *    Post stream windowing: normalized paging over a topic's posts.
 *
 *****************************************************************************/

package chat

import (
	"github.com/banter-chat/banter/server/guardian"
	"github.com/banter-chat/banter/server/store"
	"github.com/banter-chat/banter/server/store/types"
)

// WindowParams is a raw, client-supplied paging request.
type WindowParams struct {
	// Anchor sequence number, included in the page; zero means "from
	// the edge".
	From int
	// Ascending walks forward from the anchor, the default walks
	// backwards (newest first).
	Ascending bool
	// Requested page size; clamped to the configured maximum.
	Limit int
}

// Window returns one page of the topic's post stream. An absent anchor is
// normalized to the stream edge for the requested direction: just past the
// newest post when descending, before the first post when ascending.
func (s *Service) Window(gdn *guardian.Guardian, topic *types.Topic, params WindowParams) ([]types.Post, error) {
	if !gdn.CanView(topic) {
		return nil, types.ErrPermissionDenied
	}

	opts := &types.WindowOpt{
		From:      params.From,
		Ascending: params.Ascending,
		Limit:     params.Limit,
	}
	if opts.Limit <= 0 || opts.Limit > s.cfg.PageSize {
		opts.Limit = s.cfg.PageSize
	}
	if opts.From <= 0 {
		if opts.Ascending {
			opts.From = 0
		} else {
			opts.From = topic.SeqId + 1
		}
	}

	return store.Posts.Window(topic.Uid(), opts)
}
