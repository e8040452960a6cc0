package notes

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
)

// realtime event payloads. Data always carries the originating note id so
// bridges can filter.

type WebsocketCommentCreated struct {
	PostId  string   `json:"postId"`
	Comment *Comment `json:"comment"`
}

type WebsocketCommentsList struct {
	PostId   string     `json:"postId"`
	Comments []*Comment `json:"comments"`
	Count    int        `json:"count"`
}

// CommentSync merges realtime comment events for one note into the cache
// entry the mutation coordinator also writes to, and performs optimistic
// comment insertion for immediate feedback.
//
// duplication policy: a realtime copy whose username and content match an
// outstanding optimistic comment replaces that optimistic copy in the same
// merge turn. A transient duplicate can still appear when the texts differ;
// the settle-phase invalidation corrects it.
type CommentSync struct {
	store  *CacheStore
	noteId string
	key    QueryKey

	mutex             sync.Mutex
	optimisticPending map[string]*Comment

	unsubCreated func()
	unsubList    func()
}

func NewCommentSync(store *CacheStore, channel *RealtimeChannel, noteId string, kind NoteKind) *CommentSync {
	commentSync := &CommentSync{
		store:             store,
		noteId:            noteId,
		key:               NoteCommentsKey(noteId, kind),
		optimisticPending: map[string]*Comment{},
	}
	commentSync.unsubCreated = channel.Subscribe(EventTypeCommentCreated, commentSync.handleCommentCreated)
	commentSync.unsubList = channel.Subscribe(EventTypeCommentsList, commentSync.handleCommentsList)
	return commentSync
}

// Close releases both subscriptions.
func (self *CommentSync) Close() {
	self.unsubCreated()
	self.unsubList()
}

func (self *CommentSync) handleCommentCreated(data json.RawMessage) {
	var event WebsocketCommentCreated
	if err := json.Unmarshal(data, &event); err != nil || event.Comment == nil {
		glog.Infof("[comments]drop malformed comment-created = %s\n", err)
		return
	}
	if event.PostId != self.noteId {
		return
	}

	value, ok := self.store.Read(self.key)
	if !ok {
		// nothing cached yet. Force a fetch rather than fabricating a
		// one-element list
		self.store.Invalidate(self.key, true)
		return
	}
	commentsPage, ok := value.(*CommentsPage)
	if !ok {
		return
	}

	next := commentsPage.Clone()
	if optimisticId := self.matchOptimistic(event.Comment); optimisticId != "" {
		if next.Remove(optimisticId) {
			next.Count -= 1
		}
		self.forgetOptimistic(optimisticId)
	}
	next.Comments = append(next.Comments, event.Comment)
	next.Count += 1
	self.store.Write(self.key, next)
	glog.V(2).Infof("[comments]merged %s for %s\n", event.Comment.Id, self.noteId)
}

// a comments-list event is a full snapshot, used for reconciliation after
// reconnects or missed events
func (self *CommentSync) handleCommentsList(data json.RawMessage) {
	var event WebsocketCommentsList
	if err := json.Unmarshal(data, &event); err != nil {
		glog.Infof("[comments]drop malformed comments-list = %s\n", err)
		return
	}
	if event.PostId != self.noteId {
		return
	}

	comments := event.Comments
	if comments == nil {
		comments = []*Comment{}
	}
	self.store.Write(self.key, &CommentsPage{
		PostId:   event.PostId,
		Comments: comments,
		Count:    event.Count,
	})

	// outstanding optimistic comments are superseded by the snapshot
	self.mutex.Lock()
	self.optimisticPending = map[string]*Comment{}
	self.mutex.Unlock()
}

// OptimisticallyAddComment appends a comment with a temporary id and client
// timestamps for instantaneous feedback prior to server confirmation.
// returns nil when no list is cached yet.
func (self *CommentSync) OptimisticallyAddComment(username string, content string) *Comment {
	value, ok := self.store.Read(self.key)
	if !ok {
		return nil
	}
	commentsPage, ok := value.(*CommentsPage)
	if !ok {
		return nil
	}

	now := time.Now().UTC()
	comment := &Comment{
		Id:        NewOptimisticId(),
		PostId:    self.noteId,
		Username:  username,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	self.mutex.Lock()
	self.optimisticPending[comment.Id] = comment
	self.mutex.Unlock()

	next := commentsPage.Clone()
	next.Comments = append(next.Comments, comment)
	next.Count += 1
	self.store.Write(self.key, next)
	return comment
}

// RemoveOptimisticComment removes exactly the comment with that id.
// no-op when absent, so it is safe to call after the list has been replaced
// by a realtime event.
func (self *CommentSync) RemoveOptimisticComment(commentId string) {
	self.forgetOptimistic(commentId)

	value, ok := self.store.Read(self.key)
	if !ok {
		return
	}
	commentsPage, ok := value.(*CommentsPage)
	if !ok {
		return
	}
	next := commentsPage.Clone()
	if next.Remove(commentId) {
		next.Count -= 1
		self.store.Write(self.key, next)
	}
}

func (self *CommentSync) matchOptimistic(comment *Comment) string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	for optimisticId, optimisticComment := range self.optimisticPending {
		if optimisticComment.Username == comment.Username && optimisticComment.Content == comment.Content {
			return optimisticId
		}
	}
	return ""
}

func (self *CommentSync) forgetOptimistic(commentId string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.optimisticPending, commentId)
}
