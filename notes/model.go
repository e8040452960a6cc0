package notes

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// payload types for the notes platform api.
// the server responds with `{success, data}` envelopes; the gateway unwraps
// them so the cache only ever holds the types below.

// NoteKind is an explicit discriminator set at decode time.
// a note is never classified by which optional fields happen to be present.
type NoteKind string

const (
	NoteKindPrivate NoteKind = "private"
	NoteKindPublic  NoteKind = "public"
)

type NoteAuthor struct {
	Id          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarUrl   string `json:"avatarUrl,omitempty"`
}

type Note struct {
	Kind        NoteKind    `json:"-"`
	Id          string      `json:"id"`
	Title       string      `json:"title,omitempty"`
	Content     string      `json:"content"`
	IsPublic    bool        `json:"isPublic"`
	PublishedAt *time.Time  `json:"publishedAt,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	Author      *NoteAuthor `json:"author,omitempty"`
}

func (self *Note) Clone() *Note {
	next := *self
	if self.PublishedAt != nil {
		publishedAt := *self.PublishedAt
		next.PublishedAt = &publishedAt
	}
	if self.Author != nil {
		author := *self.Author
		next.Author = &author
	}
	return &next
}

type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"hasNext"`
}

type NotesPage struct {
	Kind       NoteKind   `json:"-"`
	Notes      []*Note    `json:"notes"`
	Pagination Pagination `json:"pagination"`
}

// Clone copies the page and the note list. The notes themselves are shared
// until a projection replaces them, so callers that edit a note must clone it
// before swapping it into the cloned list.
func (self *NotesPage) Clone() *NotesPage {
	next := *self
	next.Notes = make([]*Note, len(self.Notes))
	copy(next.Notes, self.Notes)
	return &next
}

type Comment struct {
	Id        string    `json:"id"`
	PostId    string    `json:"postId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CommentsPage struct {
	PostId   string     `json:"postId"`
	Comments []*Comment `json:"comments"`
	Count    int        `json:"count"`
}

func (self *CommentsPage) Clone() *CommentsPage {
	next := *self
	next.Comments = make([]*Comment, len(self.Comments))
	copy(next.Comments, self.Comments)
	return &next
}

// Remove drops the comment with `commentId` in place.
// returns false if no comment with that id is in the list.
func (self *CommentsPage) Remove(commentId string) bool {
	for i, comment := range self.Comments {
		if comment.Id == commentId {
			self.Comments = append(self.Comments[0:i], self.Comments[i+1:]...)
			return true
		}
	}
	return false
}

func (self *CommentsPage) Contains(commentId string) bool {
	for _, comment := range self.Comments {
		if comment.Id == commentId {
			return true
		}
	}
	return false
}

type Profile struct {
	Id          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	AvatarUrl   string `json:"avatarUrl,omitempty"`
	IsAnonymous bool   `json:"isAnonymous"`
}

// OptimisticIdPrefix marks records created client-side before server
// confirmation. Such ids must never be sent to the backend as authoritative.
const OptimisticIdPrefix = "optimistic-"

func NewClientId() string {
	return ulid.Make().String()
}

func NewOptimisticId() string {
	return OptimisticIdPrefix + NewClientId()
}

func IsOptimisticId(id string) bool {
	return len(OptimisticIdPrefix) <= len(id) && id[0:len(OptimisticIdPrefix)] == OptimisticIdPrefix
}
