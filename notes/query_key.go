package notes

import (
	"fmt"
)

const DefaultPage = 1
const DefaultLimit = 100

type QueryScope string

const (
	ScopeMyNotes            QueryScope = "me/notes"
	ScopeMyNote             QueryScope = "me/note"
	ScopePublicNotes        QueryScope = "notes"
	ScopePublicNote         QueryScope = "note"
	ScopeMyNoteComments     QueryScope = "me/note/comments"
	ScopePublicNoteComments QueryScope = "note/comments"
)

// QueryKey addresses one cacheable resource.
// comparable, immutable once constructed. Two logically equivalent requests
// construct identical keys, so cache lookups converge.
type QueryKey struct {
	Scope  QueryScope
	NoteId string
	Page   int
	Limit  int
}

func MyNotesKey(page int, limit int) QueryKey {
	if page == 0 {
		page = DefaultPage
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	return QueryKey{
		Scope: ScopeMyNotes,
		Page:  page,
		Limit: limit,
	}
}

func MyNoteKey(noteId string) QueryKey {
	return QueryKey{
		Scope:  ScopeMyNote,
		NoteId: noteId,
	}
}

func PublicNotesKey(page int, limit int) QueryKey {
	if page == 0 {
		page = DefaultPage
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	return QueryKey{
		Scope: ScopePublicNotes,
		Page:  page,
		Limit: limit,
	}
}

func PublicNoteKey(noteId string) QueryKey {
	return QueryKey{
		Scope:  ScopePublicNote,
		NoteId: noteId,
	}
}

func NoteCommentsKey(noteId string, kind NoteKind) QueryKey {
	scope := ScopePublicNoteComments
	if kind == NoteKindPrivate {
		scope = ScopeMyNoteComments
	}
	return QueryKey{
		Scope:  scope,
		NoteId: noteId,
	}
}

// prefix keys for non-exact invalidation. A zero field matches any value.

func MyNotesPrefix() QueryKey {
	return QueryKey{Scope: ScopeMyNotes}
}

func PublicNotesPrefix() QueryKey {
	return QueryKey{Scope: ScopePublicNotes}
}

// MatchesPrefix reports whether this key falls under `prefix`.
// the scope must match exactly. NoteId, Page and Limit in the prefix
// constrain the match only when set.
func (self QueryKey) MatchesPrefix(prefix QueryKey) bool {
	if self.Scope != prefix.Scope {
		return false
	}
	if prefix.NoteId != "" && self.NoteId != prefix.NoteId {
		return false
	}
	if prefix.Page != 0 && self.Page != prefix.Page {
		return false
	}
	if prefix.Limit != 0 && self.Limit != prefix.Limit {
		return false
	}
	return true
}

func (self QueryKey) String() string {
	switch {
	case self.NoteId != "" && self.Page != 0:
		return fmt.Sprintf("%s/%s?page=%d&limit=%d", self.Scope, self.NoteId, self.Page, self.Limit)
	case self.NoteId != "":
		return fmt.Sprintf("%s/%s", self.Scope, self.NoteId)
	case self.Page != 0:
		return fmt.Sprintf("%s?page=%d&limit=%d", self.Scope, self.Page, self.Limit)
	default:
		return string(self.Scope)
	}
}
