package notes

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestQueryKeyConvergence(t *testing.T) {
	// logically equivalent requests must construct identical keys
	assert.Equal(t, MyNotesKey(1, 100), MyNotesKey(0, 0))
	assert.Equal(t, PublicNotesKey(1, 100), PublicNotesKey(0, 0))
	assert.Equal(t, MyNoteKey("n1"), MyNoteKey("n1"))
	assert.NotEqual(t, MyNoteKey("n1"), PublicNoteKey("n1"))
	assert.NotEqual(t, MyNotesKey(1, 100), MyNotesKey(2, 100))

	assert.Equal(t, NoteCommentsKey("n1", NoteKindPrivate).Scope, ScopeMyNoteComments)
	assert.Equal(t, NoteCommentsKey("n1", NoteKindPublic).Scope, ScopePublicNoteComments)
}

func TestQueryKeyPrefixMatch(t *testing.T) {
	assert.Equal(t, true, MyNotesKey(1, 100).MatchesPrefix(MyNotesPrefix()))
	assert.Equal(t, true, MyNotesKey(7, 20).MatchesPrefix(MyNotesPrefix()))
	assert.Equal(t, false, PublicNotesKey(1, 100).MatchesPrefix(MyNotesPrefix()))
	assert.Equal(t, false, MyNoteKey("n1").MatchesPrefix(MyNotesPrefix()))

	// a prefix with a note id constrains the match
	prefix := QueryKey{Scope: ScopeMyNote, NoteId: "n1"}
	assert.Equal(t, true, MyNoteKey("n1").MatchesPrefix(prefix))
	assert.Equal(t, false, MyNoteKey("n2").MatchesPrefix(prefix))

	// an exact key used as a prefix matches only itself
	assert.Equal(t, true, MyNotesKey(1, 100).MatchesPrefix(MyNotesKey(1, 100)))
	assert.Equal(t, false, MyNotesKey(2, 100).MatchesPrefix(MyNotesKey(1, 100)))
}
