package notes

import (
	"time"

	"github.com/golang/glog"
)

// MutationCoordinator orchestrates the lifecycle of every mutation:
// optimistic apply -> server call -> reconcile on success / rollback on
// failure -> settle (invalidate dependent keys). The cache ends in exactly
// the pre-mutation state whenever the server call fails.
type MutationCoordinator struct {
	store *CacheStore
	api   *NotesApi
}

func NewMutationCoordinator(store *CacheStore, api *NotesApi) *MutationCoordinator {
	return &MutationCoordinator{
		store: store,
		api:   api,
	}
}

type snapshot struct {
	value   any
	present bool
}

// mutationContext captures the previous values of every touched key.
// consumed at rollback, discarded at settle.
type mutationContext struct {
	snapshots map[QueryKey]snapshot
}

// begin cancels in-flight fetches for the touched keys and snapshots their
// current values. CancelInFlight must happen before the optimistic write so
// a late response cannot clobber it.
func (self *MutationCoordinator) begin(keys ...QueryKey) *mutationContext {
	mutation := &mutationContext{
		snapshots: map[QueryKey]snapshot{},
	}
	for _, key := range keys {
		self.store.CancelInFlight(key)
		value, present := self.store.Read(key)
		mutation.snapshots[key] = snapshot{
			value:   value,
			present: present,
		}
	}
	return mutation
}

// rollback restores every snapshotted key bit-for-bit. A key that was never
// fetched is skipped rather than written as absent.
func (self *MutationCoordinator) rollback(mutation *mutationContext) {
	for key, snap := range mutation.snapshots {
		if !snap.present {
			glog.V(2).Infof("[mut]%s\n", &StaleRollbackTargetError{Key: key})
			continue
		}
		self.store.Write(key, snap.value)
	}
}

// settleNote invalidates the dependent key set for a note mutation: the
// private single-note and list keys and their public equivalents. Publish and
// unpublish have server-side effects on the public lists that are not modeled
// optimistically; the refetch corrects them.
func (self *MutationCoordinator) settleNote(noteId string) {
	self.store.Invalidate(MyNotesPrefix(), false)
	self.store.Invalidate(MyNoteKey(noteId), true)
	self.store.Invalidate(PublicNotesPrefix(), false)
	self.store.Invalidate(PublicNoteKey(noteId), true)
}

func (self *MutationCoordinator) CreateNote(createNote *CreateNoteArgs) (*Note, error) {
	listKeys := self.store.KeysMatching(MyNotesPrefix())
	mutation := self.begin(listKeys...)

	now := time.Now().UTC()
	optimisticNote := &Note{
		Kind:      NoteKindPrivate,
		Id:        NewOptimisticId(),
		Title:     createNote.Title,
		Content:   createNote.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, listKey := range listKeys {
		self.projectList(listKey, func(notesPage *NotesPage) {
			notesPage.Notes = append(notesPage.Notes, optimisticNote)
			notesPage.Pagination.Total += 1
		})
	}

	note, err := self.api.CreateNoteSync(createNote)
	if err != nil {
		self.rollback(mutation)
	} else {
		self.store.Write(MyNoteKey(note.Id), note)
		for _, listKey := range listKeys {
			self.projectList(listKey, func(notesPage *NotesPage) {
				self.replaceNote(notesPage, optimisticNote.Id, note)
			})
		}
		self.settleNote(note.Id)
		return note, nil
	}

	// settle on failure too: the lists may have drifted server-side
	self.store.Invalidate(MyNotesPrefix(), false)
	return nil, err
}

func (self *MutationCoordinator) UpdateNote(noteId string, updateNote *UpdateNoteArgs) (*Note, error) {
	noteKey := MyNoteKey(noteId)
	listKeys := self.store.KeysMatching(MyNotesPrefix())
	touched := append([]QueryKey{noteKey}, listKeys...)
	mutation := self.begin(touched...)

	now := time.Now().UTC()
	project := func(note *Note) {
		note.Title = updateNote.Title
		note.Content = updateNote.Content
		note.UpdatedAt = now
	}
	self.projectNote(noteKey, project)
	for _, listKey := range listKeys {
		self.projectList(listKey, func(notesPage *NotesPage) {
			self.projectNoteInList(notesPage, noteId, project)
		})
	}

	note, err := self.api.UpdateNoteSync(noteId, updateNote)
	if err != nil {
		self.rollback(mutation)
	} else {
		self.store.Write(noteKey, note)
		for _, listKey := range listKeys {
			self.projectList(listKey, func(notesPage *NotesPage) {
				self.replaceNote(notesPage, noteId, note)
			})
		}
	}
	self.settleNote(noteId)
	return note, err
}

func (self *MutationCoordinator) DeleteNote(noteId string) error {
	noteKey := MyNoteKey(noteId)
	listKeys := self.store.KeysMatching(MyNotesPrefix())
	touched := append([]QueryKey{noteKey}, listKeys...)
	mutation := self.begin(touched...)

	for _, listKey := range listKeys {
		self.projectList(listKey, func(notesPage *NotesPage) {
			for i, note := range notesPage.Notes {
				if note.Id == noteId {
					notesPage.Notes = append(notesPage.Notes[0:i], notesPage.Notes[i+1:]...)
					notesPage.Pagination.Total -= 1
					break
				}
			}
		})
	}

	err := self.api.DeleteNoteSync(noteId)
	if err != nil {
		self.rollback(mutation)
	}
	self.settleNote(noteId)
	return err
}

// PublishNote and UnpublishNote compute the binary target state and invoke
// exactly one of the two state-transition endpoints, never both.

func (self *MutationCoordinator) PublishNote(noteId string) (*Note, error) {
	return self.setNoteVisibility(noteId, true)
}

func (self *MutationCoordinator) UnpublishNote(noteId string) (*Note, error) {
	return self.setNoteVisibility(noteId, false)
}

func (self *MutationCoordinator) setNoteVisibility(noteId string, public bool) (*Note, error) {
	noteKey := MyNoteKey(noteId)
	listKeys := self.store.KeysMatching(MyNotesPrefix())
	touched := append([]QueryKey{noteKey}, listKeys...)
	mutation := self.begin(touched...)

	// the client-side publishedAt stamp holds until the server truth arrives
	now := time.Now().UTC()
	project := func(note *Note) {
		note.IsPublic = public
		if public {
			publishedAt := now
			note.PublishedAt = &publishedAt
		} else {
			note.PublishedAt = nil
		}
	}
	self.projectNote(noteKey, project)
	for _, listKey := range listKeys {
		self.projectList(listKey, func(notesPage *NotesPage) {
			self.projectNoteInList(notesPage, noteId, project)
		})
	}

	var note *Note
	var err error
	if public {
		note, err = self.api.PublishNoteSync(noteId)
	} else {
		note, err = self.api.UnpublishNoteSync(noteId)
	}
	if err != nil {
		self.rollback(mutation)
	} else {
		// server response is authoritative over the optimistic projection
		self.store.Write(noteKey, note)
		for _, listKey := range listKeys {
			self.projectList(listKey, func(notesPage *NotesPage) {
				self.replaceNote(notesPage, noteId, note)
			})
		}
	}
	self.settleNote(noteId)
	return note, err
}

// CreateComment appends a temporary comment, posts it, and swaps in the
// server copy on success. The comment sync bridge may have already merged a
// realtime copy of the same comment; in that case the server copy is not
// appended twice.
func (self *MutationCoordinator) CreateComment(noteId string, kind NoteKind, username string, createComment *CreateCommentArgs) (*Comment, error) {
	commentsKey := NoteCommentsKey(noteId, kind)
	mutation := self.begin(commentsKey)

	now := time.Now().UTC()
	optimisticComment := &Comment{
		Id:        NewOptimisticId(),
		PostId:    noteId,
		Username:  username,
		Content:   createComment.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if value, ok := self.store.Read(commentsKey); ok {
		if commentsPage, ok := value.(*CommentsPage); ok {
			next := commentsPage.Clone()
			next.Comments = append(next.Comments, optimisticComment)
			next.Count += 1
			self.store.Write(commentsKey, next)
		}
	}

	comment, err := self.api.CreateCommentSync(noteId, kind, createComment)
	if err != nil {
		self.rollback(mutation)
	} else {
		if value, ok := self.store.Read(commentsKey); ok {
			if commentsPage, ok := value.(*CommentsPage); ok {
				next := commentsPage.Clone()
				replaced := false
				for i, c := range next.Comments {
					if c.Id == optimisticComment.Id {
						next.Comments[i] = comment
						replaced = true
						break
					}
				}
				if !replaced && !next.Contains(comment.Id) {
					next.Comments = append(next.Comments, comment)
					next.Count += 1
				}
				self.store.Write(commentsKey, next)
			}
		}
	}
	self.store.Invalidate(commentsKey, true)
	return comment, err
}

// projectNote clones and edits the cached single note, if present.
func (self *MutationCoordinator) projectNote(noteKey QueryKey, project func(note *Note)) {
	value, ok := self.store.Read(noteKey)
	if !ok {
		return
	}
	note, ok := value.(*Note)
	if !ok {
		return
	}
	next := note.Clone()
	project(next)
	self.store.Write(noteKey, next)
}

// projectList clones and edits a cached list page, if present.
func (self *MutationCoordinator) projectList(listKey QueryKey, project func(notesPage *NotesPage)) {
	value, ok := self.store.Read(listKey)
	if !ok {
		return
	}
	notesPage, ok := value.(*NotesPage)
	if !ok {
		return
	}
	next := notesPage.Clone()
	project(next)
	self.store.Write(listKey, next)
}

// must be called on a cloned page
func (self *MutationCoordinator) projectNoteInList(notesPage *NotesPage, noteId string, project func(note *Note)) {
	for i, note := range notesPage.Notes {
		if note.Id == noteId {
			next := note.Clone()
			project(next)
			notesPage.Notes[i] = next
			return
		}
	}
}

// must be called on a cloned page
func (self *MutationCoordinator) replaceNote(notesPage *NotesPage, noteId string, note *Note) {
	for i, n := range notesPage.Notes {
		if n.Id == noteId {
			notesPage.Notes[i] = note
			return
		}
	}
}
