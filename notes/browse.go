package notes

import (
	"sync"
)

type EditorMode string

const (
	EditorModeCreate EditorMode = "create"
	EditorModeEdit   EditorMode = "edit"
)

// BrowseState holds the public-notes browsing and editor state: current page,
// author filter, editor mode. Constructed at application start and injected
// where needed, one instance per app.
type BrowseState struct {
	mutex         sync.Mutex
	currentPage   int
	authorFilter  string
	editorMode    EditorMode
	editingNoteId string

	changeCallbacks *CallbackList[func()]
}

func NewBrowseState() *BrowseState {
	return &BrowseState{
		currentPage:     DefaultPage,
		editorMode:      EditorModeCreate,
		changeCallbacks: NewCallbackList[func()](),
	}
}

func (self *BrowseState) CurrentPage() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.currentPage
}

func (self *BrowseState) AuthorFilter() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.authorFilter
}

func (self *BrowseState) EditorMode() (EditorMode, string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.editorMode, self.editingNoteId
}

func (self *BrowseState) SetCurrentPage(page int) {
	self.mutex.Lock()
	self.currentPage = page
	self.mutex.Unlock()
	self.notifyChange()
}

// SetAuthorFilter resets to the first page. An empty author clears the filter.
func (self *BrowseState) SetAuthorFilter(authorId string) {
	self.mutex.Lock()
	self.authorFilter = authorId
	self.currentPage = DefaultPage
	self.mutex.Unlock()
	self.notifyChange()
}

func (self *BrowseState) ResetPagination() {
	self.mutex.Lock()
	self.currentPage = DefaultPage
	self.authorFilter = ""
	self.mutex.Unlock()
	self.notifyChange()
}

func (self *BrowseState) EnterEditMode(noteId string) {
	self.mutex.Lock()
	self.editorMode = EditorModeEdit
	self.editingNoteId = noteId
	self.mutex.Unlock()
	self.notifyChange()
}

func (self *BrowseState) EnterCreateMode() {
	self.mutex.Lock()
	self.editorMode = EditorModeCreate
	self.editingNoteId = ""
	self.mutex.Unlock()
	self.notifyChange()
}

func (self *BrowseState) ExitEditor() {
	self.EnterCreateMode()
}

func (self *BrowseState) AddChangeCallback(changeCallback func()) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *BrowseState) notifyChange() {
	for _, changeCallback := range self.changeCallbacks.Get() {
		changeCallback := changeCallback
		safeInvoke(changeCallback)
	}
}
