package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

const defaultHttpTimeout = 30 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// NotesApi is the single chokepoint for all backend calls.
// it injects the bearer token, enforces the request timeout, and classifies
// errors into the client taxonomy.
type NotesApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl      string
	httpTimeout time.Duration
	client      *http.Client

	mutex     sync.Mutex
	bearerJwt string
}

func NewNotesApi(apiUrl string) *NotesApi {
	return NewNotesApiWithContext(context.Background(), apiUrl, defaultHttpTimeout)
}

func NewNotesApiWithContext(ctx context.Context, apiUrl string, httpTimeout time.Duration) *NotesApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &NotesApi{
		ctx:         cancelCtx,
		cancel:      cancel,
		apiUrl:      strings.TrimSuffix(apiUrl, "/"),
		httpTimeout: httpTimeout,
		client:      defaultClient(),
	}
}

// this gets attached to api calls that need it
func (self *NotesApi) SetBearerJwt(bearerJwt string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.bearerJwt = bearerJwt
}

func (self *NotesApi) bearer() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.bearerJwt
}

func (self *NotesApi) Close() {
	self.cancel()
}

// the `/me` and `/auth` namespaces require an identity token
func isPrivatePath(path string) bool {
	if path == "/me" || strings.HasPrefix(path, "/me/") || strings.HasPrefix(path, "/me?") {
		return true
	}
	if strings.HasPrefix(path, "/auth/") {
		return true
	}
	return false
}

// server responses are `{success, data}` envelopes
type apiEnvelope[R any] struct {
	Success bool `json:"success"`
	Data    R    `json:"data"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Error   *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

type EmptyResult struct{}

func classifyCallError(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Timeout: timeout}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Timeout: timeout}
	}
	return err
}

func call[R any](self *NotesApi, method string, path string, args any, result R, callback apiCallback[R]) (R, error) {
	var empty R

	if isPrivatePath(path) && self.bearer() == "" {
		// fail fast, never touch the network
		callback.Result(empty, ErrAuthMissing)
		return empty, ErrAuthMissing
	}

	var requestBody io.Reader
	if args != nil {
		requestBodyBytes, err := json.Marshal(args)
		if err != nil {
			callback.Result(empty, err)
			return empty, err
		}
		requestBody = bytes.NewReader(requestBodyBytes)
	}

	callCtx, callCancel := context.WithTimeout(self.ctx, self.httpTimeout)
	defer callCancel()

	req, err := http.NewRequestWithContext(callCtx, method, self.apiUrl+path, requestBody)
	if err != nil {
		callback.Result(empty, err)
		return empty, err
	}

	if args != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearerJwt := self.bearer(); bearerJwt != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", bearerJwt))
	}

	r, err := self.client.Do(req)
	if err != nil {
		err = classifyCallError(err, self.httpTimeout)
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		err = classifyCallError(err, self.httpTimeout)
		callback.Result(empty, err)
		return empty, err
	}

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		httpError := &HttpError{
			Status:  r.StatusCode,
			Message: strings.TrimSpace(r.Status),
		}
		var errorBody apiErrorBody
		if jsonErr := json.Unmarshal(responseBodyBytes, &errorBody); jsonErr == nil {
			if errorBody.Error != nil {
				httpError.Message = errorBody.Error.Message
				httpError.Code = errorBody.Error.Code
			} else if errorBody.Message != "" {
				httpError.Message = errorBody.Message
				httpError.Code = errorBody.Code
			}
		}
		glog.V(2).Infof("[api]%s %s = %s\n", method, path, httpError)
		callback.Result(empty, httpError)
		return empty, httpError
	}

	if 0 < len(responseBodyBytes) {
		envelope := &apiEnvelope[R]{
			Data: result,
		}
		if err := json.Unmarshal(responseBodyBytes, envelope); err != nil {
			callback.Result(empty, err)
			return empty, err
		}
	}

	glog.V(2).Infof("[api]%s %s ok\n", method, path)
	callback.Result(result, nil)
	return result, nil
}

// auth

// AuthSessionResult is the session the backend bridges for the current
// identity token.
type AuthSessionResult struct {
	UserId      string `json:"userId"`
	Username    string `json:"username"`
	IsAnonymous bool   `json:"isAnonymous"`
}

type AuthLoginCallback apiCallback[*AuthSessionResult]

func (self *NotesApi) AuthLogin(callback AuthLoginCallback) {
	go call(self, "POST", "/auth/login", nil, &AuthSessionResult{}, callback)
}

func (self *NotesApi) AuthLoginSync() (*AuthSessionResult, error) {
	return call(self, "POST", "/auth/login", nil, &AuthSessionResult{}, NewNoopApiCallback[*AuthSessionResult]())
}

func (self *NotesApi) AuthAnonymousLogin(callback AuthLoginCallback) {
	go call(self, "POST", "/auth/anonymous-login", nil, &AuthSessionResult{}, callback)
}

func (self *NotesApi) AuthAnonymousLoginSync() (*AuthSessionResult, error) {
	return call(self, "POST", "/auth/anonymous-login", nil, &AuthSessionResult{}, NewNoopApiCallback[*AuthSessionResult]())
}

type PromoteAnonymousArgs struct {
	AnonymousUid string `json:"anonymous_firebase_uuid"`
}

func (self *NotesApi) PromoteAnonymousSync(promoteAnonymous *PromoteAnonymousArgs) (*AuthSessionResult, error) {
	return call(self, "POST", "/auth/anonymous-promote", promoteAnonymous, &AuthSessionResult{}, NewNoopApiCallback[*AuthSessionResult]())
}

// private notes

type GetNotesCallback apiCallback[*NotesPage]
type GetNoteCallback apiCallback[*Note]

func (self *NotesApi) GetMyNotes(page int, limit int, callback GetNotesCallback) {
	go self.getMyNotes(page, limit, callback)
}

func (self *NotesApi) GetMyNotesSync(page int, limit int) (*NotesPage, error) {
	return self.getMyNotes(page, limit, NewNoopApiCallback[*NotesPage]())
}

func (self *NotesApi) getMyNotes(page int, limit int, callback GetNotesCallback) (*NotesPage, error) {
	key := MyNotesKey(page, limit)
	path := fmt.Sprintf("/me/notes?page=%d&limit=%d", key.Page, key.Limit)
	notesPage, err := call(self, "GET", path, nil, &NotesPage{}, NewNoopApiCallback[*NotesPage]())
	if err == nil {
		tagNotesPage(notesPage, NoteKindPrivate)
	}
	callback.Result(notesPage, err)
	return notesPage, err
}

func (self *NotesApi) GetMyNoteSync(noteId string) (*Note, error) {
	path := fmt.Sprintf("/me/notes/%s", noteId)
	note, err := call(self, "GET", path, nil, &Note{}, NewNoopApiCallback[*Note]())
	if err == nil {
		note.Kind = NoteKindPrivate
	}
	return note, err
}

type CreateNoteArgs struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

func (self *NotesApi) CreateNoteSync(createNote *CreateNoteArgs) (*Note, error) {
	note, err := call(self, "POST", "/me/notes", createNote, &Note{}, NewNoopApiCallback[*Note]())
	if err == nil {
		note.Kind = NoteKindPrivate
	}
	return note, err
}

type UpdateNoteArgs struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

func (self *NotesApi) UpdateNoteSync(noteId string, updateNote *UpdateNoteArgs) (*Note, error) {
	path := fmt.Sprintf("/me/notes/%s", noteId)
	note, err := call(self, "PUT", path, updateNote, &Note{}, NewNoopApiCallback[*Note]())
	if err == nil {
		note.Kind = NoteKindPrivate
	}
	return note, err
}

func (self *NotesApi) DeleteNoteSync(noteId string) error {
	path := fmt.Sprintf("/me/notes/%s", noteId)
	_, err := call(self, "DELETE", path, nil, &EmptyResult{}, NewNoopApiCallback[*EmptyResult]())
	return err
}

// publish and unpublish are two distinct state-transition endpoints,
// never a combined visibility setter

func (self *NotesApi) PublishNoteSync(noteId string) (*Note, error) {
	path := fmt.Sprintf("/me/notes/%s/publish", noteId)
	note, err := call(self, "POST", path, nil, &Note{}, NewNoopApiCallback[*Note]())
	if err == nil {
		note.Kind = NoteKindPrivate
	}
	return note, err
}

func (self *NotesApi) UnpublishNoteSync(noteId string) (*Note, error) {
	path := fmt.Sprintf("/me/notes/%s/unpublish", noteId)
	note, err := call(self, "POST", path, nil, &Note{}, NewNoopApiCallback[*Note]())
	if err == nil {
		note.Kind = NoteKindPrivate
	}
	return note, err
}

// public notes

func (self *NotesApi) GetPublicNotesSync(page int, limit int) (*NotesPage, error) {
	key := PublicNotesKey(page, limit)
	path := fmt.Sprintf("/notes?page=%d&limit=%d", key.Page, key.Limit)
	notesPage, err := call(self, "GET", path, nil, &NotesPage{}, NewNoopApiCallback[*NotesPage]())
	if err == nil {
		tagNotesPage(notesPage, NoteKindPublic)
	}
	return notesPage, err
}

func (self *NotesApi) GetPublicNoteSync(noteId string) (*Note, error) {
	path := fmt.Sprintf("/notes/%s", noteId)
	note, err := call(self, "GET", path, nil, &Note{}, NewNoopApiCallback[*Note]())
	if err == nil {
		note.Kind = NoteKindPublic
	}
	return note, err
}

// comments

type GetCommentsCallback apiCallback[*CommentsPage]

func (self *NotesApi) GetNoteCommentsSync(noteId string, kind NoteKind) (*CommentsPage, error) {
	path := fmt.Sprintf("/notes/%s/comments", noteId)
	if kind == NoteKindPrivate {
		path = fmt.Sprintf("/me/notes/%s/comments", noteId)
	}
	return call(self, "GET", path, nil, &CommentsPage{}, NewNoopApiCallback[*CommentsPage]())
}

type CreateCommentArgs struct {
	Content string `json:"content"`
}

func (self *NotesApi) CreateCommentSync(noteId string, kind NoteKind, createComment *CreateCommentArgs) (*Comment, error) {
	path := fmt.Sprintf("/notes/%s/comments", noteId)
	if kind == NoteKindPrivate {
		path = fmt.Sprintf("/me/notes/%s/comments", noteId)
	}
	return call(self, "POST", path, createComment, &Comment{}, NewNoopApiCallback[*Comment]())
}

// profile

func (self *NotesApi) GetProfileSync() (*Profile, error) {
	return call(self, "GET", "/me", nil, &Profile{}, NewNoopApiCallback[*Profile]())
}

type UpdateProfileArgs struct {
	DisplayName string `json:"displayName,omitempty"`
	AvatarUrl   string `json:"avatarUrl,omitempty"`
}

func (self *NotesApi) UpdateProfileSync(updateProfile *UpdateProfileArgs) (*Profile, error) {
	return call(self, "PUT", "/me", updateProfile, &Profile{}, NewNoopApiCallback[*Profile]())
}

func tagNotesPage(notesPage *NotesPage, kind NoteKind) {
	notesPage.Kind = kind
	for _, note := range notesPage.Notes {
		note.Kind = kind
	}
}
