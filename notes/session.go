package notes

import (
	"sync"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
)

type SessionStatus string

const (
	SessionStatusLoading         SessionStatus = "loading"
	SessionStatusUnauthenticated SessionStatus = "unauthenticated"
	SessionStatusAnonymous       SessionStatus = "anonymous"
	SessionStatusAuthenticated   SessionStatus = "authenticated"
)

// Identity is what the identity provider yields: nil for signed out,
// otherwise a refreshable bearer token with an anonymity flag.
type Identity struct {
	Uid       string
	Anonymous bool
	Token     string
}

// IdentityProvider is the external identity service.
// credential issuance and token minting live there, not here.
type IdentityProvider interface {
	CurrentIdentity() (*Identity, error)
	AddIdentityChangeCallback(callback func(identity *Identity)) func()
}

// TokenClaims are the claims of interest in the identity bearer token.
// verification is the backend's job; the client only reads them.
type TokenClaims struct {
	UserId string
	Name   string
}

func ParseTokenClaimsUnverified(token string) (*TokenClaims, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	mapClaims := parsed.Claims.(gojwt.MapClaims)

	claims := &TokenClaims{}
	if userId, ok := mapClaims["user_id"].(string); ok {
		claims.UserId = userId
	}
	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	}
	return claims, nil
}

// SessionTracker bridges identity provider state changes to the backend
// session: exactly one bridge call per (uid, anonymous) transition, and the
// gateway bearer token always tracks the current identity.
type SessionTracker struct {
	api      *NotesApi
	provider IdentityProvider

	mutex            sync.Mutex
	status           SessionStatus
	identity         *Identity
	bridged          bool
	bridgedUid       string
	bridgedAnonymous bool

	statusCallbacks *CallbackList[func(status SessionStatus)]

	unsub func()
}

func NewSessionTracker(api *NotesApi, provider IdentityProvider) *SessionTracker {
	tracker := &SessionTracker{
		api:             api,
		provider:        provider,
		status:          SessionStatusLoading,
		statusCallbacks: NewCallbackList[func(status SessionStatus)](),
	}
	tracker.unsub = provider.AddIdentityChangeCallback(tracker.identityChanged)
	if identity, err := provider.CurrentIdentity(); err == nil {
		tracker.identityChanged(identity)
	}
	return tracker
}

func (self *SessionTracker) Status() SessionStatus {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.status
}

func (self *SessionTracker) Identity() *Identity {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.identity
}

func (self *SessionTracker) Claims() (*TokenClaims, error) {
	self.mutex.Lock()
	identity := self.identity
	self.mutex.Unlock()

	if identity == nil {
		return nil, ErrAuthMissing
	}
	return ParseTokenClaimsUnverified(identity.Token)
}

func (self *SessionTracker) AddStatusCallback(statusCallback func(status SessionStatus)) func() {
	callbackId := self.statusCallbacks.Add(statusCallback)
	return func() {
		self.statusCallbacks.Remove(callbackId)
	}
}

func (self *SessionTracker) Close() {
	self.unsub()
}

func (self *SessionTracker) identityChanged(identity *Identity) {
	if identity == nil {
		self.api.SetBearerJwt("")
		self.mutex.Lock()
		self.identity = nil
		self.bridged = false
		self.mutex.Unlock()
		self.setStatus(SessionStatusUnauthenticated)
		return
	}

	self.api.SetBearerJwt(identity.Token)

	self.mutex.Lock()
	self.identity = identity
	alreadyBridged := self.bridged &&
		self.bridgedUid == identity.Uid &&
		self.bridgedAnonymous == identity.Anonymous
	if !alreadyBridged {
		self.bridged = true
		self.bridgedUid = identity.Uid
		self.bridgedAnonymous = identity.Anonymous
	}
	self.mutex.Unlock()

	if alreadyBridged {
		// token refresh for the same identity. No session bridge call
		return
	}

	var err error
	if identity.Anonymous {
		_, err = self.api.AuthAnonymousLoginSync()
	} else {
		_, err = self.api.AuthLoginSync()
	}
	if err != nil {
		// a failed bridge still yields the mapped status. The backend will
		// see the session on the next bridged transition
		glog.Infof("[session]bridge error = %s\n", err)
	}

	if identity.Anonymous {
		self.setStatus(SessionStatusAnonymous)
	} else {
		self.setStatus(SessionStatusAuthenticated)
	}
}

// PromoteAnonymous upgrades a linked anonymous account after the provider has
// attached real credentials to it.
func (self *SessionTracker) PromoteAnonymous(anonymousUid string) error {
	_, err := self.api.PromoteAnonymousSync(&PromoteAnonymousArgs{
		AnonymousUid: anonymousUid,
	})
	if err != nil {
		return err
	}

	self.mutex.Lock()
	self.bridgedAnonymous = false
	if self.identity != nil {
		identity := *self.identity
		identity.Anonymous = false
		self.identity = &identity
	}
	self.mutex.Unlock()

	self.setStatus(SessionStatusAuthenticated)
	return nil
}

func (self *SessionTracker) setStatus(status SessionStatus) {
	self.mutex.Lock()
	changed := self.status != status
	self.status = status
	self.mutex.Unlock()

	if changed {
		for _, statusCallback := range self.statusCallbacks.Get() {
			statusCallback := statusCallback
			safeInvoke(func() {
				statusCallback(status)
			})
		}
	}
}
