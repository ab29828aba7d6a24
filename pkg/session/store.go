package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNoSession        = errors.New("not authenticated")
	ErrExpired          = errors.New("session expired")
	ErrInvalidSignature = errors.New("invalid signature")
)

type AccountType string

const (
	AccountFuel     AccountType = "FUEL"
	AccountWebAuthn AccountType = "WEB_AUTHN"
)

// Permissions maps a workspace id to the roles the user holds in it.
type Permissions map[string][]string

type WebAuthn struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
}

// Session is the authenticated identity. Values returned by Store are
// copies; only the workspace may change during a session's lifetime.
type Session struct {
	Account         string
	AccessToken     string
	UserID          string
	Avatar          string
	AccountType     AccountType
	SingleWorkspace string
	WorkspaceID     string
	Permissions     Permissions
	WebAuthn        *WebAuthn

	// SessionID and Origin correlate the relay channel of a dApp popup.
	SessionID string
	Origin    string
}

// AuthenticateParams is what a successful sign-in hands to the store.
type AuthenticateParams struct {
	UserID          string
	Avatar          string
	Account         string
	AccountType     AccountType
	AccessToken     string
	Permissions     Permissions
	SingleWorkspace string
	WebAuthn        *WebAuthn
}

// Store is the session and identity store backed by the cookie jar.
type Store struct {
	jar       *Jar
	sessionID string
	origin    string
	logger    *log.Entry
	now       func() time.Time

	mu    sync.Mutex
	hooks []func()
}

func NewStore(jar *Jar, sessionID, origin string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{
		jar:       jar,
		sessionID: sessionID,
		origin:    origin,
		logger:    logger.WithField("component", "session"),
		now:       time.Now,
	}
}

func (s *Store) Authenticate(p AuthenticateParams) error {
	perms, err := json.Marshal(p.Permissions)
	if err != nil {
		return errors.Wrap(err, "error encoding permissions")
	}
	values := map[CookieName]string{
		CookieAccessToken:     p.AccessToken,
		CookieAddress:         p.Account,
		CookieAvatar:          p.Avatar,
		CookieUserID:          p.UserID,
		CookieAccountType:     string(p.AccountType),
		CookieSingleWorkspace: p.SingleWorkspace,
		CookieWorkspace:       p.SingleWorkspace,
		CookiePermissions:     string(perms),
	}
	if p.WebAuthn != nil {
		values[CookieWebAuthnID] = p.WebAuthn.ID
		values[CookieWebAuthnPK] = p.WebAuthn.PublicKey
	}
	if err := s.jar.Set(values); err != nil {
		return errors.Wrap(err, "error storing session")
	}
	s.logger.WithField("account", p.Account).Info("authenticated")
	return nil
}

// Current rebuilds the session from the jar. A token past its exp claim
// ends the session.
func (s *Store) Current() (*Session, error) {
	token, ok := s.jar.Get(CookieAccessToken)
	if !ok || token == "" {
		return nil, ErrNoSession
	}
	if expired(token, s.now()) {
		s.logger.Info("access token expired")
		if err := s.jar.Remove(AuthCookies...); err != nil {
			s.logger.Warnf("error clearing expired session: %v", err)
		}
		s.runHooks()
		return nil, ErrExpired
	}

	get := func(n CookieName) string {
		v, _ := s.jar.Get(n)
		return v
	}
	sess := &Session{
		Account:         get(CookieAddress),
		AccessToken:     token,
		UserID:          get(CookieUserID),
		Avatar:          get(CookieAvatar),
		AccountType:     AccountType(get(CookieAccountType)),
		SingleWorkspace: get(CookieSingleWorkspace),
		WorkspaceID:     get(CookieWorkspace),
		SessionID:       s.sessionID,
		Origin:          s.origin,
	}
	if raw := get(CookiePermissions); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sess.Permissions); err != nil {
			return nil, errors.Wrap(err, "error decoding permissions cookie")
		}
	}
	if id := get(CookieWebAuthnID); id != "" {
		sess.WebAuthn = &WebAuthn{ID: id, PublicKey: get(CookieWebAuthnPK)}
	}
	return sess, nil
}

// expired reports whether token is a JWT whose exp is not after now. Opaque
// tokens are bounded by the cookie window only.
func expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}

// SwitchWorkspace moves the session to another workspace.
func (s *Store) SwitchWorkspace(workspaceID string, perms Permissions) error {
	if _, err := s.Current(); err != nil {
		return err
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return errors.Wrap(err, "error encoding permissions")
	}
	if err := s.jar.Set(map[CookieName]string{
		CookieWorkspace:   workspaceID,
		CookiePermissions: string(raw),
	}); err != nil {
		return errors.Wrap(err, "error storing workspace")
	}
	s.logger.WithField("workspace", workspaceID).Info("workspace switched")
	return nil
}

// OnLogout registers teardown run on logout or expiry, e.g. purging the
// query cache and closing the relay.
func (s *Store) OnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *Store) Logout() error {
	err := s.jar.Remove(AuthCookies...)
	s.runHooks()
	if err != nil {
		return errors.Wrap(err, "error clearing session")
	}
	s.logger.Info("logged out")
	return nil
}

func (s *Store) runHooks() {
	s.mu.Lock()
	hooks := append([]func(){}, s.hooks...)
	s.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}
