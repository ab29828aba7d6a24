package session

import (
	"sync"
	"time"
)

type CookieName string

const (
	CookieAccessToken     CookieName = "bsafe/token"
	CookieAccountType     CookieName = "bsafe/account_type"
	CookieAddress         CookieName = "bsafe/address"
	CookieAvatar          CookieName = "bsafe/avatar"
	CookieUserID          CookieName = "bsafe/user_id"
	CookieSingleWorkspace CookieName = "bsafe/single_workspace"
	CookieSingleContacts  CookieName = "bsafe/single_contacts"
	CookieWorkspace       CookieName = "bsafe/workspace"
	CookiePermissions     CookieName = "bsafe/permissions"
	CookieWebAuthnID      CookieName = "bsafe/web_authn_id"
	CookieWebAuthnPK      CookieName = "bsafe/web_authn_pk"
)

// AuthCookies are removed together on logout.
var AuthCookies = []CookieName{
	CookieAccessToken,
	CookieAccountType,
	CookieAddress,
	CookieAvatar,
	CookieUserID,
	CookieSingleWorkspace,
	CookieSingleContacts,
	CookieWorkspace,
	CookiePermissions,
	CookieWebAuthnID,
	CookieWebAuthnPK,
}

type Cookie struct {
	Value   string    `json:"value"`
	Expires time.Time `json:"expires"`
}

// CookieStore persists cookies between runs.
type CookieStore interface {
	LoadCookies() (map[CookieName]Cookie, error)
	SaveCookies(map[CookieName]Cookie) error
}

// Jar keeps short-lived cookies. Every Set stamps the batch with the same
// expiry, now plus the configured window.
type Jar struct {
	mu      sync.Mutex
	cookies map[CookieName]Cookie
	ttl     time.Duration
	now     func() time.Time
	store   CookieStore
}

// NewJar loads persisted cookies from store when one is given.
func NewJar(ttl time.Duration, store CookieStore) (*Jar, error) {
	j := &Jar{
		cookies: make(map[CookieName]Cookie),
		ttl:     ttl,
		now:     time.Now,
		store:   store,
	}
	if store != nil {
		loaded, err := store.LoadCookies()
		if err != nil {
			return nil, err
		}
		for k, v := range loaded {
			j.cookies[k] = v
		}
	}
	return j, nil
}

func (j *Jar) Set(values map[CookieName]string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	expires := j.now().Add(j.ttl)
	for name, v := range values {
		j.cookies[name] = Cookie{Value: v, Expires: expires}
	}
	return j.persist()
}

// Get returns the cookie value unless it is missing or expired.
func (j *Jar) Get(name CookieName) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	c, ok := j.cookies[name]
	if !ok {
		return "", false
	}
	if !j.now().Before(c.Expires) {
		delete(j.cookies, name)
		return "", false
	}
	return c.Value, true
}

func (j *Jar) Remove(names ...CookieName) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, n := range names {
		delete(j.cookies, n)
	}
	return j.persist()
}

func (j *Jar) persist() error {
	if j.store == nil {
		return nil
	}
	snapshot := make(map[CookieName]Cookie, len(j.cookies))
	for k, v := range j.cookies {
		snapshot[k] = v
	}
	return j.store.SaveCookies(snapshot)
}
