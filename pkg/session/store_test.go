package session_test

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/GwanWingYan/vaultsign/pkg/session"
	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(ioutil.Discard)
	return logger
}

func token(exp time.Time) string {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "exp": exp.Unix()})
	s, err := t.SignedString([]byte("test"))
	Expect(err).NotTo(HaveOccurred())
	return s
}

const account = "0xa11ce00000000000000000000000000000000000000000000000000000000001"

var _ = Describe("Store", func() {
	var (
		jar   *session.Jar
		store *session.Store
	)

	params := func(tok string) session.AuthenticateParams {
		return session.AuthenticateParams{
			UserID:          "u1",
			Avatar:          "https://avatar.example/1.png",
			Account:         account,
			AccountType:     session.AccountFuel,
			AccessToken:     tok,
			Permissions:     session.Permissions{"ws-1": {"OWNER"}},
			SingleWorkspace: "ws-1",
		}
	}

	BeforeEach(func() {
		var err error
		jar, err = session.NewJar(time.Hour, nil)
		Expect(err).NotTo(HaveOccurred())
		store = session.NewStore(jar, "session-1", "https://dapp.example", quietLogger())
	})

	It("has no session before authentication", func() {
		_, err := store.Current()
		Expect(err).To(MatchError(session.ErrNoSession))
	})

	It("rebuilds the session from cookies", func() {
		Expect(store.Authenticate(params(token(time.Now().Add(time.Hour))))).To(Succeed())

		sess, err := store.Current()
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.Account).To(Equal(account))
		Expect(sess.WorkspaceID).To(Equal("ws-1"))
		Expect(sess.Permissions).To(Equal(session.Permissions{"ws-1": {"OWNER"}}))
		Expect(sess.SessionID).To(Equal("session-1"))
		Expect(sess.Origin).To(Equal("https://dapp.example"))
		Expect(sess.WebAuthn).To(BeNil())
	})

	It("switches workspace without touching the identity", func() {
		Expect(store.Authenticate(params("opaque-token"))).To(Succeed())
		Expect(store.SwitchWorkspace("ws-2", session.Permissions{"ws-2": {"VIEWER"}})).To(Succeed())

		sess, err := store.Current()
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.WorkspaceID).To(Equal("ws-2"))
		Expect(sess.SingleWorkspace).To(Equal("ws-1"))
		Expect(sess.Account).To(Equal(account))
	})

	It("expires with the token and runs the teardown hooks", func() {
		var torndown int
		store.OnLogout(func() { torndown++ })
		Expect(store.Authenticate(params(token(time.Now().Add(-time.Minute))))).To(Succeed())

		_, err := store.Current()
		Expect(err).To(MatchError(session.ErrExpired))
		Expect(torndown).To(Equal(1))

		_, err = store.Current()
		Expect(err).To(MatchError(session.ErrNoSession))
	})

	It("expires with the cookie window", func() {
		short, err := session.NewJar(20*time.Millisecond, nil)
		Expect(err).NotTo(HaveOccurred())
		s := session.NewStore(short, "", "", quietLogger())
		Expect(s.Authenticate(params("opaque-token"))).To(Succeed())

		Eventually(func() error {
			_, err := s.Current()
			return err
		}).Should(MatchError(session.ErrNoSession))
	})

	It("clears cookies and tears down on logout", func() {
		var torndown int
		store.OnLogout(func() { torndown++ })
		Expect(store.Authenticate(params("opaque-token"))).To(Succeed())

		Expect(store.Logout()).To(Succeed())
		Expect(torndown).To(Equal(1))
		for _, name := range session.AuthCookies {
			_, ok := jar.Get(name)
			Expect(ok).To(BeFalse(), string(name))
		}
	})

	It("persists cookies through the file storage", func() {
		dir, err := ioutil.TempDir("", "vaultsign-cookies")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "state.json")

		fs, err := session.OpenFileStorage(path, nil)
		Expect(err).NotTo(HaveOccurred())
		j, err := session.NewJar(time.Hour, fs)
		Expect(err).NotTo(HaveOccurred())
		Expect(session.NewStore(j, "", "", quietLogger()).Authenticate(params("opaque-token"))).To(Succeed())

		fs, err = session.OpenFileStorage(path, nil)
		Expect(err).NotTo(HaveOccurred())
		j, err = session.NewJar(time.Hour, fs)
		Expect(err).NotTo(HaveOccurred())
		sess, err := session.NewStore(j, "", "", quietLogger()).Current()
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.AccessToken).To(Equal("opaque-token"))
	})
})

type fakeAuthService struct {
	code    string
	signIns []session.SignInRequest
	err     error
}

func (f *fakeAuthService) GenerateSignInCode(_ context.Context, address string) (*session.SignInCode, error) {
	return &session.SignInCode{ID: "c1", Code: f.code, Type: session.AccountFuel}, nil
}

func (f *fakeAuthService) SignIn(_ context.Context, req session.SignInRequest) (*session.SignInResponse, error) {
	f.signIns = append(f.signIns, req)
	if f.err != nil {
		return nil, f.err
	}
	return &session.SignInResponse{
		AccessToken: "opaque-token",
		Address:     account,
		UserID:      "u1",
		Workspace:   session.Workspace{ID: "ws-1", Single: true, Permissions: session.Permissions{"ws-1": {"OWNER"}}},
	}, nil
}

type fakeMessageSigner struct{ err error }

func (f fakeMessageSigner) SignMessage(_ context.Context, account, message string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "sig(" + message + ")", nil
}

var _ = Describe("Authenticator", func() {
	var (
		service *fakeAuthService
		store   *session.Store
	)

	BeforeEach(func() {
		service = &fakeAuthService{code: "challenge-1"}
		jar, err := session.NewJar(time.Hour, nil)
		Expect(err).NotTo(HaveOccurred())
		store = session.NewStore(jar, "", "", quietLogger())
	})

	It("exchanges a signed challenge for a session", func() {
		a := &session.Authenticator{Service: service, Signer: fakeMessageSigner{}, Store: store}
		sess, err := a.SignIn(context.Background(), account, session.EncoderFuel)
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.Account).To(Equal(account))
		Expect(sess.WorkspaceID).To(Equal("ws-1"))
		Expect(service.signIns).To(Equal([]session.SignInRequest{
			{Encoder: session.EncoderFuel, Signature: "sig(challenge-1)", Digest: "challenge-1"},
		}))
	})

	It("stores nothing when the backend rejects the signature", func() {
		service.err = errors.Wrap(session.ErrInvalidSignature, "status 401")
		a := &session.Authenticator{Service: service, Signer: fakeMessageSigner{}, Store: store}
		_, err := a.SignIn(context.Background(), account, session.EncoderFuel)
		Expect(err).To(MatchError(session.ErrInvalidSignature))
		_, err = store.Current()
		Expect(err).To(MatchError(session.ErrNoSession))
	})

	It("stops when the wallet refuses to sign", func() {
		a := &session.Authenticator{Service: service, Signer: fakeMessageSigner{err: errors.New("rejected")}, Store: store}
		_, err := a.SignIn(context.Background(), account, session.EncoderMetamask)
		Expect(err).To(MatchError(ContainSubstring("rejected")))
		Expect(service.signIns).To(BeEmpty())
	})
})
