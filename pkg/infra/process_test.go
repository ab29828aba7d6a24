package infra_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/GwanWingYan/vaultsign/pkg/api"
	"github.com/GwanWingYan/vaultsign/pkg/cache"
	"github.com/GwanWingYan/vaultsign/pkg/infra"
	"github.com/GwanWingYan/vaultsign/pkg/session"
	"github.com/GwanWingYan/vaultsign/pkg/transaction"
	"github.com/gorilla/mux"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	log "github.com/sirupsen/logrus"
)

var _ = Describe("Runtime", func() {
	var (
		dir     string
		router  *mux.Router
		backend *httptest.Server
		config  infra.Config
		logger  *log.Logger
		auth    string
	)

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "runtime")
		Expect(err).NotTo(HaveOccurred())

		router = mux.NewRouter()
		router.HandleFunc("/transaction", func(w http.ResponseWriter, req *http.Request) {
			auth = req.Header.Get("Authorization")
			json.NewEncoder(w).Encode([]*transaction.Transaction{
				pendingTx("t1", 2),
				{ID: "t2", Name: "done", Status: transaction.StatusDone, RequiredSigners: 1},
			})
		}).Methods(http.MethodGet)
		backend = httptest.NewServer(router)

		logger = log.New()
		logger.SetOutput(ioutil.Discard)
		config = infra.Config{
			APIURL:           backend.URL,
			StatePath:        filepath.Join(dir, "state.json"),
			CookieExpiration: 60,
			CacheSize:        16,
			Networks: []session.Network{
				{Name: "Local", URL: "http://127.0.0.1:4000/v1/graphql", Identifier: session.NetworkDev},
			},
		}
	})

	AfterEach(func() {
		backend.Close()
		os.RemoveAll(dir)
	})

	It("clears identity bound state on logout", func() {
		rt, err := infra.NewRuntime(config, logger)
		Expect(err).NotTo(HaveOccurred())
		defer rt.Journal.Close()
		Expect(rt.Relay).To(BeNil())

		Expect(rt.Store.Authenticate(session.AuthenticateParams{Account: me, AccessToken: "opaque"})).To(Succeed())
		rt.Cache.Set(cache.Key("home", me), 1)
		rt.Lifecycle.Track(pendingTx("t1", 2))

		Expect(rt.Store.Logout()).To(Succeed())
		Expect(rt.Cache.Len()).To(BeZero())
		_, err = rt.Lifecycle.State("t1")
		Expect(err).To(MatchError(ContainSubstring("unknown transaction")))
	})

	It("prints the stored account's transactions", func() {
		rt, err := infra.NewRuntime(config, logger)
		Expect(err).NotTo(HaveOccurred())
		Expect(rt.Store.Authenticate(session.AuthenticateParams{Account: me, AccessToken: "opaque"})).To(Succeed())
		rt.Journal.Close()

		var out bytes.Buffer
		err = infra.PrintTransactions(config, logger, &out, []string{string(transaction.DisplayPendingForMe)})
		Expect(err).NotTo(HaveOccurred())
		Expect(auth).To(Equal("opaque"))
		Expect(out.String()).To(ContainSubstring("t1"))
		Expect(out.String()).To(ContainSubstring("1/2"))
		Expect(out.String()).To(ContainSubstring("PENDING_FOR_ME"))
		Expect(out.String()).NotTo(ContainSubstring("done"))
	})

	It("refuses to run without a session or account", func() {
		var out bytes.Buffer
		err := infra.PrintTransactions(config, logger, &out, nil)
		Expect(err).To(MatchError(ContainSubstring("no usable session")))
	})

	It("registers an account the backend does not know before signing it in", func() {
		var created api.CreateUserRequest
		router.HandleFunc("/auth/code/{address}", func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, "user not found", http.StatusNotFound)
		}).Methods(http.MethodPost)
		router.HandleFunc("/user", func(w http.ResponseWriter, req *http.Request) {
			Expect(json.NewDecoder(req.Body).Decode(&created)).To(Succeed())
			json.NewEncoder(w).Encode(session.SignInCode{ID: "c1", Code: "challenge", Type: session.AccountFuel})
		}).Methods(http.MethodPost)
		router.HandleFunc("/auth/sign-in", func(w http.ResponseWriter, req *http.Request) {
			var body session.SignInRequest
			Expect(json.NewDecoder(req.Body).Decode(&body)).To(Succeed())
			Expect(body.Digest).To(Equal("challenge"))
			Expect(body.Signature).To(Equal("signed:challenge"))
			json.NewEncoder(w).Encode(session.SignInResponse{AccessToken: "opaque", Address: me, UserID: "u9"})
		}).Methods(http.MethodPost)

		walletRouter := mux.NewRouter()
		walletRouter.HandleFunc("/sign-message", func(w http.ResponseWriter, req *http.Request) {
			var body map[string]string
			Expect(json.NewDecoder(req.Body).Decode(&body)).To(Succeed())
			json.NewEncoder(w).Encode(map[string]string{"signature": "signed:" + body["message"]})
		}).Methods(http.MethodPost)
		walletServer := httptest.NewServer(walletRouter)
		defer walletServer.Close()

		config.Account = me
		config.WalletURL = walletServer.URL
		rt, err := infra.NewRuntime(config, logger)
		Expect(err).NotTo(HaveOccurred())
		defer rt.Journal.Close()

		sess, err := rt.EnsureSession(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.Account).To(Equal(me))
		Expect(sess.UserID).To(Equal("u9"))
		Expect(created.Address).To(Equal(me))
		Expect(created.Type).To(Equal(session.AccountFuel))
		Expect(created.Provider).To(Equal("http://127.0.0.1:4000/v1/graphql"))
	})
})
