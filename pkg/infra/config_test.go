package infra_test

import (
	"io/ioutil"
	"os"
	"text/template"
	"time"

	"github.com/GwanWingYan/vaultsign/pkg/infra"
	"github.com/GwanWingYan/vaultsign/pkg/session"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func generateConfigFile(FileName string, values interface{}) {
	var Text = `# Endpoints
relayURL: {{.RelayURL}}
apiURL: https://api.vault.example
origin: https://dapp.example

sessionId: session-1
requestId: popup-1
account: 0xa11ce00000000000000000000000000000000000000000000000000000000001

listenAddress: 127.0.0.1:0
statePath: /tmp/vaultsign/state.json
cookieExpiration: 30
ackTimeout: 2s
reconnect:
  initialInterval: 100ms
  maxInterval: 1s
  maxAttempts: {{.MaxAttempts}}
  maxElapsed: 30s
networks:
  - name: Ignition
    url: https://mainnet.fuel.network/v1/graphql
    chainId: 9889
    identifier: mainnet
`
	tmpl, err := template.New("test").Parse(Text)
	if err != nil {
		panic(err)
	}
	file, err := os.OpenFile(FileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		panic(err)
	}
	defer file.Close()
	err = tmpl.Execute(file, values)
	if err != nil {
		panic(err)
	}
}

type configValues struct {
	RelayURL    string
	MaxAttempts int
}

var _ = Describe("Config", func() {

	Context("good", func() {
		It("successful loads", func() {
			f, _ := ioutil.TempFile("", "config-*.yaml")
			defer os.Remove(f.Name())

			generateConfigFile(f.Name(), configValues{"wss://relay.vault.example/socket", 5})

			c, err := infra.LoadConfigFromFile(f.Name())
			Expect(err).NotTo(HaveOccurred())
			Expect(c).To(Equal(infra.Config{
				RelayURL:         "wss://relay.vault.example/socket",
				APIURL:           "https://api.vault.example",
				Origin:           "https://dapp.example",
				SessionID:        "session-1",
				RequestID:        "popup-1",
				Account:          "0xa11ce00000000000000000000000000000000000000000000000000000000001",
				ListenAddress:    "127.0.0.1:0",
				StatePath:        "/tmp/vaultsign/state.json",
				CookieExpiration: 30,
				AckTimeout:       2 * time.Second,
				Reconnect: infra.Reconnect{
					InitialInterval: 100 * time.Millisecond,
					MaxInterval:     time.Second,
					MaxAttempts:     5,
					MaxElapsed:      30 * time.Second,
				},
				CacheSize: 512,
				CacheTTL:  30 * time.Second,
				Networks: []session.Network{
					{Name: "Ignition", URL: "https://mainnet.fuel.network/v1/graphql", ChainID: 9889, Identifier: session.NetworkMainnet},
				},
			}))
			Expect(c.CookieTTL()).To(Equal(30 * time.Minute))
		})

		It("lets the environment override the file", func() {
			f, _ := ioutil.TempFile("", "config-*.yaml")
			defer os.Remove(f.Name())
			generateConfigFile(f.Name(), configValues{"wss://relay.vault.example/socket", 5})

			os.Setenv("VAULTSIGN_RELAYURL", "ws://localhost:3001")
			os.Setenv("VAULTSIGN_RECONNECT_MAXATTEMPTS", "2")
			os.Setenv("VAULTSIGN_ACKTIMEOUT", "750ms")
			os.Setenv("VAULTSIGN_CACHETTL", "0s")
			defer os.Unsetenv("VAULTSIGN_RELAYURL")
			defer os.Unsetenv("VAULTSIGN_RECONNECT_MAXATTEMPTS")
			defer os.Unsetenv("VAULTSIGN_ACKTIMEOUT")
			defer os.Unsetenv("VAULTSIGN_CACHETTL")

			c, err := infra.LoadConfigFromFile(f.Name())
			Expect(err).NotTo(HaveOccurred())
			Expect(c.RelayURL).To(Equal("ws://localhost:3001"))
			Expect(c.Reconnect.MaxAttempts).To(Equal(2))
			Expect(c.AckTimeout).To(Equal(750 * time.Millisecond))
			Expect(c.CacheTTL).To(BeZero())
		})
	})

	Context("bad", func() {
		It("fails to load missing config file", func() {
			_, err := infra.LoadConfigFromFile("invalid_file")
			Expect(err).Should(MatchError(ContainSubstring("invalid_file")))
		})

		It("rejects a relay url that is not a websocket", func() {
			f, _ := ioutil.TempFile("", "config-*.yaml")
			defer os.Remove(f.Name())

			generateConfigFile(f.Name(), configValues{"https://relay.vault.example", 5})

			_, err := infra.LoadConfigFromFile(f.Name())
			Expect(err).Should(MatchError(ContainSubstring("relayURL")))
		})

		It("needs at least one connect attempt", func() {
			f, _ := ioutil.TempFile("", "config-*.yaml")
			defer os.Remove(f.Name())

			generateConfigFile(f.Name(), configValues{"wss://relay.vault.example/socket", 0})

			_, err := infra.LoadConfigFromFile(f.Name())
			Expect(err).Should(MatchError(ContainSubstring("reconnect.maxAttempts")))
		})

		It("rejects a negative query cache lifetime", func() {
			f, _ := ioutil.TempFile("", "config-*.yaml")
			defer os.Remove(f.Name())
			generateConfigFile(f.Name(), configValues{"wss://relay.vault.example/socket", 5})

			os.Setenv("VAULTSIGN_CACHETTL", "-1s")
			defer os.Unsetenv("VAULTSIGN_CACHETTL")

			_, err := infra.LoadConfigFromFile(f.Name())
			Expect(err).Should(MatchError(ContainSubstring("cacheTTL")))
		})
	})
})
