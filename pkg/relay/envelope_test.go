package relay_test

import (
	"encoding/json"

	"github.com/GwanWingYan/vaultsign/pkg/relay"
	"github.com/GwanWingYan/vaultsign/pkg/wallet"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Envelope", func() {
	Context("decoding", func() {
		It("decodes a transaction request into its typed payload", func() {
			raw := `{
				"username": "[CONNECTOR]",
				"room": "session-1",
				"to": "[UI]",
				"type": "[TX_EVENT_REQUESTED]",
				"request_id": "popup-1",
				"data": {
					"vault": {
						"name": "Treasury",
						"address": "fuel1vault",
						"description": "team funds",
						"provider": "https://testnet.fuel.network/v1/graphql",
						"pending_tx": false,
						"configurable": "{\"SIGNATURES_COUNT\":2}",
						"version": "0x1234"
					},
					"tx": {"type": 0, "gasLimit": "100"},
					"validAt": "2026-10-14T10:00:00Z"
				}
			}`

			var env relay.Envelope
			Expect(json.Unmarshal([]byte(raw), &env)).To(Succeed())
			Expect(env.Username).To(Equal(relay.RoleConnector))
			Expect(env.To).To(Equal(relay.RoleUI))
			Expect(env.Type).To(Equal(relay.EventTxRequest))
			Expect(env.RequestID).To(Equal("popup-1"))

			payload, ok := env.Data.(relay.TxRequestPayload)
			Expect(ok).To(BeTrue())
			Expect(payload.Vault.Name).To(Equal("Treasury"))
			Expect(payload.Vault.Provider).To(Equal("https://testnet.fuel.network/v1/graphql"))
			Expect(payload.Vault.PendingTx).To(BeFalse())
			Expect(payload.Vault.Version).To(Equal("0x1234"))
			Expect(payload.Tx).To(HaveKeyWithValue("gasLimit", "100"))
			Expect(payload.ValidAt).To(Equal("2026-10-14T10:00:00Z"))
		})

		It("accepts an empty data object for connection events", func() {
			var env relay.Envelope
			raw := `{"username":"[UI]","room":"s","to":"[CONNECTOR]","type":"[CONNECTED]","request_id":"r","data":{}}`
			Expect(json.Unmarshal([]byte(raw), &env)).To(Succeed())
			Expect(env.Data).To(Equal(relay.ConnectedPayload{}))
		})

		It("rejects unknown event types", func() {
			var env relay.Envelope
			raw := `{"to":"[UI]","type":"[SOMETHING_ELSE]","data":{}}`
			err := json.Unmarshal([]byte(raw), &env)
			Expect(err).To(MatchError(ContainSubstring(relay.ErrUnknownEvent.Error())))
		})
	})

	Context("encoding", func() {
		It("writes the wire field names", func() {
			env := relay.Envelope{
				Username:  relay.RoleUI,
				Room:      "session-1",
				To:        relay.RoleAPI,
				Type:      relay.EventTxConfirm,
				RequestID: "r-1",
				Data: relay.TxConfirmPayload{
					Operations: &wallet.Summary{Fee: "0.0001"},
					Tx:         wallet.TransactionRequest{"type": 0.0},
				},
			}
			raw, err := json.Marshal(env)
			Expect(err).NotTo(HaveOccurred())

			var fields map[string]interface{}
			Expect(json.Unmarshal(raw, &fields)).To(Succeed())
			Expect(fields).To(HaveKeyWithValue("username", "[UI]"))
			Expect(fields).To(HaveKeyWithValue("room", "session-1"))
			Expect(fields).To(HaveKeyWithValue("to", "[API]"))
			Expect(fields).To(HaveKeyWithValue("type", "[TX_EVENT_CONFIRMED]"))
			Expect(fields).To(HaveKeyWithValue("request_id", "r-1"))
			Expect(fields).To(HaveKey("data"))

			var back relay.Envelope
			Expect(json.Unmarshal(raw, &back)).To(Succeed())
			Expect(back.Data.(relay.TxConfirmPayload).Operations.Fee).To(Equal("0.0001"))
		})

		It("writes an empty object when there is no payload", func() {
			raw, err := json.Marshal(relay.Envelope{Type: relay.EventConnected})
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(ContainSubstring(`"data":{}`))
		})

		It("refuses a payload that belongs to another event", func() {
			_, err := json.Marshal(relay.Envelope{Type: relay.EventTxRequest, Data: relay.ConnectedPayload{}})
			Expect(err).To(HaveOccurred())
		})
	})
})
