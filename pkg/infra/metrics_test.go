package infra_test

import (
	"github.com/GwanWingYan/vaultsign/pkg/infra"
	"github.com/GwanWingYan/vaultsign/pkg/relay"
	"github.com/GwanWingYan/vaultsign/pkg/transaction"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	dto "github.com/prometheus/client_model/go"
)

var (
	_ relay.Recorder       = (*infra.Metrics)(nil)
	_ transaction.Recorder = (*infra.Metrics)(nil)
)

var _ = Describe("Metrics", func() {
	gather := func(m *infra.Metrics) map[string]*dto.MetricFamily {
		families, err := m.Registry().Gather()
		Expect(err).NotTo(HaveOccurred())
		res := make(map[string]*dto.MetricFamily)
		for _, f := range families {
			res[f.GetName()] = f
		}
		return res
	}

	It("counts relay and execution activity", func() {
		m := infra.NewMetrics()
		m.ConnectAttempt()
		m.ConnectAttempt()
		m.Reconnect()
		m.Event(relay.EventTxRequest)
		m.Execution(transaction.OutcomeReclassified)
		m.InFlight(3)

		f := gather(m)
		Expect(f["vaultsign_relay_connect_attempts_total"].GetMetric()[0].GetCounter().GetValue()).To(Equal(2.0))
		Expect(f["vaultsign_relay_reconnects_total"].GetMetric()[0].GetCounter().GetValue()).To(Equal(1.0))

		events := f["vaultsign_relay_events_total"].GetMetric()
		Expect(events).To(HaveLen(1))
		Expect(events[0].GetLabel()[0].GetValue()).To(Equal(string(relay.EventTxRequest)))

		executions := f["vaultsign_tx_executions_total"].GetMetric()
		Expect(executions[0].GetLabel()[0].GetValue()).To(Equal("reclassified"))
		Expect(f["vaultsign_tx_inflight"].GetMetric()[0].GetGauge().GetValue()).To(Equal(3.0))
	})
})
