package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics aggregates the prometheus collectors shared by the supply
// ledger, the asset pool and the bridge transports.
type VaultMetrics struct {
	deposits         *prometheus.CounterVec
	redeemRequests   *prometheus.CounterVec
	redeemSettled    prometheus.Counter
	yieldDistributed prometheus.Counter
	sharesSupply     prometheus.Gauge
	poolValue        prometheus.Gauge
	bridgeMessages   *prometheus.CounterVec
	bridgeFailures   *prometheus.CounterVec
}

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

// Vault returns the process-wide vault metric set, registering the collectors
// on first use.
func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_deposits_total",
				Help: "Count of processed deposits by token.",
			}, []string{"token"}),
			redeemRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_redeem_requests_total",
				Help: "Count of redemption requests by token.",
			}, []string{"token"}),
			redeemSettled: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "vault_redeem_settled_total",
				Help: "Count of settled redemption batches.",
			}),
			yieldDistributed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "vault_yield_distributions_total",
				Help: "Count of executed yield distributions.",
			}),
			sharesSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "vault_total_shares_supply",
				Help: "Current total shares outstanding across all chains.",
			}),
			poolValue: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "vault_pool_value",
				Help: "Current pool TVL in canonical units.",
			}),
			bridgeMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_bridge_messages_total",
				Help: "Count of cross-chain messages sent by type and path.",
			}, []string{"type", "path"}),
			bridgeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_bridge_failures_total",
				Help: "Count of failed cross-chain sends by type and path.",
			}, []string{"type", "path"}),
		}
		prometheus.MustRegister(
			vaultRegistry.deposits,
			vaultRegistry.redeemRequests,
			vaultRegistry.redeemSettled,
			vaultRegistry.yieldDistributed,
			vaultRegistry.sharesSupply,
			vaultRegistry.poolValue,
			vaultRegistry.bridgeMessages,
			vaultRegistry.bridgeFailures,
		)
	})
	return vaultRegistry
}

// ObserveDeposit increments the deposit counter for the supplied token label.
func (m *VaultMetrics) ObserveDeposit(token string) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(token).Inc()
}

// ObserveRedeemRequest increments the redemption request counter.
func (m *VaultMetrics) ObserveRedeemRequest(token string) {
	if m == nil {
		return
	}
	m.redeemRequests.WithLabelValues(token).Inc()
}

// ObserveRedeemSettled increments the settled batch counter.
func (m *VaultMetrics) ObserveRedeemSettled() {
	if m == nil {
		return
	}
	m.redeemSettled.Inc()
}

// ObserveDistribution increments the yield distribution counter.
func (m *VaultMetrics) ObserveDistribution() {
	if m == nil {
		return
	}
	m.yieldDistributed.Inc()
}

// SetLedger records the current share supply and pool value gauges.
func (m *VaultMetrics) SetLedger(shares, poolValue float64) {
	if m == nil {
		return
	}
	m.sharesSupply.Set(shares)
	m.poolValue.Set(poolValue)
}

// ObserveBridgeSend counts an outbound message on the given path.
func (m *VaultMetrics) ObserveBridgeSend(msgType, path string) {
	if m == nil {
		return
	}
	m.bridgeMessages.WithLabelValues(msgType, path).Inc()
}

// ObserveBridgeFailure counts a failed outbound message on the given path.
func (m *VaultMetrics) ObserveBridgeFailure(msgType, path string) {
	if m == nil {
		return
	}
	m.bridgeFailures.WithLabelValues(msgType, path).Inc()
}
