package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/config"
)

// Provider represents a telemetry provider handle. A nil Provider is
// valid and records nothing, so components accept it optionally.
type Provider struct {
	refreshTotal    *prometheus.CounterVec
	reconnectsTotal prometheus.Counter
	eventsTotal     *prometheus.CounterVec
	droppedTotal    *prometheus.CounterVec
	gatewayTotal    *prometheus.CounterVec
}

// Attach registers the agent's metrics and returns a provider handle.
func Attach(cfg *config.AppConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	return &Provider{
		refreshTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdms",
			Name:      "token_refresh_total",
			Help:      "Total number of silent refresh exchanges by result",
		}, []string{"result"}),
		reconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pdms",
			Name:      "channel_reconnects_total",
			Help:      "Total number of realtime channel reconnect attempts",
		}),
		eventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdms",
			Name:      "channel_events_total",
			Help:      "Total number of realtime events delivered to listeners",
		}, []string{"topic"}),
		droppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdms",
			Name:      "channel_dropped_messages_total",
			Help:      "Total number of malformed realtime payloads dropped",
		}, []string{"topic"}),
		gatewayTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdms",
			Name:      "gateway_requests_total",
			Help:      "Total number of gateway requests by HTTP status",
		}, []string{"status"}),
	}, nil
}

// ObserveRefresh records the outcome of a silent refresh exchange.
func (p *Provider) ObserveRefresh(success bool) {
	if p == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	p.refreshTotal.WithLabelValues(result).Inc()
}

// IncReconnect records a channel reconnect attempt.
func (p *Provider) IncReconnect() {
	if p == nil {
		return
	}
	p.reconnectsTotal.Inc()
}

// IncEvent records a delivered realtime event.
func (p *Provider) IncEvent(topic string) {
	if p == nil {
		return
	}
	p.eventsTotal.WithLabelValues(topic).Inc()
}

// IncDropped records a malformed realtime payload.
func (p *Provider) IncDropped(topic string) {
	if p == nil {
		return
	}
	p.droppedTotal.WithLabelValues(topic).Inc()
}

// ObserveGatewayRequest records a gateway outcome: a numeric HTTP
// status, "timeout", or "transport_error".
func (p *Provider) ObserveGatewayRequest(outcome string) {
	if p == nil {
		return
	}
	p.gatewayTotal.WithLabelValues(outcome).Inc()
}
