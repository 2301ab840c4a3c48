// Package metrics holds the prometheus collectors of the chat client.
// Each Metrics value registers on its own registerer so several clients (and
// tests) can coexist in one process.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	HTTPRequests   *prometheus.CounterVec
	Refreshes      *prometheus.CounterVec
	StreamConnects *prometheus.CounterVec
	StreamFrames   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termchat_http_requests_total",
				Help: "Physical HTTP requests sent by the session client.",
			},
			[]string{"method", "status"},
		),
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termchat_token_refreshes_total",
				Help: "Token refresh attempts by result.",
			},
			[]string{"result"},
		),
		StreamConnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termchat_stream_connects_total",
				Help: "Websocket connect attempts by result.",
			},
			[]string{"result"},
		),
		StreamFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termchat_stream_frames_total",
				Help: "Websocket frames by direction and kind.",
			},
			[]string{"direction", "kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.HTTPRequests, m.Refreshes, m.StreamConnects, m.StreamFrames)
	}
	return m
}

// NewUnregistered is for callers that never scrape.
func NewUnregistered() *Metrics {
	return New(nil)
}

func (m *Metrics) ObserveRequest(method string, status int) {
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveRefresh(result string) {
	m.Refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveConnect(result string) {
	m.StreamConnects.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveFrame(direction, kind string) {
	m.StreamFrames.WithLabelValues(direction, kind).Inc()
}
