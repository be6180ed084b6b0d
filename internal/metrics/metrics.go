package metrics

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rankvisor"

// Supervisor holds the supervisor's collectors. A nil *Supervisor is valid
// and records nothing.
type Supervisor struct {
	spawns        prometheus.Counter
	spawnFailures prometheus.Counter
	exits         *prometheus.CounterVec
	heartbeats    prometheus.Counter
	childUp       prometheus.Gauge
	commandSync   *prometheus.CounterVec
}

func NewSupervisor() *Supervisor {
	return &Supervisor{
		spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "spawns_total",
			Help: "Number of successful child spawns.",
		}),
		spawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "spawn_failures_total",
			Help: "Number of failed spawn or monitor attempts.",
		}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "exits_total",
			Help: "Number of child exits by exit code.",
		}, []string{"code"}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "heartbeats_total",
			Help: "Number of heartbeat lines emitted.",
		}),
		childUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "child_up",
			Help: "1 while a child process is running.",
		}),
		commandSync: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "command_sync_total",
			Help: "Command synchronization attempts by result.",
		}, []string{"result"}),
	}
}

func (m *Supervisor) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.spawns, m.spawnFailures, m.exits, m.heartbeats, m.childUp, m.commandSync}
}

func (m *Supervisor) IncSpawn() {
	if m != nil {
		m.spawns.Inc()
		m.childUp.Set(1)
	}
}

func (m *Supervisor) IncSpawnFailure() {
	if m != nil {
		m.spawnFailures.Inc()
	}
}

func (m *Supervisor) ObserveExit(code int) {
	if m != nil {
		m.exits.WithLabelValues(strconv.Itoa(code)).Inc()
		m.childUp.Set(0)
	}
}

func (m *Supervisor) IncHeartbeat() {
	if m != nil {
		m.heartbeats.Inc()
	}
}

func (m *Supervisor) ObserveCommandSync(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.commandSync.WithLabelValues(result).Inc()
}

// Bot counts verification and rank outcomes inside the worker.
type Bot struct {
	verifications *prometheus.CounterVec
	rankChanges   *prometheus.CounterVec
}

func NewBot() *Bot {
	return &Bot{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bot", Name: "verifications_total",
			Help: "Verification confirmations by result.",
		}, []string{"result"}),
		rankChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bot", Name: "rank_changes_total",
			Help: "Rank change requests by result.",
		}, []string{"result"}),
	}
}

func (b *Bot) collectors() []prometheus.Collector {
	return []prometheus.Collector{b.verifications, b.rankChanges}
}

func (b *Bot) Verification(result string) { b.verifications.WithLabelValues(result).Inc() }
func (b *Bot) RankChange(result string)   { b.rankChanges.WithLabelValues(result).Inc() }

type collectorSet interface{ collectors() []prometheus.Collector }

// Register registers every collector of each set with r. Collectors that
// are already registered are kept.
func Register(r prometheus.Registerer, sets ...collectorSet) error {
	for _, s := range sets {
		for _, c := range s.collectors() {
			if err := r.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if errors.As(err, &are) {
					continue
				}
				return err
			}
		}
	}
	return nil
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
