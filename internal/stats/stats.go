package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const (
	ActiveConnections = "ActiveConnections"
	MessagesSent      = "MessagesSent"
	RoomsJoined       = "RoomsJoined"
	AuthFailures      = "AuthFailures"
)

// Metrics lists every counter the chat server reports.
var Metrics = []string{ActiveConnections, MessagesSent, RoomsJoined, AuthFailures}

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan metricsUpdateReq
	done       chan struct{}
	stopOnce   sync.Once
}

type metricsUpdateReq struct {
	name  string
	delta int64
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater publishes the pawchat counters and serves them on
// GET /debug/vars of mux.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:       expvar.NewMap("pawchat-stats"),
		updateChan: make(chan metricsUpdateReq, 512),
		done:       make(chan struct{}),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))

	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))

	return su
}

func (su *StatsUpdater) updateMetrics() {
	for {
		select {
		case req := <-su.updateChan:
			select {
			case <-su.done:
				return
			default:
			}
			su.vars.Add(req.name, req.delta)
		case <-su.done:
			return
		}
	}
}

func (su *StatsUpdater) send(name string, delta int64) {
	select {
	case <-su.done:
		return
	default:
	}

	select {
	case su.updateChan <- metricsUpdateReq{name: name, delta: delta}:
	case <-su.done:
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.send(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.send(name, -1)
}

// RegisterMetrics registers every name in Metrics.
func RegisterMetrics(sp StatsProvider) {
	for _, name := range Metrics {
		sp.RegisterMetric(name)
	}
}

// RegisterMetric publishes name with a zero value. Updates to names that were
// never registered create them on first use.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

// Stop ends the update loop. Updates sent afterwards are dropped.
func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() { close(su.done) })
}
