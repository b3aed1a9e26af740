package alarm

import (
	"encoding/json"
	"sync"

	"codeberg.org/mutker/h2station/internal/broker"
)

// CategoryAlarms is the only category the mechanisms emit.
const CategoryAlarms = "alarms"

type Alert struct {
	Code      string `json:"code"`
	Desc      string `json:"desc"`
	Advice    string `json:"advice"`
	StartTime string `json:"startTime"`
}

// Scope is the (unit, mechanism) pair alerts are published under.
type Scope struct {
	Unit      string
	Mechanism Mechanism
}

func (s Scope) Topic() string {
	return broker.MechanismTopic(s.Unit, s.Mechanism.String())
}

// Accumulator collects the alerts of one scope and cycle.
type Accumulator struct {
	mu     sync.Mutex
	alerts map[string][]Alert
}

func NewAccumulator() *Accumulator {
	return &Accumulator{alerts: make(map[string][]Alert)}
}

func (a *Accumulator) Add(category string, alert Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts[category] = append(a.alerts[category], alert)
}

// Len returns the number of alerts across categories.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, alerts := range a.alerts {
		n += len(alerts)
	}
	return n
}

func (a *Accumulator) Alerts(category string) []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Alert(nil), a.alerts[category]...)
}

// Marshal renders {"<category>": [alerts...], ...}.
func (a *Accumulator) Marshal() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return json.Marshal(a.alerts)
}

func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.alerts)
}
