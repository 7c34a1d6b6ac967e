package storage

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/resource-store/interfaces"
)

// Metrics holds the Prometheus counters updated by policy stores.
// A nil *Metrics disables collection.
type Metrics struct {
	operations *prometheus.CounterVec // Operations by store type, operation and result
	retries    *prometheus.CounterVec // Retried attempts by store type and operation
}

// NewMetrics creates the store counters and registers them with reg.
// A nil registerer returns nil metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resourcestore",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of store operations by result",
		}, []string{"store_type", "operation", "result"}),

		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resourcestore",
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Total number of retried backend attempts",
		}, []string{"store_type", "operation"}),
	}

	var err error
	if m.operations, err = registerCounterVec(reg, m.operations); err != nil {
		return nil, err
	}
	if m.retries, err = registerCounterVec(reg, m.retries); err != nil {
		return nil, err
	}
	return m, nil
}

// registerCounterVec registers c, reusing the collector already registered
// under the same descriptor.
func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func (m *Metrics) observe(storeType interfaces.StoreType, op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(string(storeType), op, resultLabel(err)).Inc()
}

func (m *Metrics) retried(storeType interfaces.StoreType, op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(string(storeType), op).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch interfaces.CodeOf(err) {
	case interfaces.CodeResourceNotFound:
		return "not_found"
	case interfaces.CodeReadOnly:
		return "read_only"
	case interfaces.CodeInvalidArgument:
		return "invalid_argument"
	default:
		return "error"
	}
}
