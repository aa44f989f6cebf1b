// Package metrics is a small facade over Prometheus for transport and session counters.
package metrics

// Value represents a metric value as a float64.
type Value float64

// Dimension represents metric dimensions as key-value pairs, exported as labels.
type Dimension map[string]string
