package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rule parsing and evaluation metrics.
//
// Result labels:
//   - parse: "ok" or the error kind ("unbalanced_parentheses", "incomplete_expression", ...)
//   - evaluate: "true", "false", or "error"

var (
	// RulesParsed counts rule texts run through the parser.
	RulesParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ruleengine",
			Name:      "rules_parsed_total",
			Help:      "Total number of rule expressions parsed",
		},
		[]string{"result"},
	)

	// RuleEvaluations counts tree evaluations by outcome.
	RuleEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ruleengine",
			Name:      "rule_evaluations_total",
			Help:      "Total number of rule evaluations",
		},
		[]string{"result"},
	)

	// RuleEvaluationDuration measures evaluation time.
	// Buckets run from 1μs to 10ms; trees are small and evaluation is in-memory.
	RuleEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ruleengine",
			Name:      "rule_evaluation_duration_seconds",
			Help:      "Time spent evaluating rule trees",
			Buckets: []float64{
				0.000001,
				0.000005,
				0.00001,
				0.00005,
				0.0001,
				0.0005,
				0.001,
				0.01,
			},
		},
	)

	// RuleTreeSize tracks the node count of parsed trees.
	RuleTreeSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ruleengine",
			Name:      "rule_tree_nodes",
			Help:      "Number of nodes in parsed rule trees",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)
