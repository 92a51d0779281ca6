// Package engine ties the manifest evaluator, the resolver tree, the
// scheduler, and the checkout registry together. It builds the solution roots
// from a spec, expands each node's manifest once its checkout finishes, and
// persists a snapshot of every run.
package engine
