// Package pipeline runs a whole enrichment analysis: split the segmentation
// into labels, optionally build the up/down-regulated annotation sets, run
// the engine per label (and direction), and fold the results into matrices.
//
// The label set returned by the split drives every later stage, and every
// result carries its own key into the aggregation.
package pipeline
