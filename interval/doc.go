// Package interval provides a genomic interval index with
// overlap-fraction filtering. Intervals are closed, 1-based
// [low, high] ranges keyed to arbitrary payloads; lookups report every
// stored interval that overlaps a query window by at least a
// configurable fraction of the stored interval, of the query, or of
// either. The balanced structure underneath is biogo/store's interval
// tree.
package interval
