// Package dataframe normalizes heterogeneous query response shapes into the
// canonical columnar models.Frame and back.
//
// Supported inputs are time series ({target, datapoints}), tables
// ({columns, rows}), JSON document sets and explicit columnar DTOs, either as
// typed values from pkg/models or as untyped trees decoded from JSON or
// MessagePack. Every function in this package is synchronous, performs no I/O
// and never mutates its input, so it is safe for concurrent use.
package dataframe
