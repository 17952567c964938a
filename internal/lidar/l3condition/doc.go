// Package l3condition owns Layer 3 (Conditioning) of the scan data model.
//
// Responsibilities: clamping raw ranges to the field-of-view constraint so
// that "too far" and "no echo" both read as background, plus optional
// spatial (moving average) and temporal (exponential) smoothing.
// Key types: Conditioner, ConditionerConfig.
//
// Dependency rule: L3 may depend on L1-L2, but never on L4+.
// No SQL/database code is allowed in this package.
package l3condition
