// Package l2frames owns Layer 2 (Frames) of the scan data model.
//
// Responsibilities: the range frame produced by a single sensor sweep,
// the per-step direction and field-of-view constraint tables derived
// from sensor geometry, and the buffer that hands frames from the sensor
// link to the processing loop.
// Key types: ScanFrame, DirectionTable, ConstraintTable, Geometry, ScanBuffer.
//
// Dependency rule: L2 may depend on L1 types, but never on L3+.
// No SQL/database code is allowed in this package.
package l2frames
