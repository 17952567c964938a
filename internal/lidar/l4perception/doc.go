// Package l4perception owns Layer 4 (Perception) of the scan data model.
//
// Responsibilities: grouping conditioned ranges that fall inside the
// field of view into contiguous detections, dropping undersized runs as
// noise, and estimating a representative position (and optional size)
// per detection.
// Key types: RawDetection, Detection, Clusterer, Estimator.
//
// Dependency rule: L4 may depend on L1-L3, but never on L5+.
// No SQL/database code is allowed in this package.
package l4perception
