// Package l5tracks owns Layer 5 (Tracks) of the scan data model.
//
// Responsibilities: linking per-frame detections into persistent objects
// by greedy nearest-neighbour association, critically-damped position
// smoothing, track lifecycle (birth, aging, removal), and synchronous
// created/lost notifications to subscribed listeners.
// Key types: Tracker, TrackedObject, Event, Listener.
//
// Dependency rule: L5 may depend on L1-L4, but never on L6 or pipeline.
// No SQL/database code is allowed in this package.
package l5tracks
