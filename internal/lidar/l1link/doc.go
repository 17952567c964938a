// Package l1link owns Layer 1 (Link) of the scan data model.
//
// Responsibilities: the SCIP 2.0 line protocol spoken by URG-series
// scanning rangefinders, the transports that carry it (USB serial, TCP,
// recorded replays and packet captures), and handing each decoded range
// frame to a FrameSink. This layer produces the raw range arrays consumed
// by L2 (Frames).
// Key types: Link, Response, Params, ReplayPort, PortOptions.
//
// Dependency rule: L1 has no inward dependencies on higher layers.
// No SQL/database code is allowed in this package.
package l1link
