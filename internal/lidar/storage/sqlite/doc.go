// Package sqlite contains the SQLite repository for scan tracks.
//
// All database read/write operations for tracks and their per-frame
// observations belong here rather than in the layer packages (L2-L5).
// This keeps domain logic free of SQL noise. The schema is owned by the
// embedded migrations in migrations/.
package sqlite
