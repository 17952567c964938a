// Package pipeline provides the per-frame scan tracking pipeline that
// orchestrates processing stages from L2 Frames through L5 Tracks.
//
// This package is the composition root: it imports from layer packages
// (l2frames, l3condition, l4perception, l5tracks) and calls adapter sinks
// (persistence, publish) through interfaces, but none of those packages
// import pipeline/.
package pipeline
