// Package aggregate reassembles per-tile class masks into a single label raster.
//
// Overlapping tiles vote on the pixels they share. Votes are stored in a scratch
// count raster next to the output and removed when the Writer is closed.
package aggregate
