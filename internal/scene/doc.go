// Package scene orchestrates tiled segmentation of one source image.
//
// A job opens the source, generates the tile grid, sizes a set of single-queue
// workers from the tile count and hands tiles out round-robin. Each tile is read,
// sent for inference and voted into the shared output raster.
package scene
