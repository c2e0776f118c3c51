// Package imaging provides raster access for the scene dispatcher: tile geometry,
// source rasters read tile by tile, and the label and vote-count rasters a job
// writes.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based with the origin at the
// top-left corner, X increasing rightward and Y increasing downward. Rectangles
// are half-open: Min is inclusive, Max is exclusive.
//
// # Tiles
//
// GenerateTiles lays a patchSize grid over an image with a given stride.
// A stride smaller than the patch size produces overlapping tiles. Edge tiles are
// clamped back inside the image rather than shrunk, so every tile has the full
// patch size.
//
// # Pixel Layout
//
// A Patch is 8-bit interleaved RGB, row-major (NHWC without the batch axis).
// Whatever pixel format the decoder produced is normalized to this layout.
//
// # Output Rasters
//
// LabelRaster holds one class label per pixel with a gray display palette and is
// the durable result of a job. CountRaster is scratch state: one int32 band per
// class, stored in a temporary file that is removed when the job ends.
//
// # Thread Safety
//
// Reader is safe for concurrent use. LabelRaster and CountRaster are not; callers
// must serialize access (the aggregate package does so with a single mutex).
package imaging
