// Package inference sends image tiles to a remote segmentation model and returns
// per-pixel class masks.
//
// The endpoint speaks the KServe v2 inference protocol over HTTP (as served by
// Triton and PyTriton). Each request carries one tile as a UINT8 tensor named
// "images" with shape [1, height, width, 3]; the model answers with a UINT8 tensor
// named "masks" holding one class label per pixel.
//
// # Retries
//
// The remote model is expected to be briefly unavailable at times (restarts,
// GPU contention, queue overflow), so Client.Infer retries transport errors and
// non-2xx replies a fixed number of times with a fixed delay. Contract violations
// (empty input, wrong mask size, malformed reply) fail immediately.
//
// # Errors
//
//   - ErrEmptyInput: the patch had no pixels
//   - ErrMaskSizeMismatch: the mask is not one byte per pixel
//   - ErrMalformedResponse: the reply could not be decoded
//   - ErrInferenceExhausted: every attempt failed (*ExhaustedError has the last error)
package inference
