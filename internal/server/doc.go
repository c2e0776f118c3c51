// Package server implements the HTTP front door of the scene dispatcher.
//
// # Endpoints
//
//   - POST /segment: segment image_path into output_path (query or form parameters)
//   - GET /healthz: liveness, always "ok"
//   - GET /status: running and queued job counts as JSON
//
// # Admission
//
// At most MaxConcurrentJobs segment jobs run at once. Further requests wait at the
// Gate, in no particular order, until a slot frees. They are never rejected.
//
// # Error Handling
//
// A failed job answers with the error text as text/plain and a status chosen by
// the kind of failure:
//   - 400: a required parameter is missing
//   - 422: the source cannot be read or the tile geometry does not fit it
//   - 502: the inference endpoint kept failing until retries ran out
//   - 500: anything else
//
// # Usage
//
//	inf := scene.NewInferencer(cfg.Scene())
//	srv := server.New(inf, server.Options{Port: 8080, MaxConcurrentJobs: 8})
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
