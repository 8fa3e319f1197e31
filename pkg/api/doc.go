// Package api serves runs over HTTP.
//
// Routes:
//
//	POST /runs             start a run from a workspace.Selection (?wait=true blocks until done)
//	GET  /runs             list runs (?status=, ?resource=, ?limit=, ?offset=)
//	GET  /runs/{id}        run report (?format=json|yaml|text)
//	GET  /runs/{id}/wait   run report once the run has completed (?timeout=)
//	GET  /metrics          Prometheus metrics, when configured
//	GET  /healthz          liveness and store health
//
// Errors are JSON bodies carrying the engine error code. Policy denials are
// reported as 403, unknown runs, environments or documents as 404 and
// invalid requests as 422.
package api
