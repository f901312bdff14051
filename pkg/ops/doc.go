// Package ops exposes the operator HTTP surface of the job runner: queue
// statistics, the dead-letter archive with manual replay, recurring job
// schedules and health checks.
//
//	router := ops.NewRouter(
//	    ops.WithStats(collector),
//	    ops.WithDeadLetters(store, registry),
//	    ops.WithSchedules(scheduler),
//	    ops.WithChecks(httpserver.Check{Name: "redis", Func: redis.Healthcheck(client)}),
//	    ops.WithLogger(log),
//	)
//	g.Go(server.Serve(ctx, router))
//
// Routes:
//
//	GET  /healthz                      liveness
//	GET  /readyz                       readiness, 503 when a check fails
//	GET  /stats                        latest queue snapshot (?fresh=true collects now)
//	GET  /dead-letters                 ?queue= &since=RFC3339 &limit= &offset=
//	GET  /dead-letters/{id}
//	POST /dead-letters/{id}/replay     ?force=true replays an already replayed record
//	GET  /schedules                    recurring jobs with their state and next run
//	POST /schedules/{key}/fire         enqueue a recurring job now
//
// JSON answers use the handler package envelope: {"data": ..., "meta": ...}
// on success and {"error": {"code": ..., "message": ...}} on failure.
package ops
