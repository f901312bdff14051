// Package logger builds *slog.Logger instances for the job services.
//
// New returns a logger configured through functional options: output format
// (json or text), level, static attributes and ContextExtractor callbacks that
// copy values out of context.Context into every record. Workers use the
// extractor hook to stamp job ids and queue names onto handler logs without
// threading a logger through every call.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Env, "jobsd"),
//	    logger.WithContextExtractors(queue.LogExtractor),
//	)
//	log.InfoContext(ctx, "worker started", logger.Queue("email"))
//
// Attribute helpers (JobID, Queue, JobType, Attempt, Error, ...) keep key
// names consistent across packages.
package logger
