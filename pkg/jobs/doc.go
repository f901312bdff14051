// Package jobs defines the marketplace queues on top of package queue: their
// names and retry policies, typed payloads, a Producer with one helper per
// job, the handlers that execute them and the recurring schedule.
//
// Delivery is at-least-once, so every handler side effect runs through an
// IdempotencyGuard keyed on business identifiers (payment id, purchase and
// referral id, file id and processing step...). A redelivered payload finds
// its key completed and becomes a no-op.
//
// Handlers drive external services through narrow interfaces
// (PaymentGateway, PurchaseStore, CommissionLedger, ReportBuilder,
// AnalyticsSink, FileProcessor). Handlers.Table only returns handlers for
// queues whose collaborators were supplied.
//
// Recurring defaults can be overridden from YAML:
//
//	recurring:
//	  - name: daily-reports
//	    cron: "30 5 * * *"
//	    recipients: [finance@example.com]
//	  - name: analytics-aggregation
//	    disabled: true
package jobs
