package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Idempotency and dedupe keys, derived from business identifiers so a
// redelivered payload maps to the same key.

func fileKey(p FilePayload) string {
	return join("file", p.FileID, p.ProcessingType)
}

func eventKey(e AnalyticsEvent) string {
	return join("event", e.ID)
}

func aggregateKey(a AnalyticsAggregate) string {
	return join("analytics", a.Hour.UTC().Truncate(time.Hour).Format(time.RFC3339))
}

func paymentKey(p PaymentRetryPayload) string {
	return join("payment", p.PaymentID)
}

func commissionKey(p CommissionPayload) string {
	return join("commission", p.PurchaseID, p.ReferralID)
}

func reportKey(p ReportPayload) string {
	if p.Daily() {
		return join("report", "daily", p.ReportType, p.Format, p.Date)
	}
	return join("report", "weekly", p.ReportType, p.Format, p.WeekStart, p.WeekEnd)
}

// emailKey uses the caller's key when given and a content hash otherwise, so
// identical messages within the guard's retention collapse into one send.
func emailKey(p EmailPayload) string {
	if p.IdempotencyKey != "" {
		return join("email", p.IdempotencyKey)
	}
	p.Priority = ""
	raw, _ := json.Marshal(p)
	sum := sha256.Sum256(raw)
	return join("email", hex.EncodeToString(sum[:]))
}

func join(parts ...string) string {
	return strings.Join(parts, ":")
}
