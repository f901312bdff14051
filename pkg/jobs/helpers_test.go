package jobs_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/marketjobs/pkg/email"
	"github.com/dmitrymomot/marketjobs/pkg/jobs"
	"github.com/dmitrymomot/marketjobs/pkg/logger"
	"github.com/dmitrymomot/marketjobs/pkg/queue"
	"github.com/dmitrymomot/marketjobs/pkg/storage"
)

var testEpoch = time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Count(msg string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.buf.String(), `"msg":"`+msg+`"`)
}

func newMarketRegistry(t *testing.T, clock *fakeClock, log *slog.Logger) (*queue.Registry, *queue.MemoryBroker) {
	t.Helper()

	broker := queue.NewMemoryBroker(queue.WithMemoryClock(clock.Now))
	reg, err := queue.NewRegistry(broker, queue.WithRegistryClock(clock.Now), queue.WithRegistryLogger(log))
	require.NoError(t, err)
	require.NoError(t, reg.Register(jobs.Definitions()...))
	t.Cleanup(func() { _ = reg.Close() })
	return reg, broker
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return logger.New(logger.WithOutput(buf), logger.WithFormat(logger.FormatJSON), logger.WithLevel(slog.LevelDebug)), buf
}

// recordingSender stores sent messages and can fail a number of sends first.
type recordingSender struct {
	mu       sync.Mutex
	sent     []email.Message
	failures map[string]int
	hangs    map[string]chan struct{}
	release  chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		failures: make(map[string]int),
		hangs:    make(map[string]chan struct{}),
		release:  make(chan struct{}),
	}
}

// HangNext makes the next send to `to` block until the test ends, as if the
// process died mid-send. The returned channel closes once that send starts.
func (s *recordingSender) HangNext(t *testing.T, to string) <-chan struct{} {
	started := make(chan struct{})
	s.mu.Lock()
	s.hangs[to] = started
	s.mu.Unlock()
	t.Cleanup(func() { close(s.release) })
	return started
}

func (s *recordingSender) FailNext(to string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[to] = n
}

func (s *recordingSender) Send(ctx context.Context, msg email.Message) error {
	s.mu.Lock()
	if started, ok := s.hangs[msg.To]; ok {
		delete(s.hangs, msg.To)
		s.mu.Unlock()
		close(started)
		<-s.release
		return errors.New("sender crashed")
	}
	defer s.mu.Unlock()
	if s.failures[msg.To] > 0 {
		s.failures[msg.To]--
		return email.ErrFailedToSendEmail
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) Sent() []email.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]email.Message(nil), s.sent...)
}

func (s *recordingSender) SentTo(to string) int {
	n := 0
	for _, m := range s.Sent() {
		if m.To == to {
			n++
		}
	}
	return n
}

type MockPaymentGateway struct{ mock.Mock }

func (m *MockPaymentGateway) Retry(ctx context.Context, p jobs.PaymentRetryPayload) (jobs.PaymentResult, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(jobs.PaymentResult), args.Error(1)
}

type MockPurchaseStore struct{ mock.Mock }

func (m *MockPurchaseStore) GrantAccess(ctx context.Context, userID, productID, paymentID string) error {
	return m.Called(ctx, userID, productID, paymentID).Error(0)
}

type MockCommissionLedger struct{ mock.Mock }

func (m *MockCommissionLedger) Credit(ctx context.Context, c jobs.CommissionPayload) error {
	return m.Called(ctx, c).Error(0)
}

type MockReportBuilder struct{ mock.Mock }

func (m *MockReportBuilder) Build(ctx context.Context, req jobs.ReportPayload, from, to time.Time) (jobs.Report, error) {
	args := m.Called(ctx, req, from, to)
	return args.Get(0).(jobs.Report), args.Error(1)
}

type MockFileProcessor struct{ mock.Mock }

func (m *MockFileProcessor) Process(ctx context.Context, f jobs.FilePayload, obj storage.ObjectInfo) (map[string]any, error) {
	args := m.Called(ctx, f, obj)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

type MockAnalyticsSink struct{ mock.Mock }

func (m *MockAnalyticsSink) Record(ctx context.Context, e jobs.AnalyticsEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockAnalyticsSink) AggregateHour(ctx context.Context, hour time.Time) error {
	return m.Called(ctx, hour).Error(0)
}

func validPayment() jobs.PaymentRetryPayload {
	return jobs.PaymentRetryPayload{
		PaymentID: "pay_123",
		UserID:    "usr_1",
		ProductID: "prd_1",
		Amount:    4900,
		Currency:  "USD",
		Provider:  jobs.ProviderStripe,
	}
}

func validCommission() jobs.CommissionPayload {
	return jobs.CommissionPayload{
		ReferralID:       "ref_1",
		ReferrerID:       "usr_ref",
		BuyerID:          "usr_buyer",
		ProductID:        "prd_1",
		PurchaseID:       "pur_1",
		Amount:           10000,
		CommissionRate:   0.1,
		CommissionAmount: 1000,
		Currency:         "USD",
	}
}

func validFile() jobs.FilePayload {
	return jobs.FilePayload{
		FileID:         "file_1",
		FileURL:        "s3://market-files/uploads/file_1.zip",
		FileName:       "file_1.zip",
		FileType:       "application/zip",
		ProcessingType: jobs.ProcessingVirusScan,
	}
}

func validReport() jobs.ReportPayload {
	return jobs.ReportPayload{
		Date:       "2025-03-09",
		ReportType: jobs.ReportSales,
		Recipients: []string{"finance@example.com", "ceo@example.com"},
		Format:     jobs.FormatCSV,
	}
}
