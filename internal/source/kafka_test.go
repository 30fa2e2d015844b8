package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/model"
)

type stubSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *stubSession) Claims() map[string][]int32 { return nil }
func (s *stubSession) MemberID() string { return "member" }
func (s *stubSession) GenerationID() int32 { return 1 }
func (s *stubSession) MarkOffset(string, int32, int64, string) {}
func (s *stubSession) Commit() {}
func (s *stubSession) ResetOffset(string, int32, int64, string) {}
func (s *stubSession) Context() context.Context { return s.ctx }
func (s *stubSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

func (s *stubSession) markedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

type stubClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *stubClaim) Topic() string { return "conflict-articles" }
func (c *stubClaim) Partition() int32 { return 0 }
func (c *stubClaim) InitialOffset() int64 { return 0 }
func (c *stubClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *stubClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func newClaim(payloads ...string) *stubClaim {
	claim := &stubClaim{messages: make(chan *sarama.ConsumerMessage, len(payloads))}
	for i, payload := range payloads {
		claim.messages <- &sarama.ConsumerMessage{Topic: "conflict-articles", Offset: int64(i), Value: []byte(payload)}
	}
	close(claim.messages)
	return claim
}

func TestConsumeClaimFlushesBySize(t *testing.T) {
	t.Parallel()

	var batches [][]model.Article
	handler := &claimHandler{
		opts: KafkaOptions{BatchSize: 2, FlushInterval: time.Hour},
		handler: func(_ context.Context, articles []model.Article) error {
			batches = append(batches, articles)
			return nil
		},
		logger: zerolog.Nop(),
	}
	session := &stubSession{ctx: context.Background()}

	err := handler.ConsumeClaim(session, newClaim(gazaPayload, brokenPayload, kyivPayload, gazaPayload))
	if err != nil {
		t.Fatalf("ConsumeClaim() error = %v", err)
	}
	if len(batches) != 2 || len(batches[0]) != 2 || len(batches[1]) != 1 {
		t.Fatalf("batches = %v, want sizes 2 and 1", batches)
	}
	marked := session.markedOffsets()
	if len(marked) != 2 || marked[0] != 2 || marked[1] != 3 {
		t.Fatalf("marked offsets = %v, want [2 3]", marked)
	}
}

func TestConsumeClaimMarksInvalidOnlyBatch(t *testing.T) {
	t.Parallel()

	calls := 0
	handler := &claimHandler{
		opts: KafkaOptions{BatchSize: 10, FlushInterval: time.Hour},
		handler: func(context.Context, []model.Article) error {
			calls++
			return nil
		},
		logger: zerolog.Nop(),
	}
	session := &stubSession{ctx: context.Background()}

	if err := handler.ConsumeClaim(session, newClaim(brokenPayload)); err != nil {
		t.Fatalf("ConsumeClaim() error = %v", err)
	}
	if calls != 0 {
		t.Fatalf("handler called %d times for an all-invalid batch", calls)
	}
	if marked := session.markedOffsets(); len(marked) != 1 || marked[0] != 0 {
		t.Fatalf("marked offsets = %v, want the skipped message marked", marked)
	}
}

func TestConsumeClaimHandlerFailureLeavesBatchUnmarked(t *testing.T) {
	t.Parallel()

	handler := &claimHandler{
		opts: KafkaOptions{BatchSize: 10, FlushInterval: time.Hour},
		handler: func(context.Context, []model.Article) error {
			return errors.New("store unavailable")
		},
		logger: zerolog.Nop(),
	}
	session := &stubSession{ctx: context.Background()}

	if err := handler.ConsumeClaim(session, newClaim(gazaPayload, kyivPayload)); err == nil {
		t.Fatalf("expected handler failure to end the claim")
	}
	if marked := session.markedOffsets(); len(marked) != 0 {
		t.Fatalf("marked offsets = %v, want none", marked)
	}
}

func TestNewKafkaConsumerValidatesOptions(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, []model.Article) error { return nil }
	if _, err := NewKafkaConsumer(KafkaOptions{Topic: "t", GroupID: "g"}, noop, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewKafkaConsumer(KafkaOptions{Brokers: []string{"localhost:9092"}, GroupID: "g"}, noop, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without topic")
	}
	if _, err := NewKafkaConsumer(KafkaOptions{Brokers: []string{"localhost:9092"}, Topic: "t", GroupID: "g"}, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without handler")
	}
}

// failingGroup fails every session and cancels the run after a fixed number of calls.
type failingGroup struct {
	sarama.ConsumerGroup

	mu     sync.Mutex
	calls  []time.Time
	stopAt int
	cancel context.CancelFunc
	errs   chan error
}

func (g *failingGroup) Consume(context.Context, []string, sarama.ConsumerGroupHandler) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, time.Now())
	if len(g.calls) >= g.stopAt {
		g.cancel()
	}
	return errors.New("kafka: client has run out of available brokers")
}

func (g *failingGroup) Errors() <-chan error { return g.errs }

func (g *failingGroup) Close() error {
	close(g.errs)
	return nil
}

func TestKafkaRunBacksOffBetweenFailedSessions(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	group := &failingGroup{stopAt: 4, cancel: cancel, errs: make(chan error)}
	consumer := &KafkaConsumer{
		group:   group,
		opts:    KafkaOptions{Topic: "conflict-articles", GroupID: "g", RetryBackoff: 20 * time.Millisecond, MaxBackoff: 40 * time.Millisecond}.withDefaults(),
		handler: func(context.Context, []model.Article) error { return nil },
		logger:  zerolog.Nop(),
	}

	if err := consumer.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	group.mu.Lock()
	defer group.mu.Unlock()
	if len(group.calls) != 4 {
		t.Fatalf("sessions = %d, want 4", len(group.calls))
	}
	wants := []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 40 * time.Millisecond}
	for i, want := range wants {
		if gap := group.calls[i+1].Sub(group.calls[i]); gap < want {
			t.Fatalf("gap before session %d = %s, want >= %s", i+2, gap, want)
		}
	}
}

func TestSleepContextReturnsEarlyWhenCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if sleepContext(ctx, time.Minute) {
		t.Fatalf("expected cancelled wait to report false")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancelled wait took %s", elapsed)
	}
}
