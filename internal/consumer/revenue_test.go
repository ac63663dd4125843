package consumer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/service"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeApplier struct {
	calls []service.RevenueEvent
	fail  map[string]error
}

func (a *fakeApplier) ApplyRevenue(_ context.Context, ev service.RevenueEvent) (*models.Transaction, error) {
	a.calls = append(a.calls, ev)
	if err, ok := a.fail[ev.EventID]; ok {
		delete(a.fail, ev.EventID)
		return nil, err
	}
	return &models.Transaction{ID: int64(len(a.calls)), Amount: ev.Amount / 10}, nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestRevenueConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		cancel: cancel,
		msgs: []kafka.Message{
			{Offset: 1, Value: []byte(`{"event_id":"sale-1","member_id":4,"source":"song_sale","amount":20000}`)},
			{Offset: 2, Value: []byte(`not json`)},
			{Offset: 3, Key: []byte("tip-9"), Value: []byte(`{"member_id":4,"source":"tip","amount":5000}`)},
			{Offset: 4, Value: []byte(`{"event_id":"bad-1","member_id":99,"source":"tip","amount":5000}`)},
		},
	}
	applier := &fakeApplier{fail: map[string]error{
		"bad-1": apperr.ErrMemberNotFound,
	}}

	c := NewRevenueConsumer(reader, applier, quietLogger())
	assert.NoError(t, c.Run(ctx))

	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committed)
	assert.Len(t, applier.calls, 3)
	assert.Equal(t, "tip-9", applier.calls[1].EventID)
}

func TestRevenueConsumerRetriesUnavailableStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := kafka.Message{Offset: 7, Value: []byte(`{"event_id":"stream-7","member_id":1,"source":"stream","amount":1000}`)}
	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{msg}}
	applier := &fakeApplier{fail: map[string]error{
		"stream-7": apperr.Unavailable("append", errors.New("connection reset")),
	}}

	c := NewRevenueConsumer(reader, applier, quietLogger())
	c.backoff = time.Millisecond

	assert.NoError(t, c.Run(ctx))
	assert.Len(t, applier.calls, 2)
	assert.Equal(t, []int64{7}, reader.committed)
}
