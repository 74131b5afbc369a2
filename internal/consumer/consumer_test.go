// internal/consumer/consumer_test.go
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nubia/internal/event"
	"nubia/internal/projection"
	"nubia/internal/router"
	"nubia/internal/storage/memory"
)

func newConsumer(t *testing.T, source Source, cfg Config) (*Consumer, projection.Service) {
	t.Helper()
	svc := projection.NewService(memory.New(), zap.NewNop())
	rt := router.New(svc, zap.NewNop())
	c, err := New(source, rt, zap.NewNop(), cfg)
	require.NoError(t, err)
	return c, svc
}

func message(key, kind, data string) Message {
	value, _ := json.Marshal(event.Envelope{Kind: kind, Data: json.RawMessage(data)})
	return Message{ID: uuid.New(), Topic: event.TopicAccounts, Key: key, Value: value}
}

func TestPartitionIsStable(t *testing.T) {
	for _, key := range []string{"u1", "u2", "some-longer-identifier"} {
		first := partition(key, 8)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, partition(key, 8), key)
		}
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 8)
	}
	assert.Equal(t, 0, partition("anything", 1))
}

func TestChanSourceDrain(t *testing.T) {
	source := make(ChanSource, 1)
	require.NoError(t, source.Enqueue(context.Background(), Message{Key: "u1"}))
	close(source)

	msg, err := source.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", msg.Key)

	_, err = source.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestRunAppliesEventsInKeyOrder(t *testing.T) {
	source := make(ChanSource, 64)
	c, svc := newConsumer(t, source, Config{Workers: 4})

	// A create followed by a strictly increasing version sequence for one
	// identifier: any reordering would trip the version guard.
	source <- message("u1", event.KindAccountCreated,
		`{"id":"u1","fullName":"Ann","email":"a@x.com","version":1}`)
	for v := 2; v <= 20; v++ {
		source <- message("u1", event.KindAccountUpdated,
			fmt.Sprintf(`{"id":"u1","fullName":"Ann %d","version":%d}`, v, v))
	}
	close(source)

	require.NoError(t, c.Run(context.Background()))

	account, err := svc.GetAccount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 20, account.Version)
	assert.Equal(t, "Ann 20", account.FullName)
}

func TestRunToleratesRejections(t *testing.T) {
	source := make(ChanSource, 8)
	c, svc := newConsumer(t, source, Config{Workers: 2})

	source <- message("u1", event.KindAccountCreated,
		`{"id":"u1","fullName":"Ann","email":"a@x.com","version":1}`)
	// Unknown id: rejected, but the consumer keeps going.
	source <- message("zzz", event.KindAccountUpdated, `{"id":"zzz","fullName":"X","version":2}`)
	// Unknown kind: ignored.
	source <- message("u1", "AccountArchived", `{}`)
	// Not even an envelope: dropped.
	source <- Message{ID: uuid.New(), Key: "u1", Value: []byte("not json")}
	close(source)

	require.NoError(t, c.Run(context.Background()))

	account, err := svc.GetAccount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, account.Version)
}

func TestRunStopsOnCancel(t *testing.T) {
	source := make(ChanSource)
	c, _ := newConsumer(t, source, Config{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}

func TestRateLimitedRunStillDrains(t *testing.T) {
	source := make(ChanSource, 8)
	c, svc := newConsumer(t, source, Config{Workers: 1, EventsPerSecond: 1000, Burst: 8})

	source <- message("u1", event.KindAccountCreated,
		`{"id":"u1","fullName":"Ann","email":"a@x.com","version":1}`)
	source <- message("u1", event.KindAccountUpdated, `{"id":"u1","fullName":"Anne","version":2}`)
	close(source)

	require.NoError(t, c.Run(context.Background()))

	account, err := svc.GetAccount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, account.Version)
}

func TestFailureReasons(t *testing.T) {
	assert.Equal(t, "malformed", failureReason(event.ErrMissingKind))
	assert.Equal(t, "validation", failureReason(&projection.ValidationError{Field: "id"}))
	assert.Equal(t, "out_of_order", failureReason(&projection.OutOfOrderError{Expected: 2, Received: 4}))
	assert.Equal(t, "not_found", failureReason(fmt.Errorf("account u1: %w", projection.ErrNotFound)))
	assert.Equal(t, "duplicate", failureReason(fmt.Errorf("account u1: %w", projection.ErrDuplicate)))
	assert.Equal(t, "other", failureReason(fmt.Errorf("boom")))
}
