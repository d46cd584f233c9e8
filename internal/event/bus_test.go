package event_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dataflowslab/core.rompharm-sub001/internal/database"
	"github.com/dataflowslab/core.rompharm-sub001/internal/event"
	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"github.com/dataflowslab/core.rompharm-sub001/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) handle(evt event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type failingForwarder struct{}

func (failingForwarder) Forward(context.Context, event.Event) error {
	return errors.New("unreachable")
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestBus_PersistsAndDeliversByKey(t *testing.T) {
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	repo := repository.NewEventRepository(db)

	bus := event.NewBus(repo, quietLogger(), event.BusOptions{})
	defer bus.Close()

	var doc1, all recorder
	unsubscribe := bus.Subscribe("doc-1", doc1.handle)
	bus.Subscribe("", all.handle)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, event.Event{Topic: event.TopicFlowChanged, DocumentID: "doc-1", AggregateID: "f1"}))
	require.NoError(t, bus.Publish(ctx, event.Event{Topic: event.TopicFlowChanged, DocumentID: "doc-2", AggregateID: "f2"}))

	assert.Equal(t, 1, doc1.len())
	assert.Equal(t, 2, all.len())

	unsubscribe()
	require.NoError(t, bus.Publish(ctx, event.Event{Topic: event.TopicFlowChanged, DocumentID: "doc-1", AggregateID: "f1"}))
	assert.Equal(t, 1, doc1.len())

	stored, err := repo.FindByDocumentID(ctx, "doc-1", 0)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// 无远端时标记为已投递
	assert.Eventually(t, func() bool {
		pending, err := repo.FindPending(ctx, 0)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBus_ForwardFailureMarksFailed(t *testing.T) {
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	repo := repository.NewEventRepository(db)

	bus := event.NewBus(repo, quietLogger(), event.BusOptions{MaxRetries: 2, Backoff: time.Millisecond})
	defer bus.Close()
	bus.AddForwarder(failingForwarder{})

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, event.Event{Topic: event.TopicJobChanged, DocumentID: "e1", AggregateID: "j1"}))

	assert.Eventually(t, func() bool {
		events, err := repo.FindByDocumentID(ctx, "e1", 0)
		return err == nil && len(events) == 1 && events[0].Status == model.EventStatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisForwarder_RelaysBetweenInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := event.NewRedisClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer client.Close()

	forwarder := event.NewRedisForwarder(client, "signflow:events")

	sender := event.NewBus(nil, quietLogger(), event.BusOptions{})
	defer sender.Close()
	sender.AddForwarder(forwarder)

	receiver := event.NewBus(nil, quietLogger(), event.BusOptions{})
	defer receiver.Close()
	var got recorder
	receiver.Subscribe("doc-9", got.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = forwarder.Relay(ctx, receiver, quietLogger()) }()

	// 等待订阅建立
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("")) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sender.Publish(ctx, event.Event{Topic: event.TopicFlowChanged, DocumentID: "doc-9", AggregateID: "f9"}))

	assert.Eventually(t, func() bool { return got.len() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestNewRedisClient_RequiresAddr(t *testing.T) {
	_, err := event.NewRedisClient("", "", 0)
	assert.Error(t, err)
}
