package processor_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-marketplace-indexer/internal/adapter"
	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
	"github.com/feral-file/ff-marketplace-indexer/internal/mocks"
	"github.com/feral-file/ff-marketplace-indexer/internal/processor"
	eventstream "github.com/feral-file/ff-marketplace-indexer/internal/providers/jetstream"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type testProcessorMocks struct {
	ctrl         *gomock.Controller
	natsJS       *mocks.MockNatsJetStream
	natsConn     *mocks.MockNatsConn
	jetStream    *mocks.MockJetStream
	consumer     *mocks.MockNatsConsumer
	consumeCtx   *mocks.MockConsumeContext
	engine       *mocks.MockEngine
	config       processor.Config
	consumerSeen jetstream.ConsumerConfig
}

func setupTestProcessor(t *testing.T) *testProcessorMocks {
	ctrl := gomock.NewController(t)

	return &testProcessorMocks{
		ctrl:       ctrl,
		natsJS:     mocks.NewMockNatsJetStream(ctrl),
		natsConn:   mocks.NewMockNatsConn(ctrl),
		jetStream:  mocks.NewMockJetStream(ctrl),
		consumer:   mocks.NewMockNatsConsumer(ctrl),
		consumeCtx: mocks.NewMockConsumeContext(ctrl),
		engine:     mocks.NewMockEngine(ctrl),
		config: processor.Config{
			Stream: eventstream.Config{
				URL:            "nats://localhost:4222",
				StreamName:     "MARKETPLACE",
				MaxReconnects:  5,
				ReconnectWait:  time.Second,
				ConnectionName: "test-processor",
			},
			ConsumerName:   "processor",
			AckWaitTimeout: 30 * time.Second,
			MaxDeliver:     5,
		},
	}
}

func (tm *testProcessorMocks) newProcessor(t *testing.T) processor.Processor {
	tm.natsJS.EXPECT().Connect("nats://localhost:4222", gomock.Any()).Return(tm.natsConn, tm.jetStream, nil)
	tm.jetStream.EXPECT().CreateOrUpdateStream(gomock.Any(), gomock.Any()).Return(nil)

	p, err := processor.NewProcessor(context.Background(), tm.config, tm.natsJS, tm.engine, adapter.NewJSON())
	require.NoError(t, err)
	return p
}

// expectConsume wires the consumer to deliver msgs in order
func (tm *testProcessorMocks) expectConsume(msgs ...adapter.Message) {
	tm.jetStream.EXPECT().
		CreateOrUpdateConsumer(gomock.Any(), "MARKETPLACE", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, cfg jetstream.ConsumerConfig) (adapter.Consumer, error) {
			tm.consumerSeen = cfg
			return tm.consumer, nil
		})
	tm.consumer.EXPECT().Info(gomock.Any()).Return(&jetstream.ConsumerInfo{Name: "processor"}, nil)
	tm.consumer.EXPECT().
		Consume(gomock.Any(), gomock.Any()).
		DoAndReturn(func(h adapter.MessageHandler, _ ...jetstream.PullConsumeOpt) (adapter.ConsumeContext, error) {
			go func() {
				for _, m := range msgs {
					h(m)
				}
			}()
			return tm.consumeCtx, nil
		})

	var closed <-chan struct{} = make(chan struct{})
	tm.consumeCtx.EXPECT().Closed().Return(closed).AnyTimes()
	tm.consumeCtx.EXPECT().Stop()
}

func listedEvent(n int) *domain.Event {
	return &domain.Event{
		Kind:           domain.EventKindListed,
		Chain:          domain.ChainEthereumMainnet,
		Contract:       "0x00000000000000000000000000000000000000aa",
		TxHash:         fmt.Sprintf("0x%064x", n),
		BlockNumber:    uint64(n),
		BlockTimestamp: 1700000000,
		Listed: &domain.ListedPayload{
			Seller:     "0x000000000000000000000000000000000000a11c",
			NFTAddress: "0x00000000000000000000000000000000000000bb",
			TokenID:    big.NewInt(1),
			Price:      big.NewInt(100),
		},
	}
}

// outcome records how each message was settled
type outcome struct {
	mu      sync.Mutex
	settled []string
}

func (o *outcome) add(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settled = append(o.settled, s)
}

func (o *outcome) get() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.settled...)
}

// message builds a message that records its settlement and calls done afterwards
func message(ctrl *gomock.Controller, data []byte, out *outcome, done func()) *mocks.MockJetStreamMessage {
	msg := mocks.NewMockJetStreamMessage(ctrl)
	msg.EXPECT().Data().Return(data).AnyTimes()
	msg.EXPECT().Subject().Return("marketplace.eip155-1.listed").AnyTimes()
	msg.EXPECT().Metadata().Return(&jetstream.MsgMetadata{NumDelivered: 1}, nil).AnyTimes()

	settle := func(action string) func() error {
		return func() error {
			out.add(action)
			done()
			return nil
		}
	}
	msg.EXPECT().Ack().DoAndReturn(settle("ack")).MaxTimes(1)
	msg.EXPECT().Nak().DoAndReturn(settle("nak")).MaxTimes(1)
	msg.EXPECT().Term().DoAndReturn(settle("term")).MaxTimes(1)
	return msg
}

func encode(t *testing.T, event *domain.Event) []byte {
	data, err := adapter.NewJSON().Marshal(event)
	require.NoError(t, err)
	return data
}

func TestConsumerConfig(t *testing.T) {
	tm := setupTestProcessor(t)
	cfg := processor.ConsumerConfig(tm.config)

	assert.Equal(t, "processor", cfg.Durable)
	assert.Equal(t, 1, cfg.MaxAckPending)
	assert.Equal(t, jetstream.AckExplicitPolicy, cfg.AckPolicy)
	assert.Equal(t, "marketplace.>", cfg.FilterSubject)
	assert.Equal(t, 5, cfg.MaxDeliver)
}

func TestNewProcessor_ConnectError(t *testing.T) {
	tm := setupTestProcessor(t)
	tm.natsJS.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(nil, nil, errors.New("no servers"))

	_, err := processor.NewProcessor(context.Background(), tm.config, tm.natsJS, tm.engine, adapter.NewJSON())
	assert.Error(t, err)
}

func TestProcessor_Settlement(t *testing.T) {
	tests := []struct {
		name      string
		data      func(t *testing.T) []byte
		handleErr error
		handled   bool
		want      string
	}{
		{
			name:    "applied event is acknowledged",
			data:    func(t *testing.T) []byte { return encode(t, listedEvent(1)) },
			handled: true,
			want:    "ack",
		},
		{
			name:      "duplicate is acknowledged",
			data:      func(t *testing.T) []byte { return encode(t, listedEvent(1)) },
			handleErr: fmt.Errorf("%w: listing x", domain.ErrDuplicateEvent),
			handled:   true,
			want:      "ack",
		},
		{
			name:      "malformed is terminated",
			data:      func(t *testing.T) []byte { return encode(t, listedEvent(1)) },
			handleErr: fmt.Errorf("%w: invalid tx hash", domain.ErrMalformedEvent),
			handled:   true,
			want:      "term",
		},
		{
			name: "undecodable payload is terminated",
			data: func(t *testing.T) []byte { return []byte(`{"kind":`) },
			want: "term",
		},
		{
			name:      "store failure is redelivered",
			data:      func(t *testing.T) []byte { return encode(t, listedEvent(1)) },
			handleErr: errors.New("connection refused"),
			handled:   true,
			want:      "nak",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := setupTestProcessor(t)
			p := tm.newProcessor(t)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			out := &outcome{}
			tm.expectConsume(message(tm.ctrl, tt.data(t), out, cancel))
			if tt.handled {
				tm.engine.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(tt.handleErr)
			}

			err := p.Run(ctx)
			assert.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, []string{tt.want}, out.get())
			assert.Equal(t, 1, tm.consumerSeen.MaxAckPending)
		})
	}
}

func TestProcessor_ProcessesInOrder(t *testing.T) {
	tm := setupTestProcessor(t)
	p := tm.newProcessor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &outcome{}
	var remaining sync.WaitGroup
	remaining.Add(3)
	go func() {
		remaining.Wait()
		cancel()
	}()

	var msgs []adapter.Message
	for i := 1; i <= 3; i++ {
		msgs = append(msgs, message(tm.ctrl, encode(t, listedEvent(i)), out, remaining.Done))
	}
	tm.expectConsume(msgs...)

	var seen []uint64
	tm.engine.EXPECT().
		Handle(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event *domain.Event) error {
			seen = append(seen, event.BlockNumber)
			return nil
		}).
		Times(3)

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []uint64{1, 2, 3}, seen)
	assert.Equal(t, []string{"ack", "ack", "ack"}, out.get())
}

func TestProcessor_RetriesTransientErrors(t *testing.T) {
	tm := setupTestProcessor(t)
	tm.config.RetryInitialInterval = time.Millisecond
	tm.config.RetryMaxElapsed = time.Second
	p := tm.newProcessor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &outcome{}
	tm.expectConsume(message(tm.ctrl, encode(t, listedEvent(1)), out, cancel))

	gomock.InOrder(
		tm.engine.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(errors.New("deadlock detected")),
		tm.engine.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(nil),
	)

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"ack"}, out.get())
}

func TestProcessor_DoesNotRetryMalformed(t *testing.T) {
	tm := setupTestProcessor(t)
	tm.config.RetryInitialInterval = time.Millisecond
	tm.config.RetryMaxElapsed = time.Second
	p := tm.newProcessor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &outcome{}
	tm.expectConsume(message(tm.ctrl, encode(t, listedEvent(1)), out, cancel))
	tm.engine.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(domain.ErrMalformedEvent).Times(1)

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"term"}, out.get())
}

func TestProcessor_Close(t *testing.T) {
	tm := setupTestProcessor(t)
	p := tm.newProcessor(t)

	tm.natsConn.EXPECT().Close()
	p.Close()
}
