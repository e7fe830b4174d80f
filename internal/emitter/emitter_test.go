package emitter_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"

	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
	"github.com/feral-file/ff-marketplace-indexer/internal/emitter"
	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
	"github.com/feral-file/ff-marketplace-indexer/internal/messaging"
	"github.com/feral-file/ff-marketplace-indexer/internal/mocks"
)

func TestMain(m *testing.M) {
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

const chain = string(domain.ChainEthereumMainnet)

// testEmitterMocks contains all the mocks needed for testing the emitter
type testEmitterMocks struct {
	ctrl       *gomock.Controller
	subscriber *mocks.MockSubscriber
	publisher  *mocks.MockPublisher
	cursors    *mocks.MockCursorStore
	clock      *mocks.MockClock
}

func setupTestEmitter(t *testing.T) *testEmitterMocks {
	ctrl := gomock.NewController(t)

	return &testEmitterMocks{
		ctrl:       ctrl,
		subscriber: mocks.NewMockSubscriber(ctrl),
		publisher:  mocks.NewMockPublisher(ctrl),
		cursors:    mocks.NewMockCursorStore(ctrl),
		clock:      mocks.NewMockClock(ctrl),
	}
}

func (tm *testEmitterMocks) emitter(startBlock uint64) emitter.Emitter {
	return emitter.NewEmitter(
		tm.subscriber,
		tm.publisher,
		tm.cursors,
		emitter.Config{
			ChainID:         domain.ChainEthereumMainnet,
			StartBlock:      startBlock,
			CursorSaveFreq:  10,
			CursorSaveDelay: 5 * time.Second,
		},
		tm.clock,
	)
}

func transferAt(block, logIndex uint64) *domain.Event {
	return &domain.Event{
		Kind:        domain.EventKindTransferred,
		Chain:       domain.ChainEthereumMainnet,
		Contract:    "0x00000000000000000000000000000000000000bb",
		TxHash:      "0x00000000000000000000000000000000000000000000000000000000000000ab",
		LogIndex:    logIndex,
		BlockNumber: block,
		Transferred: &domain.TransferredPayload{
			From:    "0x000000000000000000000000000000000000a11c",
			To:      "0x0000000000000000000000000000000000000b0b",
			TokenID: big.NewInt(1),
		},
	}
}

// deliver feeds events to the handler, then cancels and reports ctx.Err
func deliver(cancel context.CancelFunc, events ...*domain.Event) func(context.Context, uint64, messaging.EventHandler) error {
	return func(ctx context.Context, _ uint64, handler messaging.EventHandler) error {
		for _, e := range events {
			if err := handler(e); err != nil {
				return err
			}
		}
		cancel()
		return ctx.Err()
	}
}

func TestEmitter_Run_WithStartBlock(t *testing.T) {
	tm := setupTestEmitter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tm.clock.EXPECT().Now().Return(time.Now()).AnyTimes()
	tm.clock.EXPECT().Since(gomock.Any()).Return(time.Duration(0)).AnyTimes()

	events := []*domain.Event{transferAt(1001, 0), transferAt(1001, 1), transferAt(1003, 0)}
	tm.subscriber.EXPECT().SubscribeEvents(gomock.Any(), uint64(1000), gomock.Any()).DoAndReturn(deliver(cancel, events...))
	for _, e := range events {
		tm.publisher.EXPECT().PublishEvent(gomock.Any(), e).Return(nil)
	}

	// block 1000 is complete once 1001 starts; 1002 is within the save frequency
	tm.cursors.EXPECT().SetBlockCursor(gomock.Any(), chain, uint64(1000)).Return(nil)

	err := tm.emitter(1000).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmitter_Run_ResumesAfterCursor(t *testing.T) {
	tm := setupTestEmitter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tm.clock.EXPECT().Now().Return(time.Now()).AnyTimes()
	tm.cursors.EXPECT().GetBlockCursor(gomock.Any(), chain).Return(uint64(500), nil)
	tm.subscriber.EXPECT().SubscribeEvents(gomock.Any(), uint64(501), gomock.Any()).DoAndReturn(deliver(cancel))

	err := tm.emitter(0).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmitter_Run_StartsAtHeadWithoutCursor(t *testing.T) {
	tm := setupTestEmitter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tm.clock.EXPECT().Now().Return(time.Now()).AnyTimes()
	tm.cursors.EXPECT().GetBlockCursor(gomock.Any(), chain).Return(uint64(0), nil)
	tm.subscriber.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(2000), nil)
	tm.subscriber.EXPECT().SubscribeEvents(gomock.Any(), uint64(2000), gomock.Any()).DoAndReturn(deliver(cancel))

	err := tm.emitter(0).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmitter_Run_StartupErrors(t *testing.T) {
	t.Run("cursor", func(t *testing.T) {
		tm := setupTestEmitter(t)
		tm.cursors.EXPECT().GetBlockCursor(gomock.Any(), chain).Return(uint64(0), errors.New("db down"))

		err := tm.emitter(0).Run(context.Background())
		assert.ErrorContains(t, err, "block cursor")
	})

	t.Run("latest block", func(t *testing.T) {
		tm := setupTestEmitter(t)
		tm.cursors.EXPECT().GetBlockCursor(gomock.Any(), chain).Return(uint64(0), nil)
		tm.subscriber.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(0), errors.New("rpc down"))

		err := tm.emitter(0).Run(context.Background())
		assert.ErrorContains(t, err, "latest block")
	})
}

func TestEmitter_Run_PublishErrorStops(t *testing.T) {
	tm := setupTestEmitter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publishErr := errors.New("nats unavailable")
	event := transferAt(10, 0)

	tm.clock.EXPECT().Now().Return(time.Now()).AnyTimes()
	tm.subscriber.EXPECT().SubscribeEvents(gomock.Any(), uint64(10), gomock.Any()).DoAndReturn(deliver(cancel, event))
	tm.publisher.EXPECT().PublishEvent(gomock.Any(), event).Return(publishErr)

	err := tm.emitter(10).Run(ctx)
	assert.ErrorIs(t, err, publishErr)
}

func TestEmitter_Run_SavesOnDelay(t *testing.T) {
	tm := setupTestEmitter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tm.clock.EXPECT().Now().Return(time.Now()).AnyTimes()
	tm.clock.EXPECT().Since(gomock.Any()).Return(10 * time.Second).AnyTimes()

	events := []*domain.Event{transferAt(101, 0), transferAt(102, 0)}
	tm.subscriber.EXPECT().SubscribeEvents(gomock.Any(), uint64(100), gomock.Any()).DoAndReturn(deliver(cancel, events...))
	tm.publisher.EXPECT().PublishEvent(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	gomock.InOrder(
		// 100 - 0 crosses the block frequency
		tm.cursors.EXPECT().SetBlockCursor(gomock.Any(), chain, uint64(100)).Return(nil),
		// 101 - 100 does not, but the delay has elapsed
		tm.cursors.EXPECT().SetBlockCursor(gomock.Any(), chain, uint64(101)).Return(nil),
	)

	err := tm.emitter(100).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmitter_Run_CursorSaveFailureContinues(t *testing.T) {
	tm := setupTestEmitter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tm.clock.EXPECT().Now().Return(time.Now()).AnyTimes()
	tm.clock.EXPECT().Since(gomock.Any()).Return(time.Duration(0)).AnyTimes()

	events := []*domain.Event{transferAt(51, 0), transferAt(52, 0)}
	tm.subscriber.EXPECT().SubscribeEvents(gomock.Any(), uint64(50), gomock.Any()).DoAndReturn(deliver(cancel, events...))
	tm.publisher.EXPECT().PublishEvent(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	gomock.InOrder(
		tm.cursors.EXPECT().SetBlockCursor(gomock.Any(), chain, uint64(50)).Return(errors.New("db down")),
		// the failed save is retried with the next completed block
		tm.cursors.EXPECT().SetBlockCursor(gomock.Any(), chain, uint64(51)).Return(nil),
	)

	err := tm.emitter(50).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmitter_Close(t *testing.T) {
	tm := setupTestEmitter(t)
	tm.subscriber.EXPECT().Close()

	tm.emitter(1).Close()
}
