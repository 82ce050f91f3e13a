package syncapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serviceFetcher feeds the runner straight from a DeltaService and can be
// told to fail a given call
type serviceFetcher struct {
	svc    *DeltaService
	calls  int
	failAt int
	reqs   []erpsync.DeltaSyncRequest
}

func (f *serviceFetcher) FetchDelta(ctx context.Context, req erpsync.DeltaSyncRequest) (*erpsync.DeltaSyncResponse[json.RawMessage], error) {
	f.calls++
	f.reqs = append(f.reqs, req)
	if f.failAt > 0 && f.calls == f.failAt {
		return nil, errors.New("connection reset")
	}
	return f.svc.GetChanges(ctx, req)
}

type scriptedFetcher struct {
	responses []*erpsync.DeltaSyncResponse[json.RawMessage]
	calls     int
}

func (f *scriptedFetcher) FetchDelta(context.Context, erpsync.DeltaSyncRequest) (*erpsync.DeltaSyncResponse[json.RawMessage], error) {
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func TestDeltaSyncRunner_MirrorsServer(t *testing.T) {
	f := newDeltaFixture(t)
	ctx := context.Background()
	f.seed(t, 1, 7)
	_, err := f.store.Delete(ctx, f.tenantID, erpsync.EntityArticles, "A-003", 2)
	require.NoError(t, err)

	local := newTestLocalStore(t)
	fetcher := &serviceFetcher{svc: f.svc}
	runner := NewDeltaSyncRunner(fetcher, local, local, WithRunnerBatchSize(3))

	summary, err := runner.Run(ctx, f.tenantID, erpsync.EntityArticles)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Pages)
	assert.Equal(t, 7, summary.Applied)
	assert.Equal(t, 1, summary.Deleted)

	head, err := f.store.MaxSeq(ctx, f.tenantID, erpsync.EntityArticles)
	require.NoError(t, err)
	assert.Equal(t, head, summary.FinalWatermark)

	live, err := local.CountLive(ctx, erpsync.EntityArticles)
	require.NoError(t, err)
	assert.Equal(t, int64(6), live)

	state, err := local.LoadState(ctx, f.tenantID, erpsync.EntityArticles)
	require.NoError(t, err)
	assert.Equal(t, head, state.Watermark)
	assert.False(t, state.InCycle())

	// nothing new: one empty page, watermark unchanged
	summary, err = runner.Run(ctx, f.tenantID, erpsync.EntityArticles)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pages)
	assert.Zero(t, summary.Applied)
	assert.Equal(t, head, summary.FinalWatermark)
}

func TestDeltaSyncRunner_ResumesAfterFailure(t *testing.T) {
	f := newDeltaFixture(t)
	ctx := context.Background()
	f.seed(t, 1, 6)

	local := newTestLocalStore(t)
	fetcher := &serviceFetcher{svc: f.svc, failAt: 2}
	runner := NewDeltaSyncRunner(fetcher, local, local, WithRunnerBatchSize(2))

	summary, err := runner.Run(ctx, f.tenantID, erpsync.EntityArticles)
	require.Error(t, err)
	assert.Equal(t, 1, summary.Pages)

	state, err := local.LoadState(ctx, f.tenantID, erpsync.EntityArticles)
	require.NoError(t, err)
	assert.True(t, state.InCycle(), "the open cycle survives the failure")
	assert.Zero(t, state.Watermark)

	fetcher.failAt = 0
	summary, err = runner.Run(ctx, f.tenantID, erpsync.EntityArticles)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 4, summary.Applied)

	resumed := fetcher.reqs[2]
	assert.NotEmpty(t, resumed.ContinuationToken)
	assert.Nil(t, resumed.Watermark)

	live, err := local.CountLive(ctx, erpsync.EntityArticles)
	require.NoError(t, err)
	assert.Equal(t, int64(6), live)
}

func TestDeltaSyncRunner_TombstoneForUnknownID(t *testing.T) {
	local := newTestLocalStore(t)
	tenantID := uuid.New()
	fetcher := &scriptedFetcher{responses: []*erpsync.DeltaSyncResponse[json.RawMessage]{{
		Changes: []erpsync.DeltaItem[json.RawMessage]{
			erpsync.NewTombstone[json.RawMessage]("C-404", 3, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
		},
		NewWatermark: 12,
	}}}

	summary, err := NewDeltaSyncRunner(fetcher, local, local).Run(context.Background(), tenantID, erpsync.EntityCustomers)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, int64(12), summary.FinalWatermark)

	row, err := local.Find(context.Background(), erpsync.EntityCustomers, "C-404")
	require.NoError(t, err)
	assert.True(t, row.Deleted)
}

func TestDeltaSyncRunner_RejectsBrokenResponses(t *testing.T) {
	tenantID := uuid.New()
	payload := json.RawMessage(`{"id":"C-1"}`)

	tests := []struct {
		name string
		resp *erpsync.DeltaSyncResponse[json.RawMessage]
		want error
	}{
		{
			name: "tombstone with payload",
			resp: &erpsync.DeltaSyncResponse[json.RawMessage]{Changes: []erpsync.DeltaItem[json.RawMessage]{
				{ChangeType: erpsync.ChangeDeleted, ID: "C-1", Item: &payload},
			}},
			want: erpsync.ErrInvalidRequest,
		},
		{
			name: "more without token",
			resp: &erpsync.DeltaSyncResponse[json.RawMessage]{HasMore: true, NewWatermark: 1},
			want: erpsync.ErrInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := newTestLocalStore(t)
			fetcher := &scriptedFetcher{responses: []*erpsync.DeltaSyncResponse[json.RawMessage]{tt.resp}}
			_, err := NewDeltaSyncRunner(fetcher, local, local).Run(context.Background(), tenantID, erpsync.EntityCustomers)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("watermark regression", func(t *testing.T) {
		local := newTestLocalStore(t)
		require.NoError(t, local.SaveState(context.Background(), tenantID, erpsync.EntityCustomers, erpsync.DeltaSyncState{Watermark: 50}))
		fetcher := &scriptedFetcher{responses: []*erpsync.DeltaSyncResponse[json.RawMessage]{{NewWatermark: 10}}}
		_, err := NewDeltaSyncRunner(fetcher, local, local).Run(context.Background(), tenantID, erpsync.EntityCustomers)
		assert.ErrorIs(t, err, erpsync.ErrWatermarkRegression)

		state, err := local.LoadState(context.Background(), tenantID, erpsync.EntityCustomers)
		require.NoError(t, err)
		assert.Equal(t, int64(50), state.Watermark)
	})
}

func TestDeltaSyncRunner_Cancelled(t *testing.T) {
	local := newTestLocalStore(t)
	fetcher := &scriptedFetcher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDeltaSyncRunner(fetcher, local, local).Run(ctx, uuid.New(), erpsync.EntityOrders)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fetcher.calls)
}

func TestDeltaSyncRunner_StateStoreFailure(t *testing.T) {
	state := &failingState{err: fmt.Errorf("disk full")}
	fetcher := &scriptedFetcher{responses: []*erpsync.DeltaSyncResponse[json.RawMessage]{{NewWatermark: 3}}}
	local := newTestLocalStore(t)

	_, err := NewDeltaSyncRunner(fetcher, local, state).Run(context.Background(), uuid.New(), erpsync.EntityOrders)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

type failingState struct{ err error }

func (s *failingState) LoadState(context.Context, uuid.UUID, erpsync.EntityType) (erpsync.DeltaSyncState, error) {
	return erpsync.DeltaSyncState{}, nil
}

func (s *failingState) SaveState(context.Context, uuid.UUID, erpsync.EntityType, erpsync.DeltaSyncState) error {
	return s.err
}

func TestDeltaSyncRunner_RejectedTokenRestartsCycle(t *testing.T) {
	f := newDeltaFixture(t)
	ctx := context.Background()
	f.seed(t, 1, 6)

	local := newTestLocalStore(t)
	require.NoError(t, local.SaveState(ctx, f.tenantID, erpsync.EntityArticles,
		erpsync.DeltaSyncState{ContinuationToken: "token-from-old-secret"}))

	fetcher := &serviceFetcher{svc: f.svc}
	summary, err := NewDeltaSyncRunner(fetcher, local, local, WithRunnerBatchSize(4)).
		Run(ctx, f.tenantID, erpsync.EntityArticles)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 6, summary.Applied)

	require.Len(t, fetcher.reqs, 3)
	assert.Equal(t, "token-from-old-secret", fetcher.reqs[0].ContinuationToken)
	assert.Empty(t, fetcher.reqs[1].ContinuationToken)
	require.NotNil(t, fetcher.reqs[1].Watermark)
	assert.Zero(t, *fetcher.reqs[1].Watermark)

	state, err := local.LoadState(ctx, f.tenantID, erpsync.EntityArticles)
	require.NoError(t, err)
	assert.False(t, state.InCycle())
	assert.Equal(t, summary.FinalWatermark, state.Watermark)
}

type rejectingFetcher struct{ calls int }

func (f *rejectingFetcher) FetchDelta(context.Context, erpsync.DeltaSyncRequest) (*erpsync.DeltaSyncResponse[json.RawMessage], error) {
	f.calls++
	return nil, erpsync.ErrInvalidContinuationToken
}

func TestDeltaSyncRunner_RejectedTokenRestartsOnce(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	local := newTestLocalStore(t)
	require.NoError(t, local.SaveState(ctx, tenantID, erpsync.EntityOrders,
		erpsync.DeltaSyncState{Watermark: 10, ContinuationToken: "token-from-old-secret"}))

	fetcher := &rejectingFetcher{}
	_, err := NewDeltaSyncRunner(fetcher, local, local).Run(ctx, tenantID, erpsync.EntityOrders)
	assert.ErrorIs(t, err, erpsync.ErrInvalidContinuationToken)
	assert.Equal(t, 2, fetcher.calls)

	state, err := local.LoadState(ctx, tenantID, erpsync.EntityOrders)
	require.NoError(t, err)
	assert.Equal(t, erpsync.DeltaSyncState{Watermark: 10}, state)
}
