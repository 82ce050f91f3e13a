package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	syncapp "github.com/erp/catalog-exchange/internal/application/erpsync"
	"github.com/erp/catalog-exchange/internal/domain/credential"
	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/infrastructure/persistence"
	"github.com/erp/catalog-exchange/internal/infrastructure/syncclient"
	"github.com/erp/catalog-exchange/tests/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func articleItems(ids ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(ids))
	for i, id := range ids {
		out = append(out, json.RawMessage(fmt.Sprintf(
			`{"id":%q,"supplierId":"SUP1","name":"Article %02d","listPrice":"%d.50","currency":"EUR","unit":"PCE"}`,
			id, i, i+1)))
	}
	return out
}

func TestConnectorRoundTrip(t *testing.T) {
	s := newStack(t)
	tenantID := testutil.TestTenantID()
	_, apiKey := s.connector(t, tenantID)

	client := syncclient.New(s.Server.URL, tenantID,
		syncclient.WithAPIKey(apiKey),
		syncclient.WithLogger(zaptest.NewLogger(t)))
	ctx := testutil.ContextWithTimeout(t, time.Minute)

	ids := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		ids = append(ids, fmt.Sprintf("A-%03d", i))
	}
	resp, err := client.PushBatch(syncclient.WithCorrelationID(ctx, "round-trip:1"), erpsync.BatchWriteRequest[json.RawMessage]{
		TenantID:   tenantID,
		EntityType: erpsync.EntityArticles,
		Mode:       erpsync.WriteUpsert,
		Items:      articleItems(ids...),
	})
	require.NoError(t, err)
	assert.Equal(t, 12, resp.InsertedCount)
	assert.Zero(t, resp.ErrorCount)

	t.Run("cursor pages cover every record once", func(t *testing.T) {
		seen := map[string]bool{}
		cursor := ""
		pages := 0
		for {
			page, err := client.FetchPage(ctx, erpsync.CursorPageRequest{
				TenantID:   tenantID,
				EntityType: erpsync.EntityArticles,
				Cursor:     cursor,
				PageSize:   5,
			})
			require.NoError(t, err)
			pages++
			for _, raw := range page.Items {
				var a syncapp.ArticlePayload
				require.NoError(t, json.Unmarshal(raw, &a))
				assert.False(t, seen[a.ID], "duplicate %s", a.ID)
				seen[a.ID] = true
			}
			if !page.HasMore {
				assert.Nil(t, page.NextCursor)
				break
			}
			require.NotNil(t, page.NextCursor)
			cursor = *page.NextCursor
		}
		assert.Equal(t, 3, pages)
		assert.Len(t, seen, 12)
	})

	t.Run("replayed correlation id is rejected", func(t *testing.T) {
		_, err := client.PushBatch(syncclient.WithCorrelationID(ctx, "round-trip:1"), erpsync.BatchWriteRequest[json.RawMessage]{
			TenantID:   tenantID,
			EntityType: erpsync.EntityArticles,
			Mode:       erpsync.WriteUpsert,
			Items:      articleItems("A-999"),
		})
		require.Error(t, err)
		var apiErr *syncclient.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "ALREADY_EXISTS", apiErr.Code)

		_, getErr := s.Records.Get(ctx, tenantID, erpsync.EntityArticles, "A-999")
		assert.Error(t, getErr, "a replayed batch must not be applied")
	})

	t.Run("delta sync mirrors inserts and deletions", func(t *testing.T) {
		local, err := persistence.OpenSQLite(":memory:", nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = local.Close() })
		mirror := persistence.NewGormLocalStore(local.DB)

		runner := syncapp.NewDeltaSyncRunner(client, mirror, mirror,
			syncapp.WithRunnerBatchSize(4),
			syncapp.WithRunnerLogger(zaptest.NewLogger(t)))

		first, err := runner.Run(ctx, tenantID, erpsync.EntityArticles)
		require.NoError(t, err)
		assert.Equal(t, 12, first.Applied)
		assert.GreaterOrEqual(t, first.Pages, 3)
		live, err := mirror.CountLive(ctx, erpsync.EntityArticles)
		require.NoError(t, err)
		assert.Equal(t, int64(12), live)

		_, err = client.PushBatch(syncclient.WithCorrelationID(ctx, "round-trip:2"), erpsync.BatchWriteRequest[json.RawMessage]{
			TenantID:   tenantID,
			EntityType: erpsync.EntityArticles,
			Mode:       erpsync.WriteUpsert,
			Items: []json.RawMessage{
				json.RawMessage(`{"id":"A-000","deleted":true}`),
				json.RawMessage(`{"id":"A-001","name":"Renamed","listPrice":"9.99"}`),
			},
		})
		require.NoError(t, err)

		second, err := runner.Run(ctx, tenantID, erpsync.EntityArticles)
		require.NoError(t, err)
		assert.Equal(t, 1, second.Deleted)
		assert.Equal(t, 1, second.Applied)
		assert.Greater(t, second.FinalWatermark, first.FinalWatermark)

		live, err = mirror.CountLive(ctx, erpsync.EntityArticles)
		require.NoError(t, err)
		assert.Equal(t, int64(11), live)

		renamed, err := mirror.Find(ctx, erpsync.EntityArticles, "A-001")
		require.NoError(t, err)
		assert.Contains(t, string(renamed.Payload), "Renamed")

		third, err := runner.Run(ctx, tenantID, erpsync.EntityArticles)
		require.NoError(t, err)
		assert.Zero(t, third.Applied+third.Deleted)
		assert.Equal(t, second.FinalWatermark, third.FinalWatermark)
	})

	t.Run("stream delivers the live collection", func(t *testing.T) {
		var n int
		summary, err := client.Stream(ctx, erpsync.EntityArticles, func(raw json.RawMessage) error {
			n++
			return nil
		})
		require.NoError(t, err)
		assert.True(t, summary.Complete)
		assert.Equal(t, int64(11), summary.Items)
		assert.Equal(t, 11, n)
	})
}

func TestConnectorAuth(t *testing.T) {
	s := newStack(t)
	tenantID := testutil.TestTenantID()
	api, apiKey := s.connector(t, tenantID)

	t.Run("missing key is unauthorized", func(t *testing.T) {
		w := testutil.NewAPIClient(s.Engine).Do(t, http.MethodGet, "/api/v1/sync/articles/page", nil)
		testutil.AssertErrorResponse(t, w, http.StatusUnauthorized, "UNAUTHORIZED")
	})

	t.Run("foreign tenant header is forbidden", func(t *testing.T) {
		w := api.WithHeader(erpsync.HeaderTenantID, uuid.New().String()).
			Do(t, http.MethodGet, "/api/v1/sync/articles/page", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("revoked key stops working", func(t *testing.T) {
		admin := s.admin(tenantID)
		w := admin.Do(t, http.MethodGet, "/api/v1/credentials/api-keys", nil)
		require.Equal(t, http.StatusOK, w.Code)
		keys := testutil.DecodeData[[]struct {
			ID     string `json:"id"`
			Prefix string `json:"prefix"`
		}](t, w)
		require.Len(t, keys, 1)
		assert.Contains(t, apiKey, keys[0].Prefix)

		w = admin.Do(t, http.MethodDelete, "/api/v1/credentials/api-keys/"+keys[0].ID, nil)
		require.Less(t, w.Code, 300, w.Body.String())

		w = api.Do(t, http.MethodGet, "/api/v1/sync/articles/page", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("stored ERP credentials decrypt on the same host", func(t *testing.T) {
		other := testutil.NewTestUUID("credential-tenant")
		_, _ = s.connector(t, other)
		keys, err := s.Credentials.List(context.Background(), other)
		require.NoError(t, err)
		require.Len(t, keys, 1)

		err = s.Credentials.WithErpCredentials(context.Background(), other, keys[0].ID, func(c credential.ErpCredentials) error {
			assert.Equal(t, "erp-user", c.Username())
			assert.Equal(t, "erp-pass", c.Password())
			return nil
		})
		require.NoError(t, err)
	})
}
