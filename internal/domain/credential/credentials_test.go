package credential

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErpCredentials_NeverRendersSecret(t *testing.T) {
	creds := NewErpCredentials([]byte("erp-admin"), []byte("s3cret!"))

	renderings := []string{
		fmt.Sprint(creds),
		fmt.Sprintf("%v", creds),
		fmt.Sprintf("%+v", creds),
		fmt.Sprintf("%#v", creds),
		fmt.Sprintf("%s", creds),
		fmt.Sprintf("%v", struct{ C ErpCredentials }{creds}),
	}
	data, err := json.Marshal(map[string]any{"creds": creds})
	require.NoError(t, err)
	renderings = append(renderings, string(data))

	for _, r := range renderings {
		assert.NotContains(t, r, "s3cret")
		assert.NotContains(t, r, "erp-admin")
	}
	assert.Equal(t, "erp-admin", creds.Username())
	assert.Equal(t, "s3cret!", creds.Password())
}

func TestErpCredentials_Wipe(t *testing.T) {
	user := []byte("user")
	pass := []byte("pass")
	creds := NewErpCredentials(user, pass)
	creds.Wipe()

	assert.True(t, creds.IsZero())
	assert.Equal(t, []byte{0, 0, 0, 0}, user)
	assert.Equal(t, []byte{0, 0, 0, 0}, pass)
}

func TestTenantAPIKey_Revoke(t *testing.T) {
	key, err := NewTenantAPIKey(uuid.New(), "connector", "ck_abcd", []byte("hash"), []byte("u"), []byte("p"))
	require.NoError(t, err)
	assert.True(t, key.IsActive)
	assert.True(t, key.HasErpCredentials())

	created := key.UpdatedAt
	require.NoError(t, key.Revoke())
	assert.False(t, key.IsActive)
	require.NotNil(t, key.RevokedAt)
	assert.Equal(t, 2, key.Version)
	assert.Equal(t, *key.RevokedAt, key.UpdatedAt)
	assert.False(t, key.UpdatedAt.Before(created))

	assert.ErrorIs(t, key.Revoke(), ErrAPIKeyRevoked)
}

func TestTenantAPIKey_MarkUsed(t *testing.T) {
	key, err := NewTenantAPIKey(uuid.New(), "connector", "ck_abcd", []byte("hash"), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, key.LastUsedAt)

	key.MarkUsed()
	assert.NotNil(t, key.LastUsedAt)
	assert.Equal(t, 1, key.Version)
}

func TestNewTenantAPIKey_Validation(t *testing.T) {
	_, err := NewTenantAPIKey(uuid.Nil, "n", "p", []byte("h"), nil, nil)
	assert.Error(t, err)
	_, err = NewTenantAPIKey(uuid.New(), "", "p", []byte("h"), nil, nil)
	assert.Error(t, err)
	_, err = NewTenantAPIKey(uuid.New(), "n", "", nil, nil, nil)
	assert.Error(t, err)
}
