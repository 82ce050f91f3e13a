// Package syncapp serves and consumes the ERP sync protocol: cursor pages,
// watermark deltas, batch writes and the connector-side delta runner.
package syncapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/google/uuid"
)

// MinCursorSecretLength is the shortest signing secret accepted
const MinCursorSecretLength = 16

// ErrWeakCursorSecret is returned for a missing or short signing secret
var ErrWeakCursorSecret = errors.New("cursor secret must be at least 16 bytes")

var b64 = base64.RawURLEncoding

// CursorPosition is the keyset position carried by a page cursor. Scope
// binds the cursor to the tenant and entity type it was issued for.
type CursorPosition struct {
	Scope      string `json:"s"`
	SortField  string `json:"f"`
	Descending bool   `json:"d,omitempty"`
	SortValue  string `json:"v"`
	ID         string `json:"id"`
}

// ContinuationToken pins a multi-batch delta cycle to the change-log
// snapshot taken when the cycle started
type ContinuationToken struct {
	TenantID       uuid.UUID          `json:"t"`
	EntityType     erpsync.EntityType `json:"e"`
	AfterSeq       int64              `json:"a"`
	TargetSeq      int64              `json:"u"`
	IncludeDeleted bool               `json:"x"`
}

// CursorCodec signs cursors and continuation tokens so clients cannot forge
// or edit positions. Both are opaque: base64url(JSON) "." base64url(HMAC).
type CursorCodec struct {
	key []byte
}

// NewCursorCodec creates a codec signing with HMAC-SHA256 over secret
func NewCursorCodec(secret string) (*CursorCodec, error) {
	if len(secret) < MinCursorSecretLength {
		return nil, ErrWeakCursorSecret
	}
	return &CursorCodec{key: []byte(secret)}, nil
}

// CursorScope renders the scope a cursor is bound to
func CursorScope(tenantID uuid.UUID, entityType erpsync.EntityType) string {
	return tenantID.String() + "/" + string(entityType)
}

// EncodeCursor signs a page position
func (c *CursorCodec) EncodeCursor(pos CursorPosition) (string, error) {
	return c.seal(pos)
}

// DecodeCursor verifies and decodes a page cursor
func (c *CursorCodec) DecodeCursor(cursor string) (CursorPosition, error) {
	var pos CursorPosition
	if !c.open(cursor, &pos) || pos.ID == "" {
		return CursorPosition{}, erpsync.ErrInvalidCursor
	}
	return pos, nil
}

// EncodeToken signs a continuation token
func (c *CursorCodec) EncodeToken(tok ContinuationToken) (string, error) {
	return c.seal(tok)
}

// DecodeToken verifies a continuation token and checks that it belongs to
// the requesting tenant and entity type
func (c *CursorCodec) DecodeToken(token string, tenantID uuid.UUID, entityType erpsync.EntityType) (ContinuationToken, error) {
	var tok ContinuationToken
	if !c.open(token, &tok) {
		return ContinuationToken{}, erpsync.ErrInvalidContinuationToken
	}
	if tok.TenantID != tenantID || tok.EntityType != entityType {
		return ContinuationToken{}, erpsync.ErrInvalidContinuationToken
	}
	if tok.AfterSeq < 0 || tok.TargetSeq < tok.AfterSeq {
		return ContinuationToken{}, erpsync.ErrInvalidContinuationToken
	}
	return tok, nil
}

func (c *CursorCodec) seal(v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	payload := b64.EncodeToString(body)
	return payload + "." + b64.EncodeToString(c.sign(payload)), nil
}

func (c *CursorCodec) open(s string, v any) bool {
	payload, sig, ok := strings.Cut(s, ".")
	if !ok || payload == "" {
		return false
	}
	got, err := b64.DecodeString(sig)
	if err != nil || !hmac.Equal(got, c.sign(payload)) {
		return false
	}
	body, err := b64.DecodeString(payload)
	if err != nil {
		return false
	}
	return json.Unmarshal(body, v) == nil
}

func (c *CursorCodec) sign(payload string) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}
