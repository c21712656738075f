package confidential

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/tink/go/aead"
	"github.com/google/tink/go/insecurecleartextkeyset"
	"github.com/google/tink/go/keyset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

type TinkEngineSuite struct {
	suite.Suite
	engine    *TinkEngine
	registry  id.Address
	applicant id.Address
}

func TestTinkEngineSuite(t *testing.T) {
	suite.Run(t, new(TinkEngineSuite))
}

func (s *TinkEngineSuite) SetupTest() {
	var err error
	s.registry, err = id.ParseAddress("0x00000000000000000000000000000000000C3471")
	s.Require().NoError(err)
	s.applicant, err = id.ParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	s.Require().NoError(err)
	s.engine, err = NewTinkEngine(s.registry, "")
	s.Require().NoError(err)
}

func (s *TinkEngineSuite) TestEncryptProducesDistinctWellFormedHandles() {
	ctx := context.Background()
	h1, err := s.engine.Encrypt(ctx, 80)
	s.Require().NoError(err)
	h2, err := s.engine.Encrypt(ctx, 80)
	s.Require().NoError(err)

	s.NotEqual(h1, h2, "same plaintext must not yield the same handle")
	_, err = ParseHandle(h1.String())
	s.NoError(err)
}

func (s *TinkEngineSuite) TestSealedValueRoundTripsNetworkSide() {
	h, err := s.engine.Encrypt(context.Background(), 4)
	s.Require().NoError(err)

	v, err := s.engine.unseal(context.Background(), h)
	s.Require().NoError(err)
	s.Equal(uint64(4), v)
}

func (s *TinkEngineSuite) TestFreshHandleHasEmptyACL() {
	ctx := context.Background()
	h, err := s.engine.Encrypt(ctx, 1)
	s.Require().NoError(err)

	allowed, err := s.engine.IsAllowed(ctx, h, s.applicant)
	s.Require().NoError(err)
	s.False(allowed)
}

func (s *TinkEngineSuite) TestAllowAndAllowThis() {
	ctx := context.Background()
	h, err := s.engine.Encrypt(ctx, 1)
	s.Require().NoError(err)

	s.Require().NoError(s.engine.Allow(ctx, h, s.applicant))
	s.Require().NoError(s.engine.AllowThis(ctx, h))

	allowed, err := s.engine.IsAllowed(ctx, h, s.applicant)
	s.Require().NoError(err)
	s.True(allowed)

	allowed, err = s.engine.IsAllowed(ctx, h, s.registry)
	s.Require().NoError(err)
	s.True(allowed)
}

func (s *TinkEngineSuite) TestUnknownHandle() {
	err := s.engine.Allow(context.Background(), Handle("0x"+string(bytes.Repeat([]byte("ab"), 32))), s.applicant)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func TestNewTinkEngineFromKeysetJSON(t *testing.T) {
	kh, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, insecurecleartextkeyset.Write(kh, keyset.NewJSONWriter(&buf)))

	self, err := id.ParseAddress("0x00000000000000000000000000000000000C3471")
	require.NoError(t, err)
	engine, err := NewTinkEngine(self, buf.String())
	require.NoError(t, err)

	h, err := engine.Encrypt(context.Background(), 99)
	require.NoError(t, err)
	v, err := engine.unseal(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), v)
}

func TestNewTinkEngineRejectsGarbageKeyset(t *testing.T) {
	_, err := NewTinkEngine(id.Address{}, "{not json")
	assert.Error(t, err)
}

func TestParseHandle(t *testing.T) {
	_, err := ParseHandle("0x1234")
	assert.Error(t, err)
	_, err = ParseHandle("0x" + string(bytes.Repeat([]byte("zz"), 32)))
	assert.Error(t, err)
	h, err := ParseHandle("0x" + string(bytes.Repeat([]byte("AB"), 32)))
	require.NoError(t, err)
	assert.Equal(t, "0x"+string(bytes.Repeat([]byte("ab"), 32)), h.String())
}

func testKeyset(t *testing.T) string {
	t.Helper()
	kh, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, insecurecleartextkeyset.Write(kh, keyset.NewJSONWriter(&buf)))
	return buf.String()
}

func TestHandlesOutliveTheEngineThatSealedThem(t *testing.T) {
	ctx := context.Background()
	self, err := id.ParseAddress("0x00000000000000000000000000000000000C3471")
	require.NoError(t, err)
	holder, err := id.ParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	require.NoError(t, err)
	keys := testKeyset(t)
	vault := NewMemoryVault()

	before, err := NewTinkEngine(self, keys, WithVault(vault))
	require.NoError(t, err)
	h, err := before.Encrypt(ctx, 80)
	require.NoError(t, err)
	require.NoError(t, before.AllowThis(ctx, h))

	after, err := NewTinkEngine(self, keys, WithVault(vault))
	require.NoError(t, err)
	require.NoError(t, after.Allow(ctx, h, holder))

	allowed, err := after.IsAllowed(ctx, h, holder)
	require.NoError(t, err)
	assert.True(t, allowed)
	v, err := after.unseal(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, uint64(80), v)
}

func TestMemoryVaultRejectsDuplicateHandle(t *testing.T) {
	ctx := context.Background()
	vault := NewMemoryVault()
	h := Handle("0x" + string(bytes.Repeat([]byte("cd"), 32)))
	require.NoError(t, vault.PutSealed(ctx, h, []byte{1}))
	assert.ErrorIs(t, vault.PutSealed(ctx, h, []byte{2}), sentinel.ErrConflict)

	_, err := vault.Granted(ctx, Handle("0x"+string(bytes.Repeat([]byte("ef"), 32))), id.Address{})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
