package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapsolpay/ledger-engine/ledger"
	"github.com/snapsolpay/ledger-engine/store/memory"
)

func TestBlobs_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	require.NoError(t, m.Put(ctx, "k", []byte("abc")))

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	got[0] = 'x'

	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrBlobNotFound)
}

func TestBlobs_FailWrites(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	boom := errors.New("boom")
	m.FailWrites(boom)

	err := m.PutBatch(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, m.Keys())

	m.FailWrites(nil)
	require.NoError(t, m.PutBatch(ctx, map[string][]byte{"b": []byte("2"), "a": []byte("1")}))
	assert.Equal(t, []string{"a", "b"}, m.Keys())
}
