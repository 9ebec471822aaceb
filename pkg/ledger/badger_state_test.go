package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerState_CreateReadUpdate(t *testing.T) {
	st := openBadger(t)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, "com.acme.lib", "1.0.0", []byte(`{"v":1}`)))
	assert.True(t, errors.Is(st.Create(ctx, "com.acme.lib", "1.0.0", []byte(`{"v":9}`)), ErrAlreadyExists))

	rec, err := st.Read(ctx, "com.acme.lib", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Revision)
	assert.Equal(t, `{"v":1}`, string(rec.Value))

	assert.True(t, errors.Is(st.Update(ctx, "com.acme.lib", "1.0.0", 7, []byte(`{"v":2}`)), ErrRevisionConflict))
	require.NoError(t, st.Update(ctx, "com.acme.lib", "1.0.0", 1, []byte(`{"v":2}`)))

	rec, err = st.Read(ctx, "com.acme.lib", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Revision)

	assert.True(t, errors.Is(st.Update(ctx, "com.acme.lib", "4.0.0", 1, nil), ErrNotFound))
	_, err = st.Read(ctx, "com.acme.lib", "4.0.0")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBadgerState_ListIsPrefixScoped(t *testing.T) {
	st := openBadger(t)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, "com.acme.lib", "1.0.0", []byte(`a`)))
	require.NoError(t, st.Create(ctx, "com.acme.lib", "2.0.0", []byte(`b`)))
	require.NoError(t, st.Create(ctx, "com.acme.lib2", "1.0.0", []byte(`c`)))

	recs, err := st.List(ctx, "com.acme.lib")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestDecodeBadgerValue_RejectsShortValue(t *testing.T) {
	_, err := decodeBadgerValue([]byte{1, 2})
	assert.Error(t, err)
}
