package badgerkv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

func TestBadgerSeekAndRollback(t *testing.T) {
	e, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Update(func(tx ports.Tx) error {
		for _, k := range []string{"a/1", "b/1", "b/3", "c/1"} {
			if err := tx.Set([]byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	}))

	boom := errors.New("boom")
	require.ErrorIs(t, e.Update(func(tx ports.Tx) error {
		_ = tx.Delete([]byte("b/1"))
		return boom
	}), boom)

	require.NoError(t, e.View(func(tx ports.Tx) error {
		v, err := tx.Get([]byte("b/1"))
		require.NoError(t, err)
		assert.Equal(t, "b/1", string(v))

		k, _, ok, err := tx.Seek([]byte("b/"), []byte("b/2"), false)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "b/3", string(k))

		k, _, ok, err = tx.Seek([]byte("b/"), []byte("b/2"), true)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "b/1", string(k))

		_, err = tx.Get([]byte("zz"))
		assert.ErrorIs(t, err, ports.ErrKeyNotFound)

		var n int
		require.NoError(t, tx.Scan([]byte("b/"), func(_, _ []byte) error { n++; return nil }))
		assert.Equal(t, 2, n)
		return nil
	}))
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, e.Update(func(tx ports.Tx) error {
		return tx.Set([]byte("k"), []byte("v"))
	}))
	require.NoError(t, e.Close())

	e2, err := Open(Config{Path: dir, ReadOnly: true})
	require.NoError(t, err)
	defer e2.Close()
	require.NoError(t, e2.View(func(tx ports.Tx) error {
		v, err := tx.Get([]byte("k"))
		require.NoError(t, err)
		assert.Equal(t, "v", string(v))
		return nil
	}))
}
