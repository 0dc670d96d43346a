package memkv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

func TestSeekWithinPrefix(t *testing.T) {
	e := New()
	require.NoError(t, e.Update(func(tx ports.Tx) error {
		for _, k := range []string{"a/1", "b/1", "b/3", "b/5", "c/1"} {
			if err := tx.Set([]byte(k), []byte("v"+k)); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, e.View(func(tx ports.Tx) error {
		k, v, ok, err := tx.Seek([]byte("b/"), []byte("b/2"), false)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "b/3", string(k))
		assert.Equal(t, "vb/3", string(v))

		k, _, ok, _ = tx.Seek([]byte("b/"), []byte("b/4"), true)
		require.True(t, ok)
		assert.Equal(t, "b/3", string(k))

		k, _, ok, _ = tx.Seek([]byte("b/"), []byte("a"), false)
		require.True(t, ok)
		assert.Equal(t, "b/1", string(k))

		_, _, ok, _ = tx.Seek([]byte("b/"), []byte("b/6"), false)
		assert.False(t, ok)

		_, _, ok, _ = tx.Seek([]byte("b/"), []byte("b/0"), true)
		assert.False(t, ok)
		return nil
	}))
}

func TestUpdateRollsBackOnError(t *testing.T) {
	e := New()
	boom := errors.New("boom")
	err := e.Update(func(tx ports.Tx) error {
		if err := tx.Set([]byte("k"), []byte("v")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, e.Len())

	require.NoError(t, e.View(func(tx ports.Tx) error {
		_, err := tx.Get([]byte("k"))
		assert.ErrorIs(t, err, ports.ErrKeyNotFound)
		return nil
	}))
}

func TestScanAndReadOnlyView(t *testing.T) {
	e := New()
	require.NoError(t, e.Update(func(tx ports.Tx) error {
		_ = tx.Set([]byte("p/2"), []byte("2"))
		_ = tx.Set([]byte("p/1"), []byte("1"))
		return tx.Set([]byte("q/1"), []byte("x"))
	}))

	var keys []string
	require.NoError(t, e.View(func(tx ports.Tx) error {
		assert.Error(t, tx.Set([]byte("p/3"), nil))
		return tx.Scan([]byte("p/"), func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	}))
	assert.Equal(t, []string{"p/1", "p/2"}, keys)

	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.View(func(ports.Tx) error { return nil }), ErrClosed)
}
