package localblob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

func TestStore_PutGetList(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "processed/features.csv", strings.NewReader("a,b\n1,2\n"), "text/csv"))
	require.NoError(t, s.PutMultipart(ctx, "processed/features_train.csv", strings.NewReader("a,b\n"), 0))
	require.NoError(t, s.Put(ctx, "raw/games.csv", strings.NewReader("x"), "text/csv"))

	rc, err := s.Get(ctx, "processed/features.csv")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(body))

	infos, err := s.List(ctx, "processed/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "processed/features.csv", infos[0].Path)
	assert.Equal(t, int64(8), infos[0].Size)

	ok, err := s.Exists(ctx, "raw/games.csv")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "k.csv", strings.NewReader("old"), ""))
	require.NoError(t, s.Put(ctx, "k.csv", strings.NewReader("new"), ""))

	rc, err := s.Get(ctx, "k.csv")
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "new", string(body))

	infos, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, infos, 1, "no temporary files are left behind")
}

func TestStore_Missing(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(ctx, "nope.csv")
	require.ErrorIs(t, err, domain.ErrNotFound)

	ok, err := s.Exists(ctx, "nope.csv")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RejectsEscapingKeys(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "../etc/passwd")
	require.Error(t, err)
	require.Error(t, s.Put(context.Background(), "..", strings.NewReader(""), ""))
}
