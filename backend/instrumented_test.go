package backend

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestInstrumented(t *testing.T) *InstrumentedBackend {
	t.Helper()
	return NewInstrumentedBackend(newTestFilesystem(t), "filesystem")
}

func TestInstrumentedBackend_WriteRead(t *testing.T) {
	ib := newTestInstrumented(t)
	ctx := context.Background()
	content := "hello, instrumented backend"

	n, err := ib.Write(ctx, "packages/a/1.0.0.pkg", strings.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), n)

	rc, err := ib.Read(ctx, "packages/a/1.0.0.pkg")
	require.NoError(t, err)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, content, string(got))

	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close(), "second close reports once")
}

func TestInstrumentedBackend_Read_NotFound(t *testing.T) {
	ib := newTestInstrumented(t)

	_, err := ib.Read(context.Background(), "packages/missing/1.0.0.pkg")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInstrumentedBackend_StatListDelete(t *testing.T) {
	ib := newTestInstrumented(t)
	ctx := context.Background()

	_, err := ib.Write(ctx, "packages/a/1.0.0.pkg", strings.NewReader("abc"))
	require.NoError(t, err)

	info, err := ib.Stat(ctx, "packages/a/1.0.0.pkg")
	require.NoError(t, err)
	require.Equal(t, int64(3), info.Size)

	infos, err := ib.List(ctx, "packages")
	require.NoError(t, err)
	require.Len(t, infos, 1)

	infos, err = ib.ListIncomplete(ctx, "packages")
	require.NoError(t, err)
	require.Empty(t, infos)

	require.NoError(t, ib.Delete(ctx, "packages/a/1.0.0.pkg"))
	_, err = ib.Stat(ctx, "packages/a/1.0.0.pkg")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInstrumentedBackend_Unwrap(t *testing.T) {
	fsb := newTestFilesystem(t)
	ib := NewInstrumentedBackend(fsb, "filesystem")
	require.Same(t, fsb, ib.Unwrap())
}

func TestOutcomeFromError(t *testing.T) {
	require.Equal(t, "success", outcomeFromError(nil))
	require.Equal(t, "not_found", outcomeFromError(ErrNotFound))
	require.Equal(t, "error", outcomeFromError(ErrInvalidKey))
}
