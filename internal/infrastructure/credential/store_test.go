package credential

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_FallbackWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "password")

	s, err := Open(path, "from-env", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.Password())
}

func TestOpen_FileWinsOverFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "password")
	require.NoError(t, os.WriteFile(path, []byte("stored\n"), 0o600))

	s, err := Open(path, "from-env", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "stored", s.Password())
}

func TestSetPassword_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "password")

	s, err := Open(path, "", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.SetPassword("n3w"))
	assert.Equal(t, "n3w", s.Password())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := Open(path, "ignored", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "n3w", reopened.Password())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSetPassword_RejectsEmpty(t *testing.T) {
	s, err := Open("", "keep", zerolog.Nop())
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetPassword(""), ErrEmptyPassword)
	assert.Equal(t, "keep", s.Password())
}

func TestSetPassword_MemoryOnly(t *testing.T) {
	s, err := Open("", "", zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.SetPassword("volatile"))
	assert.Equal(t, "volatile", s.Password())
}
