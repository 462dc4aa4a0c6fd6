package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/sessionkeeper/internal/config"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// runContract exercises the behaviour every backend must share.
func runContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "last_refresh", []byte("1700000000000")))
	got, err := s.Get(ctx, "last_refresh")
	require.NoError(t, err)
	assert.Equal(t, "1700000000000", string(got))

	// Overwrite replaces, never appends.
	require.NoError(t, s.Set(ctx, "last_refresh", []byte("1700000000999")))
	got, err = s.Get(ctx, "last_refresh")
	require.NoError(t, err)
	assert.Equal(t, "1700000000999", string(got))

	// Keys are independent.
	require.NoError(t, s.Set(ctx, "auto_refresh", []byte("true")))
	got, err = s.Get(ctx, "last_refresh")
	require.NoError(t, err)
	assert.Equal(t, "1700000000999", string(got))

	require.NoError(t, s.Close())
}

func TestFileStore(t *testing.T) {
	t.Run("contract", func(t *testing.T) {
		s, err := NewFileStore(afero.NewMemMapFs(), "/state/keeper.json")
		require.NoError(t, err)
		runContract(t, s)
	})

	t.Run("persists across instances", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		first, err := NewFileStore(fs, "/state/keeper.json")
		require.NoError(t, err)
		require.NoError(t, first.Set(context.Background(), "auto_refresh", []byte("true")))

		second, err := NewFileStore(fs, "/state/keeper.json")
		require.NoError(t, err)
		got, err := second.Get(context.Background(), "auto_refresh")
		require.NoError(t, err)
		assert.Equal(t, "true", string(got))

		leftovers, err := afero.Glob(fs, "/state/*.tmp")
		require.NoError(t, err)
		assert.Empty(t, leftovers, "temporary files must be renamed away")
	})

	t.Run("concurrent writers on one path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		const writers, perWriter = 4, 100

		var wg sync.WaitGroup
		errs := make(chan error, writers*perWriter)
		for w := 0; w < writers; w++ {
			// One instance per writer, as separate processes would have.
			s, err := NewFileStore(nil, path)
			require.NoError(t, err)
			wg.Add(1)
			go func(w int, s *FileStore) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					if err := s.Set(context.Background(), fmt.Sprintf("w%d-%d", w, i), []byte("v")); err != nil {
						errs <- err
					}
				}
			}(w, s)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("Set failed: %v", err)
		}

		reader, err := NewFileStore(nil, path)
		require.NoError(t, err)
		for w := 0; w < writers; w++ {
			for i := 0; i < perWriter; i++ {
				_, err := reader.Get(context.Background(), fmt.Sprintf("w%d-%d", w, i))
				assert.NoError(t, err, "acknowledged write w%d-%d was lost", w, i)
			}
		}
		leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, leftovers)
	})

	t.Run("held lock bounds the write by its context", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		s, err := NewFileStore(nil, path)
		require.NoError(t, err)

		other := flock.New(path + ".lock")
		locked, err := other.TryLock()
		require.NoError(t, err)
		require.True(t, locked)
		defer other.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err = s.Set(ctx, "auto_refresh", []byte("true"))
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		require.NoError(t, other.Unlock())
		require.NoError(t, s.Set(context.Background(), "auto_refresh", []byte("true")))
	})

	t.Run("corrupt document is reported", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/state/keeper.json", []byte("{not json"), 0o600))
		s, err := NewFileStore(fs, "/state/keeper.json")
		require.NoError(t, err)

		_, err = s.Get(context.Background(), "auto_refresh")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "corrupt")
	})

	t.Run("cancelled context rejects writes", func(t *testing.T) {
		s, err := NewFileStore(afero.NewMemMapFs(), "/state/keeper.json")
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, s.Set(ctx, "k", []byte("v")), context.Canceled)
	})
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "keeper.db"))
	require.NoError(t, err)
	runContract(t, s)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	runContract(t, NewKeyringStore("sessionkeeper-test"))

	t.Run("backend errors are wrapped", func(t *testing.T) {
		boom := errors.New("dbus unavailable")
		keyring.MockInitWithError(boom)
		t.Cleanup(keyring.MockInit)

		_, err := NewKeyringStore("svc").Get(context.Background(), "k")
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()

	newMockStore := func(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
		t.Helper()
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		t.Cleanup(mockPool.Close)

		mockPool.ExpectExec(flexibleSQLMatcher(pgSchema)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		s, err := NewPostgresStore(ctx, mockPool, zaptest.NewLogger(t))
		require.NoError(t, err)
		return mockPool, s
	}

	t.Run("schema failure is propagated", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		schemaErr := errors.New("permission denied")
		mockPool.ExpectExec(flexibleSQLMatcher(pgSchema)).WillReturnError(schemaErr)

		_, err = NewPostgresStore(ctx, mockPool, zap.NewNop())
		assert.ErrorIs(t, err, schemaErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("get existing key", func(t *testing.T) {
		mockPool, s := newMockStore(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(pgSelect)).
			WithArgs("auto_refresh").
			WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte("true")))

		got, err := s.Get(ctx, "auto_refresh")
		require.NoError(t, err)
		assert.Equal(t, "true", string(got))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("get missing key maps to ErrNotFound", func(t *testing.T) {
		mockPool, s := newMockStore(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(pgSelect)).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("set upserts with timestamp", func(t *testing.T) {
		mockPool, s := newMockStore(t)
		mockPool.ExpectExec(flexibleSQLMatcher(pgUpsert)).
			WithArgs("last_refresh", []byte("42"), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.Set(ctx, "last_refresh", []byte("42")))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("file", func(t *testing.T) {
		s, err := Open(ctx, config.StoreConfig{Type: config.StoreFile, Path: filepath.Join(t.TempDir(), "state.json")}, logger)
		require.NoError(t, err)
		assert.IsType(t, &FileStore{}, s)
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(ctx, config.StoreConfig{Type: config.StoreSQLite, Path: filepath.Join(t.TempDir(), "state.db")}, logger)
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &SQLiteStore{}, s)
	})

	t.Run("keyring", func(t *testing.T) {
		s, err := Open(ctx, config.StoreConfig{Type: config.StoreKeyring, KeyringService: "svc"}, logger)
		require.NoError(t, err)
		assert.IsType(t, &KeyringStore{}, s)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Open(ctx, config.StoreConfig{Type: "etcd"}, logger)
		assert.ErrorContains(t, err, `unknown store type "etcd"`)
	})
}
