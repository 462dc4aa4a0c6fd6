package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 0, exitCode(context.Canceled))
	assert.Equal(t, 0, exitCode(fmt.Errorf("run: %w", context.Canceled)))
	assert.Equal(t, 1, exitCode(errors.New("no saved cookies")))
}

func setupMocks(t *testing.T) (*int, *[]byte) {
	t.Helper()
	origWrite, origExit, origExecute := osWriteFile, osExit, execute
	t.Cleanup(func() {
		osWriteFile, osExit, execute = origWrite, origExit, origExecute
	})

	code := -1
	var written []byte
	osExit = func(c int) { code = c }
	osWriteFile = func(name string, data []byte, perm os.FileMode) error {
		assert.Equal(t, panicLogFile, name)
		written = data
		return nil
	}
	return &code, &written
}

func TestMain_ExitCodes(t *testing.T) {
	code, _ := setupMocks(t)

	execute = func(context.Context) error { return nil }
	main()
	assert.Equal(t, 0, *code)

	execute = func(context.Context) error { return errors.New("boom") }
	main()
	assert.Equal(t, 1, *code)
}

func TestHandlePanic(t *testing.T) {
	t.Run("writes the log", func(t *testing.T) {
		code, written := setupMocks(t)
		execute = func(context.Context) error { panic("tab exploded") }

		main()

		assert.Equal(t, 2, *code)
		require.NotEmpty(t, *written)
		assert.True(t, strings.HasPrefix(string(*written), "panic: tab exploded"))
	})

	t.Run("log write failure still exits", func(t *testing.T) {
		code, _ := setupMocks(t)
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }
		execute = func(context.Context) error { panic("again") }

		main()
		assert.Equal(t, 2, *code)
	})

	t.Run("no panic", func(t *testing.T) {
		code, _ := setupMocks(t)
		func() {
			defer handlePanic()
		}()
		assert.Equal(t, -1, *code)
	})
}
