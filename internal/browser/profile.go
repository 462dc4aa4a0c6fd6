package browser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/sessionkeeper/internal/config"
)

// ErrProfileInUse means another Chromium, usually a running 'sessionkeeper
// run', holds the profile directory.
var ErrProfileInUse = errors.New("browser profile is in use by another process")

// singletonLock is the symlink Chromium keeps in a profile it has open. Its
// target reads "<hostname>-<pid>".
const singletonLock = "SingletonLock"

// profileDir returns the expanded user data directory, or "" for a
// throwaway profile.
func profileDir(cfg config.BrowserConfig) string {
	if cfg.UserDataDir == "" {
		return ""
	}
	dir, err := homedir.Expand(cfg.UserDataDir)
	if err != nil {
		return cfg.UserDataDir
	}
	return dir
}

// checkProfile returns ErrProfileInUse (wrapped) if a live browser holds dir.
// A lock left behind by a dead process on this host is ignored; Chromium
// replaces it on startup.
func checkProfile(dir string) error {
	if dir == "" {
		return nil
	}
	lockPath := filepath.Join(dir, singletonLock)
	owner, err := os.Readlink(lockPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		if _, statErr := os.Lstat(lockPath); statErr != nil {
			return nil
		}
		return fmt.Errorf("%w: %s (unreadable lock)", ErrProfileInUse, dir)
	}

	host, pid, ok := parseLockOwner(owner)
	if !ok {
		return fmt.Errorf("%w: %s (lock held by %q)", ErrProfileInUse, dir, owner)
	}
	if hostname, err := os.Hostname(); err != nil || hostname != host {
		return fmt.Errorf("%w: %s (held by pid %d on host %s)", ErrProfileInUse, dir, pid, host)
	}
	if processAlive(pid) {
		return fmt.Errorf("%w: %s (held by pid %d)", ErrProfileInUse, dir, pid)
	}
	return nil
}

// parseLockOwner splits "<hostname>-<pid>". Host names may contain dashes, so
// the pid is whatever follows the last one.
func parseLockOwner(owner string) (host string, pid int, ok bool) {
	i := strings.LastIndexByte(owner, '-')
	if i <= 0 {
		return "", 0, false
	}
	pid, err := strconv.Atoi(owner[i+1:])
	if err != nil || pid <= 0 {
		return "", 0, false
	}
	return owner[:i], pid, true
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
