package browser

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/sessionkeeper/internal/config"
)

func flagMap(flags []Flag) map[string]interface{} {
	m := make(map[string]interface{}, len(flags))
	for _, f := range flags {
		m[f.Name] = f.Value
	}
	return m
}

func TestFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		flags := flagMap(Flags(config.BrowserConfig{Headless: true}))
		assert.Equal(t, true, flags["headless"])
		assert.Equal(t, "AutomationControlled", flags["disable-blink-features"])
		assert.NotContains(t, flags, "disable-gpu")
		assert.NotContains(t, flags, "ignore-certificate-errors")
		assert.NotContains(t, flags, "disable-cache")
		if runtime.GOOS == "linux" {
			assert.Equal(t, true, flags["no-sandbox"])
			assert.Equal(t, true, flags["disable-dev-shm-usage"])
		}
	})

	t.Run("headful", func(t *testing.T) {
		flags := flagMap(Flags(config.BrowserConfig{Headless: false}))
		assert.Equal(t, false, flags["headless"])
	})

	t.Run("gpu and cache", func(t *testing.T) {
		flags := flagMap(Flags(config.BrowserConfig{DisableGPU: true, DisableCache: true}))
		assert.Equal(t, true, flags["disable-gpu"])
		assert.Equal(t, "0", flags["disk-cache-size"])
		assert.Equal(t, "0", flags["media-cache-size"])
		assert.Equal(t, true, flags["disable-cache"])
	})

	t.Run("ignore tls errors", func(t *testing.T) {
		flags := flagMap(Flags(config.BrowserConfig{IgnoreTLSErrors: true}))
		assert.Equal(t, true, flags["ignore-certificate-errors"])
		assert.Equal(t, true, flags["allow-insecure-localhost"])
	})

	t.Run("custom args", func(t *testing.T) {
		flags := Flags(config.BrowserConfig{Args: []string{
			"--lang=zh-CN",
			"--mute-audio",
			"window-size=1280,800",
			"--",
		}})
		m := flagMap(flags)
		assert.Equal(t, "zh-CN", m["lang"])
		assert.Equal(t, true, m["mute-audio"])
		assert.Equal(t, "1280,800", m["window-size"])
		assert.NotContains(t, m, "")
		// Custom args come last so they override the built-in switches.
		assert.Equal(t, "window-size", flags[len(flags)-1].Name)
	})
}

func TestAllocatorOptions(t *testing.T) {
	base := len(AllocatorOptions(config.BrowserConfig{}))
	assert.Greater(t, base, len(Flags(config.BrowserConfig{})), "chromedp defaults are kept")

	withPaths := AllocatorOptions(config.BrowserConfig{
		UserDataDir: "~/.sessionkeeper/profile",
		ExecPath:    "/usr/bin/chromium",
	})
	assert.Len(t, withPaths, base+2)
}
