package browser

import (
	"runtime"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/sessionkeeper/internal/config"
)

// Flag is a single Chromium command-line switch.
type Flag struct {
	Name  string
	Value interface{}
}

// Flags lists the switches applied on top of chromedp's defaults for cfg.
func Flags(cfg config.BrowserConfig) []Flag {
	flags := []Flag{
		{"headless", cfg.Headless},
		{"disable-blink-features", "AutomationControlled"},
		{"disable-extensions", true},
	}
	if cfg.DisableGPU {
		flags = append(flags, Flag{"disable-gpu", true})
	}
	if cfg.IgnoreTLSErrors {
		flags = append(flags,
			Flag{"ignore-certificate-errors", true},
			Flag{"allow-insecure-localhost", true},
		)
	}
	if cfg.DisableCache {
		flags = append(flags,
			Flag{"disk-cache-size", "0"},
			Flag{"media-cache-size", "0"},
			Flag{"disable-cache", true},
		)
	}

	// Containers on Linux rarely allow the sandbox or a large /dev/shm.
	if runtime.GOOS == "linux" {
		flags = append(flags,
			Flag{"no-sandbox", true},
			Flag{"disable-dev-shm-usage", true},
		)
	}

	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags = append(flags, Flag{name, value})
		} else {
			flags = append(flags, Flag{name, true})
		}
	}
	return flags
}

// AllocatorOptions translates cfg into exec allocator options. The
// enable-automation default is dropped so the site sees an ordinary browser,
// and a persistent profile directory keeps the login across restarts.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("enable-automation", false))

	for _, f := range Flags(cfg) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	if dir := profileDir(cfg); dir != "" {
		opts = append(opts, chromedp.UserDataDir(dir))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}
