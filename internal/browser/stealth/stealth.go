// Package stealth makes the automated tab present itself like the browser a
// person would use, so the site keeps treating the session as a normal login.
package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionkeeper/internal/config"
)

//go:embed evasions.js
var evasionsScript string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Persona defines the browser characteristics to emulate. Empty fields are
// left to the browser.
type Persona struct {
	UserAgent string   `json:"userAgent"`
	Platform  string   `json:"platform"`
	Languages []string `json:"languages"`
	Timezone  string   `json:"timezone"`
	Locale    string   `json:"locale"`
}

// NewPersona converts the configured persona.
func NewPersona(cfg config.PersonaConfig) Persona {
	return Persona{
		UserAgent: cfg.UserAgent,
		Platform:  cfg.Platform,
		Languages: append([]string(nil), cfg.Languages...),
		Timezone:  cfg.Timezone,
		Locale:    cfg.Locale,
	}
}

// Script returns the evasions bound to p, ready to run in every new document.
func Script(p Persona) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode persona: %w", err)
	}
	return "(" + strings.TrimSpace(evasionsScript) + ")(" + string(data) + ");", nil
}

// AcceptLanguage builds an Accept-Language value with descending weights,
// e.g. "zh-CN,zh;q=0.9,en;q=0.8".
func AcceptLanguage(languages []string) string {
	parts := make([]string, 0, len(languages))
	q := 10
	for _, lang := range languages {
		lang = strings.TrimSpace(lang)
		if lang == "" {
			continue
		}
		if len(parts) == 0 {
			parts = append(parts, lang)
		} else {
			parts = append(parts, fmt.Sprintf("%s;q=0.%d", lang, q))
		}
		if q > 1 {
			q--
		}
	}
	return strings.Join(parts, ",")
}

// Apply returns the DevTools actions that dress the current tab in p. They
// must run before the first navigation.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Applying browser stealth persona.",
		zap.String("user_agent", p.UserAgent),
		zap.String("platform", p.Platform),
		zap.Strings("languages", p.Languages),
	)

	acceptLanguage := AcceptLanguage(p.Languages)

	var tasks chromedp.Tasks
	if p.UserAgent != "" {
		override := emulation.SetUserAgentOverride(p.UserAgent).WithPlatform(p.Platform)
		if acceptLanguage != "" {
			override = override.WithAcceptLanguage(acceptLanguage)
		}
		tasks = append(tasks, override)
	}

	tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
		script, err := Script(p)
		if err != nil {
			return err
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			return fmt.Errorf("failed to inject evasions script: %w", err)
		}
		return nil
	}))

	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if acceptLanguage != "" {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguage,
		}))
	}
	return tasks
}
