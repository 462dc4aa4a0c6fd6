package stealth

import (
	"strings"
	"testing"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/sessionkeeper/internal/config"
)

func testPersona() Persona {
	return NewPersona(config.NewDefaultConfig().Browser.Persona)
}

func TestNewPersona(t *testing.T) {
	cfg := config.PersonaConfig{UserAgent: "UA", Platform: "Win32", Languages: []string{"zh-CN"}, Timezone: "Asia/Shanghai", Locale: "zh-CN"}
	p := NewPersona(cfg)
	assert.Equal(t, Persona{UserAgent: "UA", Platform: "Win32", Languages: []string{"zh-CN"}, Timezone: "Asia/Shanghai", Locale: "zh-CN"}, p)

	cfg.Languages[0] = "en"
	assert.Equal(t, "zh-CN", p.Languages[0], "persona owns its language list")
}

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "zh-CN,zh;q=0.9,en;q=0.8", AcceptLanguage([]string{"zh-CN", "zh", "en"}))
	assert.Equal(t, "en-US", AcceptLanguage([]string{"en-US"}))
	assert.Equal(t, "en-US,en;q=0.9", AcceptLanguage([]string{" en-US ", "", "en"}))
	assert.Empty(t, AcceptLanguage(nil))
}

func TestScript(t *testing.T) {
	script, err := Script(Persona{Platform: `Win"32`, Languages: []string{"zh-CN"}})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(script, "((persona) =>"))
	assert.True(t, strings.HasSuffix(script, ");"))
	assert.Contains(t, script, `"platform":"Win\"32"`, "persona values are JSON encoded")
	assert.Contains(t, script, `"languages":["zh-CN"]`)
	assert.Contains(t, script, "'webdriver'")
}

func TestApply(t *testing.T) {
	t.Run("full persona", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		tasks := Apply(testPersona(), zap.New(core))

		// user agent, script, timezone, locale, headers
		require.Len(t, tasks, 5)
		ua, ok := tasks[0].(*emulation.SetUserAgentOverrideParams)
		require.True(t, ok)
		assert.Contains(t, ua.UserAgent, "Chrome/")
		assert.Equal(t, "Win32", ua.Platform)
		assert.Equal(t, "zh-CN,zh;q=0.9,en;q=0.8", ua.AcceptLanguage)

		tz, ok := tasks[2].(*emulation.SetTimezoneOverrideParams)
		require.True(t, ok)
		assert.Equal(t, "Asia/Shanghai", tz.TimezoneID)

		headers, ok := tasks[4].(*network.SetExtraHTTPHeadersParams)
		require.True(t, ok)
		assert.Equal(t, "zh-CN,zh;q=0.9,en;q=0.8", headers.Headers["Accept-Language"])

		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "Applying browser stealth persona.", logs.All()[0].Message)
	})

	t.Run("empty persona only injects the script", func(t *testing.T) {
		tasks := Apply(Persona{}, nil)
		assert.Len(t, tasks, 1)
	})
}
