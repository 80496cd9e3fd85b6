package config

import (
	"testing"

	"github.com/rcowham/svn-wc-core/subst"
	"github.com/stretchr/testify/assert"
)

const defaultConfig = `
default_eol_style:		native
default_keywords:		Id
overrides:
conflict_labels:
`

func checkValue(t *testing.T, fieldname string, val string, expected string) {
	if val != expected {
		t.Fatalf("Error parsing %s, expected '%v' got '%v'", fieldname, expected, val)
	}
}

func TestValidConfig(t *testing.T) {
	cfg := loadOrFail(t, defaultConfig)
	checkValue(t, "DefaultEOLStyle", cfg.DefaultEOLStyle, "native")
	checkValue(t, "DefaultKeywords", cfg.DefaultKeywords, "Id")
	assert.Empty(t, cfg.Overrides)
}

func TestEmptyConfig(t *testing.T) {
	cfg := loadOrFail(t, "")
	checkValue(t, "DefaultEOLStyle", cfg.DefaultEOLStyle, "")
	checkValue(t, "DefaultKeywords", cfg.DefaultKeywords, "")
	assert.Empty(t, cfg.Overrides)
	checkValue(t, "ConflictLabels.Mine", cfg.ConflictLabels.Mine, "mine")
	checkValue(t, "ConflictLabels.Ancestor", cfg.ConflictLabels.Ancestor, "ancestor")
	checkValue(t, "ConflictLabels.Theirs", cfg.ConflictLabels.Theirs, "theirs")
}

func TestOverride1(t *testing.T) {
	const cfgString = `
overrides:
- pattern: 	trunk/docs/...
  eol_style:	LF
  keywords:		Id Revision
`
	cfg := loadOrFail(t, cfgString)
	assert.Equal(t, 1, len(cfg.Overrides))
	assert.Equal(t, "trunk/docs/...", cfg.Overrides[0].Pattern)
	assert.Equal(t, 1, len(cfg.reOverrides))
	assert.True(t, cfg.reOverrides[0].RePath.MatchString("trunk/docs/readme.txt"))
	assert.False(t, cfg.reOverrides[0].RePath.MatchString("trunk/src/readme.txt"))
}

func TestOverride2(t *testing.T) {
	const cfgString = `
overrides:
- pattern:	...\.bin
  eol_style:
  keywords:
`
	cfg := loadOrFail(t, cfgString)
	assert.Equal(t, 1, len(cfg.Overrides))
	assert.True(t, cfg.reOverrides[0].RePath.MatchString("some/file.bin"))
	assert.True(t, cfg.reOverrides[0].RePath.MatchString("file.bin"))
}

func TestOverridesMatchFirstInDeclarationOrder(t *testing.T) {
	const cfgString = `
default_eol_style: native
overrides:
- pattern: trunk/docs/...
  eol_style: LF
  keywords: Id
- pattern: ...
  eol_style: CRLF
  keywords:
`
	cfg := loadOrFail(t, cfgString)

	opts := cfg.OptionsFor("trunk/docs/readme.txt", subst.Values{}, true)
	assert.Equal(t, []byte("\n"), opts.EOLBytes)
	assert.True(t, opts.Keywords[subst.KeywordID])

	opts = cfg.OptionsFor("trunk/src/main.c", subst.Values{}, true)
	assert.Equal(t, []byte("\r\n"), opts.EOLBytes)
	assert.False(t, opts.Keywords[subst.KeywordID])
}

func TestOptionsForFallsBackToDefaultsWhenNothingMatches(t *testing.T) {
	const cfgString = `
default_eol_style: LF
default_keywords: Revision
overrides:
- pattern: trunk/docs/...
  eol_style: CRLF
`
	cfg := loadOrFail(t, cfgString)
	opts := cfg.OptionsFor("trunk/src/main.c", subst.Values{}, true)
	assert.Equal(t, []byte("\n"), opts.EOLBytes)
	assert.True(t, opts.Keywords[subst.KeywordRevision])
}

func TestInvalidEOLStyleFails(t *testing.T) {
	ensureFail(t, "default_eol_style: bogus", "default_eol_style")
}

func TestInvalidOverrideRegexFails(t *testing.T) {
	const cfgString = `
overrides:
- pattern:	"["
  eol_style:
`
	ensureFail(t, cfgString, "regex")
}

func TestEmptyOverridePatternFails(t *testing.T) {
	const cfgString = `
overrides:
- pattern:
  eol_style: LF
`
	ensureFail(t, cfgString, "empty pattern")
}

func ensureFail(t *testing.T, cfgString string, desc string) {
	_, err := Unmarshal([]byte(cfgString))
	if err == nil {
		t.Fatalf("Expected config err not found: %s", desc)
	}
	t.Logf("Config err: %v", err.Error())
}

func loadOrFail(t *testing.T, cfgString string) *Config {
	cfg, err := Unmarshal([]byte(cfgString))
	if err != nil {
		t.Fatalf("Failed to read config: %v", err.Error())
	}
	return cfg
}
