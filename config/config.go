// Package config loads the YAML document describing how a working copy
// translates files and labels merge conflicts: the default EOL style and
// keyword set, per-pattern overrides, and the three conflict-marker labels.
// Adapted from the teacher's config.Config, which compiled a TypeMaps list
// of "binary|text glob" pairs into ReTypeMaps []RegexpTypeMap; the same
// compile-glob-to-regexp shape carries over here, retargeted from
// git-filetype maps to svn:eol-style/svn:keywords overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rcowham/svn-wc-core/merge"
	"github.com/rcowham/svn-wc-core/subst"
	yaml "gopkg.in/yaml.v2"
)

// DefaultEOLStyle and DefaultKeywords match an untouched svn:eol-style /
// svn:keywords property pair: no translation at all.
const (
	DefaultEOLStyle = ""
	DefaultKeywords = ""
)

// PatternOverride applies a different eol-style/keywords pair to any
// working-copy path matching Pattern, analogous to the teacher's
// "binary //depot/foo/... " TypeMaps lines.
type PatternOverride struct {
	Pattern  string `yaml:"pattern"`
	EOLStyle string `yaml:"eol_style"`
	Keywords string `yaml:"keywords"`
}

// regexpOverride is a PatternOverride with its glob compiled to a regexp
// and its property strings parsed to subst types, the way the teacher's
// RegexpTypeMap carries a compiled *regexp.Regexp alongside journal.FileType.
type regexpOverride struct {
	RePath   *regexp.Regexp
	EOLStyle subst.EOLStyle
	EOLBytes []byte
	Keywords map[subst.Keyword]bool
}

// ConflictLabels names the three conflict-marker labels the merge engine
// writes into <<<<<<< / ||||||| / >>>>>>> lines; the ======= separator
// line carries no label.
type ConflictLabels struct {
	Mine     string `yaml:"mine"`
	Ancestor string `yaml:"ancestor"`
	Theirs   string `yaml:"theirs"`
}

// Config is the working copy's translation and merge configuration.
type Config struct {
	DefaultEOLStyle string            `yaml:"default_eol_style"`
	DefaultKeywords string            `yaml:"default_keywords"`
	Overrides       []PatternOverride `yaml:"overrides"`
	ConflictLabels  ConflictLabels    `yaml:"conflict_labels"`

	reOverrides []regexpOverride
}

// Unmarshal parses config, applying defaults for anything the document
// leaves unset and validating every pattern and property value.
func Unmarshal(config []byte) (*Config, error) {
	defaultLabels := merge.DefaultLabels()
	cfg := &Config{
		DefaultEOLStyle: DefaultEOLStyle,
		DefaultKeywords: DefaultKeywords,
		ConflictLabels: ConflictLabels{
			Mine:     defaultLabels.Mine,
			Ancestor: defaultLabels.Ancestor,
			Theirs:   defaultLabels.Theirs,
		},
	}
	if err := yaml.Unmarshal(config, cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to use 'single quotes' around strings with special characters (like match patterns)", err.Error())
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads and parses a configuration file.
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	cfg, err := LoadConfigString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return cfg, nil
}

// LoadConfigString parses a configuration document already held in memory.
func LoadConfigString(content []byte) (*Config, error) {
	return Unmarshal(content)
}

func (c *Config) validate() error {
	if _, _, ok := subst.EOLStyleFromValue(c.DefaultEOLStyle); !ok {
		return fmt.Errorf("default_eol_style %q is not one of '', native, LF, CR, CRLF", c.DefaultEOLStyle)
	}
	c.reOverrides = make([]regexpOverride, 0, len(c.Overrides))
	for _, o := range c.Overrides {
		if strings.TrimSpace(o.Pattern) == "" {
			return fmt.Errorf("override pattern must not be empty")
		}
		reStr := strings.ReplaceAll(o.Pattern, "...", ".*")
		reStr += "$"
		rePath, err := regexp.Compile(reStr)
		if err != nil {
			return fmt.Errorf("failed to parse %q as a regex: %v", o.Pattern, err)
		}
		style, eol, ok := subst.EOLStyleFromValue(o.EOLStyle)
		if !ok {
			return fmt.Errorf("override %q: eol_style %q is not one of '', native, LF, CR, CRLF", o.Pattern, o.EOLStyle)
		}
		c.reOverrides = append(c.reOverrides, regexpOverride{
			RePath:   rePath,
			EOLStyle: style,
			EOLBytes: eol,
			Keywords: subst.ParseKeywordSet(o.Keywords),
		})
	}
	return nil
}

// OptionsFor resolves the subst.Options to translate relpath, applying the
// first matching override in declaration order or falling back to the
// configured defaults.
func (c *Config) OptionsFor(relpath string, values subst.Values, expand bool) subst.Options {
	eolBytes := eolBytesFor(c.DefaultEOLStyle)
	keywords := subst.ParseKeywordSet(c.DefaultKeywords)
	for _, o := range c.reOverrides {
		if o.RePath.MatchString(relpath) {
			eolBytes = o.EOLBytes
			keywords = o.Keywords
			break
		}
	}
	return subst.Options{
		EOLBytes: eolBytes,
		Keywords: keywords,
		Values:   values,
		Expand:   expand,
	}
}

// MergeLabels converts the configured conflict-marker labels to the type
// the merge engine expects.
func (c *Config) MergeLabels() merge.Labels {
	return merge.Labels{
		Mine:     orDefault(c.ConflictLabels.Mine, "mine"),
		Ancestor: orDefault(c.ConflictLabels.Ancestor, "ancestor"),
		Theirs:   orDefault(c.ConflictLabels.Theirs, "theirs"),
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func eolBytesFor(value string) []byte {
	_, eol, _ := subst.EOLStyleFromValue(value)
	return eol
}
