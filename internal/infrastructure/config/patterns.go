package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Pattern is one named regular expression from a pattern file
type Pattern struct {
	Name    string `yaml:"name" toml:"name" json:"name"`
	Pattern string `yaml:"pattern" toml:"pattern" json:"pattern"`
}

// Patterns are the user's custom prompt and error matchers. They run
// after the built-in ones, in file order.
//
//	prompts:
//	  - name: lambda
//	    pattern: 'λ\s*$'
//	errors:
//	  - name: make
//	    pattern: '^make: \*\*\*'
type Patterns struct {
	Prompts []Pattern `yaml:"prompts" toml:"prompts" json:"prompts"`
	Errors  []Pattern `yaml:"errors" toml:"errors" json:"errors"`
}

// LoadPatterns reads a pattern file. The format follows the extension:
// .yaml/.yml, .toml or .json. An empty path yields no patterns.
func LoadPatterns(path string) (*Patterns, error) {
	if path == "" {
		return &Patterns{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern file: %w", err)
	}

	p, err := ParsePatterns(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParsePatterns decodes data in the format named by ext and validates
// every expression
func ParsePatterns(data []byte, ext string) (*Patterns, error) {
	var p Patterns
	var err error

	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &p)
	case "toml":
		err = toml.Unmarshal(data, &p)
	case "json":
		err = sonic.Unmarshal(data, &p)
	default:
		return nil, fmt.Errorf("unsupported pattern format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse patterns: %w", err)
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Patterns) validate() error {
	for _, group := range []struct {
		kind     string
		patterns []Pattern
	}{{"prompt", p.Prompts}, {"error", p.Errors}} {
		for i, pat := range group.patterns {
			if pat.Pattern == "" {
				return fmt.Errorf("%s pattern %d: empty expression", group.kind, i)
			}
			if _, err := regexp.Compile(pat.Pattern); err != nil {
				return fmt.Errorf("%s pattern %q: %w", group.kind, pat.Name, err)
			}
		}
	}
	return nil
}
