// Package language holds the metadata used to open conversations: the
// greeting and topic prompt for each supported language and its ISO code
// for speech transcription.
package language

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/harun/korli/pkg/errkind"
)

//go:embed languages.yaml
var defaultTable []byte

// Language is one catalog entry.
type Language struct {
	Name     string `yaml:"name" json:"name"`
	Code     string `yaml:"code" json:"code"`
	Greeting string `yaml:"greeting" json:"greeting"`
	Topic    string `yaml:"topic" json:"topic"`
}

type table struct {
	Languages []Language `yaml:"languages"`
}

// Catalog is an immutable name-indexed set of languages.
type Catalog struct {
	byName map[string]Language
	names  []string
}

// Parse builds a catalog from YAML. Names must be unique and every entry
// needs a code and a greeting.
func Parse(data []byte) (*Catalog, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse language table: %w", err)
	}

	c := &Catalog{byName: make(map[string]Language, len(t.Languages))}
	for i, lang := range t.Languages {
		if lang.Name == "" {
			return nil, fmt.Errorf("language %d: name is required", i)
		}
		if lang.Code == "" || lang.Greeting == "" {
			return nil, fmt.Errorf("language %s: code and greeting are required", lang.Name)
		}
		if _, dup := c.byName[lang.Name]; dup {
			return nil, fmt.Errorf("language %s: duplicate entry", lang.Name)
		}
		c.byName[lang.Name] = lang
		c.names = append(c.names, lang.Name)
	}
	sort.Strings(c.names)
	return c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(defaultTable)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Lookup returns the entry for name. Names are matched exactly, as
// "Spanish (Spain)" and "Spanish (Mexico)" are distinct entries.
func (c *Catalog) Lookup(name string) (Language, error) {
	if strings.TrimSpace(name) == "" {
		return Language{}, &errkind.Error{Kind: errkind.UnsupportedLanguage, Op: "language", Err: fmt.Errorf("language cannot be empty")}
	}
	lang, ok := c.byName[name]
	if !ok {
		return Language{}, &errkind.Error{Kind: errkind.UnsupportedLanguage, Op: "language", Err: fmt.Errorf("%q is not supported", name)}
	}
	return lang, nil
}

// Supported reports whether name is in the catalog.
func (c *Catalog) Supported(name string) bool {
	_, ok := c.byName[name]
	return ok
}

func (c *Catalog) Greeting(name string) (string, error) {
	lang, err := c.Lookup(name)
	return lang.Greeting, err
}

func (c *Catalog) Topic(name string) (string, error) {
	lang, err := c.Lookup(name)
	return lang.Topic, err
}

func (c *Catalog) Code(name string) (string, error) {
	lang, err := c.Lookup(name)
	return lang.Code, err
}

// Names returns the supported language names in sorted order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// All returns every entry sorted by name.
func (c *Catalog) All() []Language {
	out := make([]Language, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.byName[name])
	}
	return out
}
