// Package config loads the editor configuration from an HCL file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"slices"

	"github.com/agentic-research/formgraph/internal/document"
	"github.com/agentic-research/formgraph/internal/paths"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/golang/glog"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// ErrInvalidConfig wraps every decoding failure.
var ErrInvalidConfig = errors.New("invalid config")

// DefaultFile is looked up when no config path is given.
const DefaultFile = "formgraph.hcl"

// Config is the decoded configuration file.
type Config struct {
	Root              string   `hcl:"root,optional"`
	DefaultLanguage   string   `hcl:"default_language,optional"`
	Languages         []string `hcl:"languages,optional"`
	ReservedNames     []string `hcl:"reserved_names,optional"`
	AllowedReferences []string `hcl:"allowed_references,optional"`
	Aliases           []Alias  `hcl:"alias,block"`
	Sources           []Source `hcl:"source,block"`
}

// Alias declares a hashtag namespace. #form is derived from Root and
// cannot be declared.
type Alias struct {
	Hashtag   string   `hcl:"hashtag,label"`
	Canonical string   `hcl:"canonical"`
	Instances []string `hcl:"instances,optional"`
}

// Source is a well-known data source.
type Source struct {
	ID  string `hcl:"id,label"`
	URI string `hcl:"uri"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	c := &Config{}
	c.fill()
	return c
}

func (c *Config) fill() {
	if c.Root == "" {
		c.Root = "data"
	}
	if c.DefaultLanguage == "" {
		if len(c.Languages) > 0 {
			c.DefaultLanguage = c.Languages[0]
		} else {
			c.DefaultLanguage = "en"
		}
	}
	langs := []string{c.DefaultLanguage}
	for _, l := range c.Languages {
		if !slices.Contains(langs, l) {
			langs = append(langs, l)
		}
	}
	c.Languages = langs
	if c.ReservedNames == nil {
		c.ReservedNames = []string{"case", "registration", "script"}
	}
	if len(c.Aliases) == 0 {
		for _, r := range paths.DefaultRules() {
			c.Aliases = append(c.Aliases, Alias{Hashtag: r.Hashtag, Canonical: r.Canonical, Instances: r.Instances})
		}
	}
}

func (c *Config) check() error {
	seen := make(map[string]bool)
	for _, a := range c.Aliases {
		switch {
		case a.Hashtag == "#form":
			return fmt.Errorf("%w: #form is derived from root", ErrInvalidConfig)
		case len(a.Hashtag) < 2 || a.Hashtag[0] != '#':
			return fmt.Errorf("%w: alias %q must start with #", ErrInvalidConfig, a.Hashtag)
		case seen[a.Hashtag]:
			return fmt.Errorf("%w: alias %s declared twice", ErrInvalidConfig, a.Hashtag)
		}
		seen[a.Hashtag] = true
	}
	ids := make(map[string]bool)
	for _, s := range c.Sources {
		if ids[s.ID] {
			return fmt.Errorf("%w: source %s declared twice", ErrInvalidConfig, s.ID)
		}
		ids[s.ID] = true
	}
	return nil
}

// Decode parses HCL source. filename is used in diagnostics and must end in
// .hcl for native syntax or .json for the JSON variant; other names are
// read as native syntax.
func Decode(filename string, src []byte) (*Config, error) {
	if ext := path.Ext(filename); ext != ".hcl" && ext != ".json" {
		filename += ".hcl"
	}
	var c Config
	if err := hclsimple.Decode(filename, src, nil, &c); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	c.fill()
	return &c, nil
}

// Load reads name from fs. A missing file yields Default.
func Load(fs billy.Filesystem, name string) (*Config, error) {
	src, err := util.ReadFile(fs, name)
	if errors.Is(err, os.ErrNotExist) {
		if glog.V(1) {
			glog.Infof("config: %s not found, using defaults", name)
		}
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", name, err)
	}
	return Decode(name, src)
}

// Rules returns the alias rules.
func (c *Config) Rules() []paths.Rule {
	rules := make([]paths.Rule, 0, len(c.Aliases))
	for _, a := range c.Aliases {
		rules = append(rules, paths.Rule{Hashtag: a.Hashtag, Canonical: a.Canonical, Instances: a.Instances})
	}
	return rules
}

// Catalog maps well-known data source ids to their uris.
func (c *Config) Catalog() map[string]string {
	m := make(map[string]string, len(c.Sources))
	for _, s := range c.Sources {
		m[s.ID] = s.URI
	}
	return m
}

// Options converts the configuration to document options.
func (c *Config) Options() []document.Option {
	return []document.Option{
		document.WithAliasRules(c.Rules()...),
		document.WithCatalog(c.Catalog()),
		document.WithReserved(c.ReservedNames...),
		document.WithAllowedReferences(c.AllowedReferences...),
		document.WithLanguages(c.Languages...),
	}
}
