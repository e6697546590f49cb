package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var embeddedPack []byte

// Template is one archetype prefix in a pack.
type Template struct {
	Archetype string `yaml:"archetype"`
	Priority  int    `yaml:"priority"`
	Content   string `yaml:"content"`
}

// Pack holds the archetype templates the composer draws from.
type Pack struct {
	Templates []Template `yaml:"templates"`

	byArchetype map[Archetype][]Template
}

// LoadEmbeddedPack parses the pack shipped with the binary.
func LoadEmbeddedPack() (*Pack, error) {
	return parsePack(embeddedPack)
}

// LoadPackFile parses a project-provided pack, for overriding the
// embedded defaults.
func LoadPackFile(path string) (*Pack, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template pack %s: %w", path, err)
	}
	pack, err := parsePack(raw)
	if err != nil {
		return nil, fmt.Errorf("template pack %s: %w", path, err)
	}
	return pack, nil
}

func parsePack(raw []byte) (*Pack, error) {
	var pack Pack
	if err := yaml.Unmarshal(raw, &pack); err != nil {
		return nil, fmt.Errorf("parse template pack: %w", err)
	}
	pack.byArchetype = make(map[Archetype][]Template)
	for _, tpl := range pack.Templates {
		arch, err := ParseArchetype(tpl.Archetype)
		if err != nil {
			return nil, err
		}
		if tpl.Content == "" {
			return nil, fmt.Errorf("archetype %s: empty template content", arch)
		}
		pack.byArchetype[arch] = append(pack.byArchetype[arch], tpl)
	}
	for arch := range pack.byArchetype {
		tpls := pack.byArchetype[arch]
		sort.SliceStable(tpls, func(i, j int) bool { return tpls[i].Priority < tpls[j].Priority })
	}
	for _, arch := range Archetypes() {
		if len(pack.byArchetype[arch]) == 0 {
			return nil, fmt.Errorf("template pack is missing archetype %s", arch)
		}
	}
	return &pack, nil
}

// TemplatesFor returns the prefix templates for an archetype in
// priority order.
func (p *Pack) TemplatesFor(arch Archetype) []Template {
	return p.byArchetype[arch]
}
