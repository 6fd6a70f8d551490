// Package location holds the province → district → municipality → ward catalog that
// drives the cascading address selects of provider registration.
package location

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed nepal.yaml
var defaultCatalog []byte

// Catalog is an ordered, read-only address hierarchy. Order follows the source document.
type Catalog struct {
	provinces []*province
}

type province struct {
	name      string
	districts []*district
}

type district struct {
	name           string
	municipalities []*municipality
}

type municipality struct {
	name  string
	wards []string
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("location: built-in catalog is invalid: %v", err))
	}
	return c
}

// LoadFile parses a catalog from a YAML or JSON file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a catalog document. The document is a nested mapping
// province → district → municipality whose leaves are either a list of ward
// labels or a ward count N meaning wards 1..N. JSON documents are accepted as-is.
func Parse(data []byte) (*Catalog, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("empty catalog")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("catalog root must be a mapping, got %s", kindName(root))
	}

	c := &Catalog{}
	err := eachPair(root, func(name string, value *yaml.Node) error {
		p := &province{name: name}
		if value.Kind != yaml.MappingNode {
			return fmt.Errorf("province %q must map districts", name)
		}
		err := eachPair(value, func(name string, value *yaml.Node) error {
			d := &district{name: name}
			if value.Kind != yaml.MappingNode {
				return fmt.Errorf("district %q must map municipalities", name)
			}
			err := eachPair(value, func(name string, value *yaml.Node) error {
				wards, err := parseWards(value)
				if err != nil {
					return fmt.Errorf("municipality %q: %w", name, err)
				}
				d.municipalities = append(d.municipalities, &municipality{name: name, wards: wards})
				return nil
			})
			if err != nil {
				return err
			}
			p.districts = append(p.districts, d)
			return nil
		})
		if err != nil {
			return err
		}
		c.provinces = append(c.provinces, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Provinces lists every province name.
func (c *Catalog) Provinces() []string {
	out := make([]string, 0, len(c.provinces))
	for _, p := range c.provinces {
		out = append(out, p.name)
	}
	return out
}

// Districts lists the districts of a province, or nil when the province is unknown.
func (c *Catalog) Districts(provinceName string) []string {
	p := c.province(provinceName)
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.districts))
	for _, d := range p.districts {
		out = append(out, d.name)
	}
	return out
}

// Municipalities lists the municipalities of a district within a province.
func (c *Catalog) Municipalities(provinceName, districtName string) []string {
	d := c.district(provinceName, districtName)
	if d == nil {
		return nil
	}
	out := make([]string, 0, len(d.municipalities))
	for _, m := range d.municipalities {
		out = append(out, m.name)
	}
	return out
}

// Wards lists the wards of a municipality.
func (c *Catalog) Wards(provinceName, districtName, municipalityName string) []string {
	d := c.district(provinceName, districtName)
	if d == nil {
		return nil
	}
	for _, m := range d.municipalities {
		if m.name == municipalityName {
			return append([]string(nil), m.wards...)
		}
	}
	return nil
}

func (c *Catalog) province(name string) *province {
	for _, p := range c.provinces {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (c *Catalog) district(provinceName, districtName string) *district {
	p := c.province(provinceName)
	if p == nil {
		return nil
	}
	for _, d := range p.districts {
		if d.name == districtName {
			return d
		}
	}
	return nil
}

func eachPair(n *yaml.Node, fn func(key string, value *yaml.Node) error) error {
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i]
		if key.Kind != yaml.ScalarNode || key.Value == "" {
			return fmt.Errorf("line %d: keys must be non-empty strings", key.Line)
		}
		if err := fn(key.Value, n.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func parseWards(n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case yaml.SequenceNode:
		wards := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode || item.Value == "" {
				return nil, fmt.Errorf("line %d: ward must be a scalar", item.Line)
			}
			wards = append(wards, item.Value)
		}
		return wards, nil
	case yaml.ScalarNode:
		count, err := strconv.Atoi(n.Value)
		if err != nil || count <= 0 {
			return nil, fmt.Errorf("line %d: ward count must be a positive integer", n.Line)
		}
		wards := make([]string, count)
		for i := range wards {
			wards[i] = strconv.Itoa(i + 1)
		}
		return wards, nil
	default:
		return nil, fmt.Errorf("line %d: wards must be a list or a count", n.Line)
	}
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "mapping"
	}
}
