package research

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed fields.yaml
var defaultCatalog []byte

// Catalog describes the canonical field keys produced by document
// normalization.
type Catalog struct {
	Fields map[string]FieldSpec `yaml:"fields"`
}

// FieldSpec labels a field key. Financial is false for descriptive facts
// such as square footage or year built.
type FieldSpec struct {
	Label     string `yaml:"label"`
	Unit      string `yaml:"unit"`
	Financial bool   `yaml:"financial"`
}

// LoadCatalog reads a catalog from path, or the built-in catalog when path
// is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "research: read catalog %s", path)
		}
	}
	return ParseCatalog(data)
}

// ParseCatalog parses catalog YAML with a top-level "catalog" key.
func ParseCatalog(data []byte) (*Catalog, error) {
	var wrapper struct {
		Catalog Catalog `yaml:"catalog"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "research: parse catalog")
	}
	if wrapper.Catalog.Fields == nil {
		wrapper.Catalog.Fields = map[string]FieldSpec{}
	}
	return &wrapper.Catalog, nil
}

// Lookup returns the FieldSpec for key. Unknown keys are treated as financial
// and labeled with the key itself.
func (c *Catalog) Lookup(key string) FieldSpec {
	if c != nil {
		if spec, ok := c.Fields[key]; ok {
			return spec
		}
	}
	return FieldSpec{Label: key, Financial: true}
}
