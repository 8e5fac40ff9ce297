package catalog

// #region imports
import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// #endregion

// #region load

// LoadCatalog reads policy tables from a YAML file. A missing file yields
// the built-in defaults; a malformed or inconsistent file is a fatal
// configuration error.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog decodes and validates catalog YAML. Unknown fields are
// rejected so a typo in a policy table cannot silently relax it.
func ParseCatalog(raw []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	c.Normalize()
	return &c, nil
}

// #endregion load
