package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Options are the key-value options given to processors.
type Options map[string]string

// Get returns the value of the given option and whether it is set.
func (o Options) Get(key string) (string, bool) {
	v, ok := o[key]
	return v, ok
}

// Clone returns a copy of the options. The copy of nil options is empty.
func (o Options) Clone() Options {
	c := make(Options, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// LoadOptions reads options from a YAML (".yaml" or ".yml") or TOML (".toml")
// file. The file must hold a single table whose values are scalars. Values
// that are not strings are formatted with fmt.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("%w: unsupported options file type %q", ErrInvalidArgument, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("reading options from %s: %w", path, err)
	}
	opts := make(Options, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			opts[k] = v
		case nil:
			opts[k] = ""
		case map[string]any, []any:
			return nil, fmt.Errorf("reading options from %s: option %q is not a scalar", path, k)
		default:
			opts[k] = fmt.Sprint(v)
		}
	}
	return opts, nil
}
