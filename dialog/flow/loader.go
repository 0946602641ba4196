package flow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Mapping is a name-to-name map that additionally accepts the YAML
// shorthand sequence form, where each listed name maps to itself:
//
//	inputs: [origin, destination]
//
// is equivalent to
//
//	inputs: {origin: origin, destination: destination}
//
// In the shorthand form the value is stored empty and resolved against
// same-named slots at compile time.
type Mapping map[string]string

// UnmarshalYAML accepts both the mapping and the sequence form.
func (m *Mapping) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := value.Decode(&names); err != nil {
			return err
		}
		out := make(Mapping, len(names))
		for _, name := range names {
			if name == "" {
				return fmt.Errorf("line %d: empty name in mapping shorthand", value.Line)
			}
			if _, dup := out[name]; dup {
				return fmt.Errorf("line %d: duplicate name %q in mapping shorthand", value.Line, name)
			}
			out[name] = ""
		}
		*m = out
		return nil
	case yaml.MappingNode:
		var plain map[string]string
		if err := value.Decode(&plain); err != nil {
			return err
		}
		*m = plain
		return nil
	default:
		return fmt.Errorf("line %d: expected a mapping or a sequence of names", value.Line)
	}
}

// flowDocument is the on-disk document shape: either a top-level flows
// list or a bare list of definitions.
type flowDocument struct {
	Flows []Definition `yaml:"flows"`
}

// ParseYAML decodes flow definitions from YAML: a document with a
// top-level flows list, or a bare list of definitions. Unknown fields
// are rejected so typos surface at load time rather than as silently
// missing behavior.
func ParseYAML(data []byte) ([]Definition, error) {
	var doc flowDocument
	docErr := decodeStrict(data, &doc)
	if docErr == nil {
		return doc.Flows, nil
	}
	var defs []Definition
	if err := decodeStrict(data, &defs); err != nil {
		return nil, fmt.Errorf("parse flow definitions: %w", docErr)
	}
	return defs, nil
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// LoadYAML reads flow definitions from a single YAML file.
func LoadYAML(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow definitions: %w", err)
	}
	defs, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// LoadDir reads every .yaml and .yml file in dir, in lexical order,
// and concatenates their definitions.
func LoadDir(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read flow directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	var defs []Definition
	for _, path := range paths {
		fileDefs, err := LoadYAML(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, fileDefs...)
	}
	return defs, nil
}
