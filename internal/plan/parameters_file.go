package plan

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadParameters reads a parameters file. JSON is accepted since it is
// valid YAML. Scalars are kept as strings (booleans excepted) so that hex
// addresses and large integers survive until they are coerced against the
// contract ABI.
func LoadParameters(path string) (Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parameters: %w", err)
	}
	return ParseParameters(data)
}

// ParseParameters decodes parameters from YAML or JSON bytes.
func ParseParameters(data []byte) (Parameters, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse parameters: %w", err)
	}

	params := Parameters{}
	if len(doc.Content) == 0 {
		return params, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse parameters: top level must be a mapping of module ids")
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		module := root.Content[i].Value
		values := root.Content[i+1]
		if values.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("parse parameters: module %s must map names to values", module)
		}
		for j := 0; j+1 < len(values.Content); j += 2 {
			v, err := nodeValue(values.Content[j+1])
			if err != nil {
				return nil, fmt.Errorf("parse parameters: %s.%s: %w", module, values.Content[j].Value, err)
			}
			params.Set(module, values.Content[j].Value, v)
		}
	}
	return params, nil
}

func nodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return nil, err
			}
			return b, nil
		case "!!null":
			return nil, nil
		}
		return n.Value, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	}
	return nil, fmt.Errorf("unsupported value at line %d", n.Line)
}

// ParseOverride parses a "Module.name=value" command line override. A
// value wrapped in brackets is split on commas into a list.
func ParseOverride(s string) (module, name string, value any, err error) {
	key, raw, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", nil, fmt.Errorf("override %q: expected Module.name=value", s)
	}
	module, name, ok = strings.Cut(key, ".")
	if !ok || module == "" || name == "" {
		return "", "", nil, fmt.Errorf("override %q: expected Module.name=value", s)
	}

	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		inner := strings.TrimSpace(raw[1 : len(raw)-1])
		items := []any{}
		if inner != "" {
			for _, item := range strings.Split(inner, ",") {
				items = append(items, strings.TrimSpace(item))
			}
		}
		return module, name, items, nil
	}
	switch raw {
	case "true":
		return module, name, true, nil
	case "false":
		return module, name, false, nil
	}
	return module, name, raw, nil
}
