package chunker

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/korrel8/semcode/internal/chunkmodel"
)

// languageConfig declares, per language, which tree-sitter node types mark
// the boundary of a chunkable symbol and how to classify it.
type languageConfig struct {
	tsLanguage    *sitter.Language
	functionTypes map[string]bool
	methodTypes   map[string]bool
	classTypes    map[string]bool
	interfaceTypes map[string]bool
	typeTypes     map[string]bool
	// nameChildTypes lists, per symbol node type, the child node type that
	// holds its identifier.
	nameChildTypes map[string]string
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, i := range items {
		m[i] = true
	}
	return m
}

var registry = map[string]languageConfig{
	"go": {
		tsLanguage:    golang.GetLanguage(),
		functionTypes: toSet([]string{"function_declaration"}),
		methodTypes:   toSet([]string{"method_declaration"}),
		typeTypes:     toSet([]string{"type_declaration"}),
		nameChildTypes: map[string]string{
			"function_declaration": "identifier",
			"method_declaration":   "field_identifier",
			"type_declaration":     "type_spec",
		},
	},
	"python": {
		tsLanguage:    python.GetLanguage(),
		functionTypes: toSet([]string{"function_definition"}),
		classTypes:    toSet([]string{"class_definition"}),
		nameChildTypes: map[string]string{
			"function_definition": "identifier",
			"class_definition":    "identifier",
		},
	},
	"javascript": {
		tsLanguage:    javascript.GetLanguage(),
		functionTypes: toSet([]string{"function_declaration"}),
		methodTypes:   toSet([]string{"method_definition"}),
		classTypes:    toSet([]string{"class_declaration"}),
		nameChildTypes: map[string]string{
			"function_declaration": "identifier",
			"method_definition":    "property_identifier",
			"class_declaration":    "identifier",
		},
	},
	"typescript": {
		tsLanguage:     typescript.GetLanguage(),
		functionTypes:  toSet([]string{"function_declaration"}),
		methodTypes:    toSet([]string{"method_definition"}),
		classTypes:     toSet([]string{"class_declaration"}),
		interfaceTypes: toSet([]string{"interface_declaration"}),
		typeTypes:      toSet([]string{"type_alias_declaration"}),
		nameChildTypes: map[string]string{
			"function_declaration":   "identifier",
			"method_definition":      "property_identifier",
			"class_declaration":      "type_identifier",
			"interface_declaration":  "type_identifier",
			"type_alias_declaration": "type_identifier",
		},
	},
	"tsx": {
		tsLanguage:     tsx.GetLanguage(),
		functionTypes:  toSet([]string{"function_declaration"}),
		methodTypes:    toSet([]string{"method_definition"}),
		classTypes:     toSet([]string{"class_declaration"}),
		interfaceTypes: toSet([]string{"interface_declaration"}),
		typeTypes:      toSet([]string{"type_alias_declaration"}),
		nameChildTypes: map[string]string{
			"function_declaration":   "identifier",
			"method_definition":      "property_identifier",
			"class_declaration":      "type_identifier",
			"interface_declaration":  "type_identifier",
			"type_alias_declaration": "type_identifier",
		},
	},
}

func (c languageConfig) classify(nodeType string) (chunkmodel.Kind, bool) {
	switch {
	case c.functionTypes[nodeType]:
		return chunkmodel.KindFunction, true
	case c.methodTypes[nodeType]:
		return chunkmodel.KindMethod, true
	case c.classTypes[nodeType]:
		return chunkmodel.KindClass, true
	case c.interfaceTypes[nodeType]:
		return chunkmodel.KindInterface, true
	case c.typeTypes[nodeType]:
		return chunkmodel.KindType, true
	}
	return "", false
}

// Supported reports whether language has a tree-sitter grammar wired up.
func Supported(language string) bool {
	_, ok := registry[language]
	return ok
}
