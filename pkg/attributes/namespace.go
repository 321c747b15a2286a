package attributes

import (
	"fmt"
	"strings"
)

// Namespace identifies one subsystem's attribute store.
type Namespace uint8

const (
	NamespaceClient Namespace = iota + 1
	NamespaceGame
	NamespaceRules
	NamespaceOptions
	NamespaceUnits
	NamespaceMap
)

// Namespaces lists every namespace in a stable order.
var Namespaces = []Namespace{
	NamespaceClient,
	NamespaceGame,
	NamespaceRules,
	NamespaceOptions,
	NamespaceUnits,
	NamespaceMap,
}

func (n Namespace) String() string {
	switch n {
	case NamespaceClient:
		return "client"
	case NamespaceGame:
		return "game"
	case NamespaceRules:
		return "rules"
	case NamespaceOptions:
		return "options"
	case NamespaceUnits:
		return "units"
	case NamespaceMap:
		return "map"
	default:
		return fmt.Sprintf("namespace(%d)", uint8(n))
	}
}

// ParseNamespace parses the name returned by Namespace.String.
func ParseNamespace(s string) (Namespace, error) {
	for _, n := range Namespaces {
		if n.String() == s {
			return n, nil
		}
	}
	return 0, fmt.Errorf("unknown namespace: %s", s)
}

func (n Namespace) Valid() bool {
	return n >= NamespaceClient && n <= NamespaceMap
}

// Prefix is the first segment of every key in the namespace.
func (n Namespace) Prefix() string {
	switch n {
	case NamespaceUnits:
		return "unit"
	case NamespaceMap:
		return "tile"
	default:
		return n.String()
	}
}

// EntityDepth is the number of key segments after the prefix that identify an entity.
// Units are keyed unit.<id>.<field>, tiles tile.<x>.<y>.<field>.
func (n Namespace) EntityDepth() int {
	switch n {
	case NamespaceUnits:
		return 1
	case NamespaceMap:
		return 2
	default:
		return 0
	}
}

// Key builds a namespaced attribute key.
func (n Namespace) Key(entity, field string) string {
	if entity == "" {
		return n.Prefix() + "." + field
	}
	return n.Prefix() + "." + entity + "." + field
}

// EntityPrefix returns the key prefix shared by every field of an entity.
func (n Namespace) EntityPrefix(entity string) string {
	return n.Prefix() + "." + entity + "."
}

// Owns reports whether key belongs to the namespace.
func (n Namespace) Owns(key string) bool {
	_, _, ok := n.Split(key)
	return ok
}

// Split breaks a key into its entity and field parts.
func (n Namespace) Split(key string) (entity, field string, ok bool) {
	rest, found := strings.CutPrefix(key, n.Prefix()+".")
	if !found || rest == "" {
		return "", "", false
	}
	depth := n.EntityDepth()
	if depth == 0 {
		return "", rest, true
	}
	parts := strings.SplitN(rest, ".", depth+1)
	if len(parts) != depth+1 {
		return "", "", false
	}
	for _, p := range parts {
		if p == "" {
			return "", "", false
		}
	}
	return strings.Join(parts[:depth], "."), parts[depth], true
}

// Schema maps the known fields of a namespace to their kinds.
type Schema map[string]Kind

var schemas = map[Namespace]Schema{
	NamespaceClient: {
		"username":   KindString,
		"player_id":  KindInt,
		"session":    KindString,
		"connected":  KindBool,
		"last_error": KindString,
	},
	NamespaceGame: {
		"turn":       KindInt,
		"year":       KindInt,
		"phase":      KindInt,
		"started":    KindBool,
		"ended":      KindBool,
		"end_reason": KindString,
		"winner":     KindInt,
		"player_id":  KindInt,
	},
	NamespaceRules: {
		"name":       KindString,
		"version":    KindString,
		"unit_types": KindSet,
	},
	NamespaceOptions: {
		"topology": KindString,
		"ruleset":  KindString,
		"timeout":  KindInt,
		"xsize":    KindInt,
		"ysize":    KindInt,
	},
	NamespaceUnits: {
		"type":       KindString,
		"owner":      KindInt,
		"hp":         KindInt,
		"x":          KindInt,
		"y":          KindInt,
		"moves_left": KindInt,
		"veteran":    KindInt,
		"activity":   KindString,
		"visible":    KindSet,
	},
	NamespaceMap: {
		"terrain":  KindString,
		"owner":    KindInt,
		"known":    KindBool,
		"resource": KindString,
		"extras":   KindSet,
	},
}

// FieldKind returns the declared kind of a field. Unknown fields report false and
// accept any kind so newer servers can add fields.
func (n Namespace) FieldKind(field string) (Kind, bool) {
	k, ok := schemas[n][field]
	return k, ok
}
