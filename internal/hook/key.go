// Package hook maps intercepted operation names to handler pairs and
// dispatches every intercepted call through one trampoline.
package hook

import "strings"

// OperationKey names an intercepted operation: either a bare function or
// a method on a scope. Names are case-folded.
type OperationKey struct {
	Scope string
	Name  string
}

// Function keys a bare function name.
func Function(name string) OperationKey {
	return OperationKey{Name: strings.ToLower(name)}
}

// Method keys a method name on scope.
func Method(scope, name string) OperationKey {
	return OperationKey{Scope: strings.ToLower(scope), Name: strings.ToLower(name)}
}

// IsMethod reports whether k is scoped.
func (k OperationKey) IsMethod() bool { return k.Scope != "" }

func (k OperationKey) String() string {
	if k.Scope != "" {
		return k.Scope + "->" + k.Name
	}
	return k.Name
}

// ParseKey parses "name" or "scope->name" (also "scope::name").
func ParseKey(s string) OperationKey {
	for _, sep := range []string{"->", "::"} {
		if i := strings.Index(s, sep); i > 0 {
			return Method(s[:i], s[i+len(sep):])
		}
	}
	return Function(s)
}
