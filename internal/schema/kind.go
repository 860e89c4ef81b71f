package schema

import "fmt"

// Kind identifies an entity type.
type Kind string

const (
	KindUser    Kind = "user"
	KindClient  Kind = "client"
	KindProject Kind = "project"
	KindTask    Kind = "task"
)

// Kinds returns every kind in dependency order. Later kinds may reference
// earlier ones, never the other way around.
func Kinds() []Kind {
	return []Kind{KindUser, KindClient, KindProject, KindTask}
}

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindUser, KindClient, KindProject, KindTask:
		return true
	}
	return false
}

// Parent returns the kind this kind references, or "" when it has none.
func (k Kind) Parent() Kind {
	switch k {
	case KindProject:
		return KindClient
	case KindTask:
		return KindProject
	}
	return ""
}

// Plural returns the collection name used in URLs and CLI output.
func (k Kind) Plural() string {
	return string(k) + "s"
}

// ParseKind converts a user-supplied name ("task", "tasks") into a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if s == string(k) || s == k.Plural() {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown kind %q (must be one of user, client, project, task)", s)
}
