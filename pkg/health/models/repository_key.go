package models

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// RepositoryKey identifies a repository independently of letter case.
type RepositoryKey struct {
	Owner   string
	Project string
}

func NewRepositoryKey(owner, project string) (RepositoryKey, error) {
	k := RepositoryKey{
		Owner:   strings.ToLower(strings.TrimSpace(owner)),
		Project: strings.ToLower(strings.TrimSpace(project)),
	}
	if k.Owner == "" || k.Project == "" {
		return RepositoryKey{}, errors.Errorf("invalid repository %q/%q: owner and project are required", owner, project)
	}
	if strings.Contains(k.Owner, "/") || strings.Contains(k.Project, "/") {
		return RepositoryKey{}, errors.Errorf("invalid repository %q/%q: names can't contain '/'", owner, project)
	}

	return k, nil
}

// ParseRepositoryKey parses "owner/project".
func ParseRepositoryKey(fullName string) (RepositoryKey, error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 {
		return RepositoryKey{}, fmt.Errorf("invalid repository name %q: must be owner/project", fullName)
	}

	return NewRepositoryKey(parts[0], parts[1])
}

func (k RepositoryKey) String() string {
	return k.Owner + "/" + k.Project
}
