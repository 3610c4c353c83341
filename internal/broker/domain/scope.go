package domain

import (
	"errors"
	"slices"
	"strings"
)

const (
	ScopeProjectsRead  = "projects:read"
	ScopeProjectsWrite = "projects:write"
	ScopeTasksRead     = "tasks:read"
	ScopeTasksWrite    = "tasks:write"
	ScopeCommentsRead  = "comments:read"
	ScopeCommentsWrite = "comments:write"
)

// SupportedScopes lists every scope the broker can grant, in display order.
var SupportedScopes = []string{
	ScopeProjectsRead,
	ScopeProjectsWrite,
	ScopeTasksRead,
	ScopeTasksWrite,
	ScopeCommentsRead,
	ScopeCommentsWrite,
}

// ErrUnknownScope is returned by NormalizeScopes for a scope outside
// SupportedScopes.
var ErrUnknownScope = errors.New("domain: unknown scope")

// NormalizeScopes parses a space separated scope request. An empty request
// grants every supported scope. Duplicates are dropped and the result follows
// SupportedScopes order.
func NormalizeScopes(raw string) ([]string, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return slices.Clone(SupportedScopes), nil
	}

	for _, f := range fields {
		if !slices.Contains(SupportedScopes, f) {
			return nil, errors.Join(ErrUnknownScope, errors.New(f))
		}
	}

	out := make([]string, 0, len(fields))
	for _, s := range SupportedScopes {
		if slices.Contains(fields, s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// JoinScopes renders scopes as the space separated wire form.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
