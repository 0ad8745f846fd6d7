// Package endpoints maps logical CirclesFundMe API names to request paths.
package endpoints

import (
	"maps"
	"slices"
	"strings"
)

// Logical endpoint names used across the client.
const (
	Auth                = "auth"
	Accounts            = "accounts"
	Users               = "users"
	Financials          = "financials"
	LoanApplications    = "loanapplications"
	ContributionSchemes = "contributionschemes"
	Notifications       = "notifications"
	Utility             = "utility"
)

// Table resolves logical endpoint names to paths relative to the API base URL.
type Table map[string]string

// Default returns the built-in endpoint table.
func Default() Table {
	return Table{
		Auth:                "auth",
		Accounts:            "accounts",
		Users:               "users",
		Financials:          "financials",
		LoanApplications:    "loanapplications",
		ContributionSchemes: "contributionschemes",
		Notifications:       "notifications",
		Utility:             "utility",
	}
}

// WithOverrides returns a copy of t with the given entries replacing or extending it.
// Empty override values are ignored.
func (t Table) WithOverrides(overrides map[string]string) Table {
	out := make(Table, len(t)+len(overrides))
	maps.Copy(out, t)
	for name, path := range overrides {
		if strings.TrimSpace(path) == "" {
			continue
		}
		out[name] = path
	}
	return out
}

// Resolve returns the path registered for name, or name itself when it is not a
// known logical endpoint (raw paths such as "users/me" pass through).
func (t Table) Resolve(name string) string {
	if path, ok := t[name]; ok {
		return path
	}
	return name
}

// Join resolves name and appends any non-empty extra segments with "/".
func (t Table) Join(name string, segments ...string) string {
	path := t.Resolve(name)
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		path += "/" + seg
	}
	return path
}

// Names returns the registered logical names in sorted order.
func (t Table) Names() []string {
	return slices.Sorted(maps.Keys(t))
}
