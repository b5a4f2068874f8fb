package queue

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Drop is one batch of absolute file paths delivered by a drop event.
type Drop []string

// Validate checks the payload shape before it reaches admission.
func (d Drop) Validate() error {
	if len(d) == 0 {
		return fmt.Errorf("%w: no paths", ErrInvalidDrop)
	}
	for _, p := range d {
		if p == "" {
			return fmt.Errorf("%w: empty path", ErrInvalidDrop)
		}
		if !filepath.IsAbs(p) {
			return fmt.Errorf("%w: %q is not an absolute path", ErrInvalidDrop, p)
		}
	}
	return nil
}

// Admission is the outcome of filtering one drop.
type Admission struct {
	Accepted []string `json:"accepted"`
	Rejected []string `json:"rejected"`
}

// Warning names the accepted extensions when something was rejected, and is
// empty otherwise.
func (a Admission) Warning(accepts []string) string {
	if len(a.Rejected) == 0 {
		return ""
	}
	if len(accepts) == 0 {
		return "only files with an extension are accepted"
	}
	upper := make([]string, len(accepts))
	for i, ext := range accepts {
		upper[i] = strings.ToUpper(ext)
	}
	return fmt.Sprintf("only %s files are accepted", strings.Join(upper, "/"))
}

// Admit deduplicates candidates against existing and against each other,
// then keeps the ones whose extension is in accepts. A nil accepts admits
// every deduplicated candidate. Duplicates are dropped silently: they are
// neither accepted nor rejected.
func Admit(candidates []string, existing map[string]struct{}, accepts []string) Admission {
	var allowed map[string]struct{}
	if accepts != nil {
		allowed = make(map[string]struct{}, len(accepts))
		for _, ext := range accepts {
			allowed[strings.ToLower(ext)] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	var out Admission
	for _, p := range candidates {
		if _, ok := existing[p]; ok {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}

		if allowed != nil {
			if _, ok := allowed[Extension(p)]; !ok {
				out.Rejected = append(out.Rejected, p)
				continue
			}
		}
		out.Accepted = append(out.Accepted, p)
	}
	return out
}

// requireExtension moves accepted paths without an extension to Rejected.
func (a Admission) requireExtension() Admission {
	var out Admission
	out.Rejected = append(out.Rejected, a.Rejected...)
	for _, p := range a.Accepted {
		if Extension(p) == "" {
			out.Rejected = append(out.Rejected, p)
			continue
		}
		out.Accepted = append(out.Accepted, p)
	}
	return out
}
