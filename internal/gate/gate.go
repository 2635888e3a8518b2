// Package gate decides, per route and identity, whether a request proceeds or is redirected.
package gate

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"quill/api/internal/auth"
)

type Class string

const (
	ClassProtected  Class = "protected"
	ClassPublicOnly Class = "public-only"
	ClassOpen       Class = "open"
)

const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

type Route struct {
	Method string
	Path   string
}

// Pattern matches a path exactly or, when Prefix is set, any path starting with Path.
type Pattern struct {
	Path   string
	Prefix bool
}

func Exact(p string) Pattern  { return Pattern{Path: p} }
func Prefix(p string) Pattern { return Pattern{Path: p, Prefix: true} }

func (p Pattern) matches(requestPath string) bool {
	if p.Prefix {
		return strings.HasPrefix(requestPath, p.Path)
	}
	return requestPath == p.Path
}

// Rule binds a pattern to a class. Empty Methods means every method.
type Rule struct {
	Class   Class
	Pattern Pattern
	Methods []string
}

func (r Rule) matches(route Route) bool {
	if !r.Pattern.matches(route.Path) {
		return false
	}
	if len(r.Methods) == 0 {
		return true
	}
	for _, method := range r.Methods {
		if strings.EqualFold(method, route.Method) {
			return true
		}
	}
	return false
}

// Decision is the gate's verdict. Redirect is empty when Allowed.
type Decision struct {
	Class    Class  `json:"class"`
	Allowed  bool   `json:"allowed"`
	Redirect string `json:"redirect,omitempty"`
}

type Policy struct {
	rules []Rule
}

// NewPolicy returns an error when two rules of different classes can match the same route.
func NewPolicy(rules ...Rule) (*Policy, error) {
	for i, rule := range rules {
		switch rule.Class {
		case ClassProtected, ClassPublicOnly:
		default:
			return nil, fmt.Errorf("rule %d: class %q cannot be declared", i, rule.Class)
		}
		if !strings.HasPrefix(rule.Pattern.Path, "/") {
			return nil, fmt.Errorf("rule %d: path %q must start with /", i, rule.Pattern.Path)
		}
	}
	for i := range rules {
		for j := i + 1; j < len(rules); j++ {
			if rules[i].Class != rules[j].Class && overlaps(rules[i], rules[j]) {
				return nil, fmt.Errorf("rules %q (%s) and %q (%s) overlap",
					rules[i].Pattern.Path, rules[i].Class, rules[j].Pattern.Path, rules[j].Class)
			}
		}
	}
	return &Policy{rules: append([]Rule(nil), rules...)}, nil
}

// Default is the route table the HTTP server applies to every request.
func Default() *Policy {
	writes := []string{http.MethodPost, http.MethodPut, http.MethodDelete}
	policy, err := NewPolicy(
		Rule{Class: ClassProtected, Pattern: Exact(DashboardPath)},
		Rule{Class: ClassProtected, Pattern: Exact("/posts/create")},
		Rule{Class: ClassProtected, Pattern: Prefix("/posts/edit/")},
		Rule{Class: ClassProtected, Pattern: Exact("/api/dashboard")},
		Rule{Class: ClassProtected, Pattern: Exact("/api/auth/logout")},
		Rule{Class: ClassProtected, Pattern: Exact("/api/posts"), Methods: writes},
		Rule{Class: ClassProtected, Pattern: Prefix("/api/posts/"), Methods: writes},
		Rule{Class: ClassPublicOnly, Pattern: Exact(LoginPath)},
		Rule{Class: ClassPublicOnly, Pattern: Exact("/register")},
		Rule{Class: ClassPublicOnly, Pattern: Exact("/api/auth/login")},
		Rule{Class: ClassPublicOnly, Pattern: Exact("/api/auth/register")},
	)
	if err != nil {
		panic(err)
	}
	return policy
}

// Classify returns the class of the first rule matching route, or ClassOpen.
func (p *Policy) Classify(route Route) Class {
	route.Path = cleanPath(route.Path)
	for _, rule := range p.rules {
		if rule.matches(route) {
			return rule.Class
		}
	}
	return ClassOpen
}

// Authorize applies the class of route to the requester. No ownership is considered here.
func (p *Policy) Authorize(route Route, identity auth.Identity) Decision {
	class := p.Classify(route)
	switch {
	case class == ClassProtected && identity.IsAnonymous():
		return Decision{Class: class, Redirect: LoginPath}
	case class == ClassPublicOnly && !identity.IsAnonymous():
		return Decision{Class: class, Redirect: DashboardPath}
	default:
		return Decision{Class: class, Allowed: true}
	}
}

func cleanPath(raw string) string {
	if raw == "" {
		return "/"
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return path.Clean(raw)
}

func overlaps(a, b Rule) bool {
	if !methodsOverlap(a.Methods, b.Methods) {
		return false
	}
	pa, pb := a.Pattern, b.Pattern
	switch {
	case !pa.Prefix && !pb.Prefix:
		return pa.Path == pb.Path
	case pa.Prefix && pb.Prefix:
		return strings.HasPrefix(pa.Path, pb.Path) || strings.HasPrefix(pb.Path, pa.Path)
	case pa.Prefix:
		return strings.HasPrefix(pb.Path, pa.Path)
	default:
		return strings.HasPrefix(pa.Path, pb.Path)
	}
}

func methodsOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(x, y) {
				return true
			}
		}
	}
	return false
}
