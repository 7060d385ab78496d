package rules

import "strings"

// AdmitsDirection reports whether the rule's applies_to scoping admits the
// request direction. An empty applies_to means both directions. Requests with
// an unspecified direction are admitted by every rule so that scoping never
// hides a rule from direction-less callers.
func (r *Rule) AdmitsDirection(d Direction) bool {
	if len(r.AppliesTo) == 0 || d == DirectionUnspecified {
		return true
	}
	for _, want := range r.AppliesTo {
		if want == d {
			return true
		}
	}
	return false
}

// MatchesEndpoint reports whether the rule's endpoint selectors admit the
// request endpoint. An empty selector list means any endpoint.
func (r *Rule) MatchesEndpoint(endpoint string) bool {
	if len(r.Endpoints) == 0 {
		return true
	}
	for _, sel := range r.Endpoints {
		if matchSelector(sel, endpoint) {
			return true
		}
	}
	return false
}

// matchSelector applies the three selector forms: exact match, trailing "/*"
// prefix, and simple segment-agnostic "*" glob.
func matchSelector(sel, endpoint string) bool {
	if sel == endpoint {
		return true
	}
	if strings.HasSuffix(sel, "/*") {
		prefix := strings.TrimSuffix(sel, "*")
		if strings.HasPrefix(endpoint, prefix) {
			return true
		}
	}
	if strings.Contains(sel, "*") {
		return globMatch(sel, endpoint)
	}
	return false
}

// globMatch matches sel against s where "*" matches any run of characters,
// including "/".
func globMatch(sel, s string) bool {
	parts := strings.Split(sel, "*")
	if len(parts) == 1 {
		return sel == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}
