package auth

import "slices"

// AttributeReleasePolicy filters the attributes handed to a relying application.
type AttributeReleasePolicy interface {
	Release(p Principal) map[string][]string
}

// ReturnMappedAttributeReleasePolicy releases attributes named in Allowed under their mapped name.
// Attributes the principal lacks are omitted.
type ReturnMappedAttributeReleasePolicy struct {
	Allowed map[string]string `json:"allowed"`
}

func (r ReturnMappedAttributeReleasePolicy) Release(p Principal) map[string][]string {
	out := make(map[string][]string, len(r.Allowed))
	for name, released := range r.Allowed {
		v, ok := p.Attributes[name]
		if !ok || v == nil {
			continue
		}
		out[released] = slices.Clone(v)
	}
	return out
}

// ReturnAllowedAttributeReleasePolicy releases the listed attributes unchanged.
type ReturnAllowedAttributeReleasePolicy struct {
	Allowed []string `json:"allowed"`
}

func (r ReturnAllowedAttributeReleasePolicy) Release(p Principal) map[string][]string {
	out := make(map[string][]string, len(r.Allowed))
	for _, name := range r.Allowed {
		if v, ok := p.Attributes[name]; ok && v != nil {
			out[name] = slices.Clone(v)
		}
	}
	return out
}

// DenyAllAttributeReleasePolicy releases nothing.
type DenyAllAttributeReleasePolicy struct{}

func (DenyAllAttributeReleasePolicy) Release(Principal) map[string][]string {
	return map[string][]string{}
}
