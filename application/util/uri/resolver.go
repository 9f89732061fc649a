package uri

import (
	"slices"

	"github.com/pkg/errors"
)

type RefResolver struct {
	base URI
}

func NewRefResolver(baseURI URI) (*RefResolver, error) {
	if baseURI.IsRelativeRef() {
		return nil, errors.New("baseURI cannot be relative ref")
	}
	return &RefResolver{base: baseURI}, nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-5.2.2
func (rr *RefResolver) Resolve(ref URI) (out URI) {
	out = ref

	defer func() { out.segments = removeDotSegments(out.segments) }()

	if out.scheme != "" {
		return out
	}
	out.scheme = rr.base.scheme

	if out.authority != nil {
		return out
	}
	if rr.base.authority != nil {
		out.authority = rr.base.authority.clone()
	}

	if len(out.segments) > 0 {
		if out.segments[0] != "" {
			out.segments = mergePath(rr.base, out)
		}
		return out
	}
	out.segments = slices.Clone(rr.base.segments)

	if out.query != nil {
		return out
	}
	out.query = slices.Clone(rr.base.query)

	return out
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-5.2.3
func mergePath(base, ref URI) []string {
	if base.authority != nil && len(base.segments) == 0 {
		return append([]string{""}, ref.segments...)
	}

	if len(base.segments) > 0 {
		merged := slices.Clone(base.segments[:len(base.segments)-1])
		return append(merged, ref.segments...)
	}

	return slices.Clone(ref.segments)
}
