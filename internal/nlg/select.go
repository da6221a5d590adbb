// internal/nlg/select.go
package nlg

import "math/rand"

// SelectVariants returns the variants tagged with channel when there are any, otherwise the
// channel-agnostic ones. ok is false when neither set has a member.
func SelectVariants(variants []ResponseVariant, channel string) (selected []ResponseVariant, ok bool) {
	var forChannel, agnostic []ResponseVariant
	for _, v := range variants {
		if v.Channel == "" {
			agnostic = append(agnostic, v)
		}
		if channel != "" && v.Channel == channel {
			forChannel = append(forChannel, v)
		}
	}

	switch {
	case len(forChannel) > 0:
		return forChannel, true
	case len(agnostic) > 0:
		return agnostic, true
	default:
		return nil, false
	}
}

// PickVariant chooses one variant: uniformly at random for runtime calls, the first one
// for previews. intn may be nil. ok is false for an empty set.
func PickVariant(set []ResponseVariant, call CallContext, intn func(int) int) (chosen ResponseVariant, ok bool) {
	if len(set) == 0 {
		return ResponseVariant{}, false
	}
	if call != CallRuntime || len(set) == 1 {
		return set[0], true
	}
	if intn == nil {
		intn = rand.Intn
	}
	return set[intn(len(set))], true
}
