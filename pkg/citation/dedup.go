package citation

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/model"
)

// RecentSource returns references used within the trailing windowDays
type RecentSource interface {
	QueryRecent(ctx context.Context, windowDays int) ([]model.Reference, error)
}

// Validator decides whether a citation counts as recently used
type Validator struct {
	source     RecentSource
	normalizer Normalizer
}

type ValidatorOption func(*Validator)

// WithNormalizer replaces the default Strict normalizer
func WithNormalizer(n Normalizer) ValidatorOption {
	return func(v *Validator) {
		v.normalizer = n
	}
}

func NewValidator(source RecentSource, opts ...ValidatorOption) *Validator {
	v := &Validator{
		source:     source,
		normalizer: Strict,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Normalizer returns the normalizer used for comparisons
func (v *Validator) Normalizer() Normalizer {
	return v.normalizer
}

// IsRecentlyUsed reports whether citation appears in the history window
func (v *Validator) IsRecentlyUsed(ctx context.Context, citation string, windowDays int) (bool, error) {
	refs, err := v.source.QueryRecent(ctx, windowDays)
	if err != nil {
		return false, goerr.Wrap(err, "failed to query recent references", goerr.V("window_days", windowDays))
	}
	return v.Contains(refs, citation), nil
}

// Contains reports whether refs holds citation under the validator's normalizer
func (v *Validator) Contains(refs []model.Reference, citation string) bool {
	key := v.normalizer.Normalize(citation)
	if key == "" {
		return false
	}
	for _, ref := range refs {
		if v.normalizer.Normalize(ref.Citation) == key {
			return true
		}
	}
	return false
}
