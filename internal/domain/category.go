package domain

// Category is the classification of an intercepted request. Exactly one
// category applies to any request; the strategy engine runs one
// fetch/cache/queue algorithm per category.
type Category int

const (
	// CategoryNavigation is a page load: GET requests negotiating HTML.
	CategoryNavigation Category = iota

	// CategoryAPIRead is an idempotent read against the clinical API.
	CategoryAPIRead

	// CategoryAPIMutation is a write against the clinical API.
	CategoryAPIMutation

	// CategoryAsset is a static asset (script, stylesheet, image, font).
	CategoryAsset

	// CategoryOther is everything else the agent owns.
	CategoryOther
)

// String returns a human-readable representation of the category.
func (c Category) String() string {
	switch c {
	case CategoryNavigation:
		return "navigation"
	case CategoryAPIRead:
		return "api-read"
	case CategoryAPIMutation:
		return "api-mutation"
	case CategoryAsset:
		return "asset"
	case CategoryOther:
		return "other"
	default:
		return "unknown"
	}
}
