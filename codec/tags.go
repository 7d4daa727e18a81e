package codec

// NoTags is the reserved sentinel tag representing the absence of
// tags. A tag set is never transmitted empty: a document without
// tags is stored under the sentinel so that "untagged" remains a
// queryable state, and the sentinel is substituted for an empty
// filter on the query side.
const NoTags = "__notags__"

// DefaultTags substitutes the sentinel for an empty tag set
func DefaultTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{NoTags}
	}

	return tags
}
