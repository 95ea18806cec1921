package models

// EntityType identifies one externally-sourced collection mirrored per storefront.
type EntityType string

const (
	EntityReview EntityType = "review"
	EntityPhoto  EntityType = "photo"
	EntityPost   EntityType = "post"
)

func (e EntityType) Valid() bool {
	switch e {
	case EntityReview, EntityPhoto, EntityPost:
		return true
	}
	return false
}

// FullSnapshot reports whether a sync pass for this entity type delivers the
// complete current listing. Photos and posts are full snapshots, so an id
// expected but absent after a successful pass can be soft-deleted. Reviews
// arrive as an incremental window and are never soft-deleted by a sync pass.
func (e EntityType) FullSnapshot() bool {
	return e == EntityPhoto || e == EntityPost
}

func AllEntityTypes() []EntityType {
	return []EntityType{EntityReview, EntityPhoto, EntityPost}
}

// ParseScope maps a request scope to the entity types it covers.
// Empty and "all" both mean every type.
func ParseScope(scope string) ([]EntityType, bool) {
	switch scope {
	case "", "all":
		return AllEntityTypes(), true
	case string(EntityReview):
		return []EntityType{EntityReview}, true
	case string(EntityPhoto):
		return []EntityType{EntityPhoto}, true
	case string(EntityPost):
		return []EntityType{EntityPost}, true
	}
	return nil, false
}
