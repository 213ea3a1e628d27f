package store

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for accounts.
type UserRepository interface {
	Create(ctx context.Context, email, nick string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByTokenUUID(ctx context.Context, tokenUUID string) (*User, error)
	SetLoginToken(ctx context.Context, id int64, tokenUUID, passphrase string, expiry time.Time) error
	ClearLoginToken(ctx context.Context, id int64) error
	SetPassword(ctx context.Context, id int64, passwordHash string) error
}

// GroupRepository manages event-owning groups and their membership.
type GroupRepository interface {
	Create(ctx context.Context, name string) (*Group, error)
	GetByID(ctx context.Context, id int64) (*Group, error)
	ListByMember(ctx context.Context, userID int64) ([]Group, error)
	AddMember(ctx context.Context, groupID, userID int64) error
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
}

// LocationRepository manages reusable venues.
type LocationRepository interface {
	Create(ctx context.Context, loc Location) (*Location, error)
	GetByID(ctx context.Context, id int64) (*Location, error)
	ListActive(ctx context.Context) ([]Location, error)
}

// SphereRepository manages calendar scopes.
type SphereRepository interface {
	GetByID(ctx context.Context, id int64) (*Sphere, error)
	GetBySlug(ctx context.Context, slug string) (*Sphere, error)
	List(ctx context.Context) ([]Sphere, error)
	// SubSphereIDs returns the sphere's own id plus the ids of its direct
	// sub-spheres (there is only one level of nesting).
	SubSphereIDs(ctx context.Context, id int64) ([]int64, error)
	// EnsureDefault makes sure a default sphere with the given slug exists
	// and returns it. Called once at startup.
	EnsureDefault(ctx context.Context, slug, name string) (*Sphere, error)
}

// EventRepository handles event lifecycle, sphere membership, links, and
// image metadata.
type EventRepository interface {
	Create(ctx context.Context, ev Event) (*Event, error)
	Update(ctx context.Context, ev Event) error
	GetByID(ctx context.Context, id int64) (*Event, error)
	ListByOwner(ctx context.Context, userID int64) ([]Event, error)
	SetPublished(ctx context.Context, id int64, published bool) error
	SetCancelled(ctx context.Context, id int64, cancelled bool) error
	SoftDelete(ctx context.Context, id int64, when time.Time) error

	ReplaceSpheres(ctx context.Context, eventID int64, sphereIDs []int64) error
	ListSpheres(ctx context.Context, eventID int64) ([]Sphere, error)

	ReplaceLinks(ctx context.Context, eventID int64, urls []string) error
	ListLinks(ctx context.Context, eventID int64) ([]EventLink, error)

	AddImage(ctx context.Context, img EventImage) (*EventImage, error)
	ListImages(ctx context.Context, eventID int64) ([]EventImage, error)

	// PurgeDeleted hard-deletes events soft-deleted before the cutoff and
	// reports how many were removed. Children cascade in the schema.
	PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventTimeRepository handles concrete occurrences.
type EventTimeRepository interface {
	Create(ctx context.Context, et EventTime) (*EventTime, error)
	Update(ctx context.Context, et EventTime) error
	GetByID(ctx context.Context, id int64) (*EventTime, error)
	Delete(ctx context.Context, id int64) error
	ListByEvent(ctx context.Context, eventID int64) ([]EventTime, error)
	ListByRecurrence(ctx context.Context, recurrenceID int64) ([]EventTime, error)
	// Detach clears the occurrence's recurrence link, keeping the row.
	Detach(ctx context.Context, id int64) error
}

// RecurrenceRepository handles recurrence rules attached to events.
type RecurrenceRepository interface {
	Create(ctx context.Context, rec EventRecurrence) (*EventRecurrence, error)
	Update(ctx context.Context, rec EventRecurrence) error
	GetByID(ctx context.Context, id int64) (*EventRecurrence, error)
	ListByEvent(ctx context.Context, eventID int64) ([]EventRecurrence, error)
	// DeleteByEvent removes the event's rules after detaching their anchors.
	DeleteByEvent(ctx context.Context, eventID int64) error
}

// VisitRepository records anonymous visits.
type VisitRepository interface {
	// Upsert creates the (hash, locale, sphere) row on first sight and only
	// bumps last_visit afterwards.
	Upsert(ctx context.Context, visitorHash, languageCode string, sphereID int64) error
	CountSince(ctx context.Context, sphereID int64, since time.Time) (int64, error)
}
