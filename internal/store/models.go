package store

import "time"

// User is an account holder. Accounts created through the email-token flow
// have no password hash until the user sets one.
type User struct {
	ID           int64
	Email        string
	Nick         string
	PasswordHash *string
	IsStaff      bool
	Deactivated  bool

	// Login-token fields for the passwordless email flow. All three are set
	// together and cleared on successful login.
	TokenUUID       *string
	TokenPassphrase *string
	TokenExpiry     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Group is a collective that can own events; members co-own them.
type Group struct {
	ID          int64
	Name        string
	Deactivated bool
	CreatedAt   time.Time
}

// Location is a reusable venue.
type Location struct {
	ID           int64
	Name         string
	Street       string
	ZipCode      string
	City         string
	Deactivated  bool
	IsRestricted bool
}

// Sphere is a named calendar scope. A sphere may have one level of
// sub-spheres: a sphere with a parent cannot itself be a parent.
type Sphere struct {
	ID        int64
	Slug      string
	Name      string
	ParentID  *int64
	IsDefault bool
}

// Event is a published or draft calendar item. Soft deletion sets Deleted
// and DeletedOn; the retention purge removes such rows after a threshold.
type Event struct {
	ID               int64
	Name             string
	ShortDescription string
	Description      string

	OwnerUserID  *int64
	OwnerGroupID *int64

	LocationID  *int64
	VenueName   *string
	Street      *string
	ZipCode     *string
	City        *string
	LocationTBA bool
	Online      bool

	Featured    bool
	Published   bool
	IsCancelled bool

	Deleted   bool
	DeletedOn *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventTime is one concrete occurrence of an event. Rows created by
// recurrence expansion carry RecurrenceID and RecurrenceAuto=true; a user
// edit flips RecurrenceAuto off, which protects the row from deletion when
// the rule shrinks.
type EventTime struct {
	ID             int64
	EventID        int64
	Start          time.Time
	End            *time.Time
	Description    *string
	IsCancelled    bool
	RecurrenceID   *int64
	RecurrenceAuto bool
	CreatedAt      time.Time
}

// EventRecurrence attaches a recurrence rule to an event. AnchorTimeID
// points at the seed occurrence that supplies time-of-day and duration.
type EventRecurrence struct {
	ID           int64
	EventID      int64
	AnchorTimeID *int64
	Kind         string
	End          *time.Time
	CreatedAt    time.Time
}

// EventLink is an external URL attached to an event.
type EventLink struct {
	ID      int64
	EventID int64
	URL     string
}

// EventImage holds image metadata only; file handling lives elsewhere.
type EventImage struct {
	ID       int64
	EventID  int64
	Path     string
	Priority int
	IsCover  bool
}

// Visit is one anonymous visitor seen in one locale and sphere. Only the
// irreversible hash is stored, never a raw session id, IP, or user agent.
type Visit struct {
	ID           int64
	VisitorHash  string
	LanguageCode string
	SphereID     int64
	Created      time.Time
	LastVisit    time.Time
}
