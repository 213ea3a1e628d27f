package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type userRepo struct {
	db DB
}

const userColumns = `id, email, nick, password_hash, is_staff, deactivated,
token_uuid, token_passphrase, token_expiry, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Nick, &u.PasswordHash, &u.IsStaff, &u.Deactivated,
		&u.TokenUUID, &u.TokenPassphrase, &u.TokenExpiry, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (r *userRepo) Create(ctx context.Context, email, nick string) (*User, error) {
	defer observeDB(ctx, "users.create")()
	row := r.db.QueryRow(ctx, `INSERT INTO users (email, nick) VALUES ($1, $2) RETURNING `+userColumns, email, nick)
	return scanUser(row)
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*User, error) {
	defer observeDB(ctx, "users.get_by_id")()
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*User, error) {
	defer observeDB(ctx, "users.get_by_email")()
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email)=lower($1)`, email))
}

func (r *userRepo) GetByTokenUUID(ctx context.Context, tokenUUID string) (*User, error) {
	defer observeDB(ctx, "users.get_by_token")()
	return scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE token_uuid=$1 AND token_expiry > NOW()`, tokenUUID))
}

func (r *userRepo) SetLoginToken(ctx context.Context, id int64, tokenUUID, passphrase string, expiry time.Time) error {
	defer observeDB(ctx, "users.set_login_token")()
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET token_uuid=$2, token_passphrase=$3, token_expiry=$4, updated_at=NOW() WHERE id=$1`,
		id, tokenUUID, passphrase, expiry)
	if err != nil {
		return fmt.Errorf("set login token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) ClearLoginToken(ctx context.Context, id int64) error {
	defer observeDB(ctx, "users.clear_login_token")()
	_, err := r.db.Exec(ctx,
		`UPDATE users SET token_uuid=NULL, token_passphrase=NULL, token_expiry=NULL, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("clear login token: %w", err)
	}
	return nil
}

func (r *userRepo) SetPassword(ctx context.Context, id int64, passwordHash string) error {
	defer observeDB(ctx, "users.set_password")()
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type groupRepo struct {
	db DB
}

func (r *groupRepo) Create(ctx context.Context, name string) (*Group, error) {
	defer observeDB(ctx, "groups.create")()
	var g Group
	err := r.db.QueryRow(ctx,
		`INSERT INTO groups (name) VALUES ($1) RETURNING id, name, deactivated, created_at`, name).
		Scan(&g.ID, &g.Name, &g.Deactivated, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return &g, nil
}

func (r *groupRepo) GetByID(ctx context.Context, id int64) (*Group, error) {
	defer observeDB(ctx, "groups.get_by_id")()
	var g Group
	err := r.db.QueryRow(ctx,
		`SELECT id, name, deactivated, created_at FROM groups WHERE id=$1`, id).
		Scan(&g.ID, &g.Name, &g.Deactivated, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &g, nil
}

func (r *groupRepo) ListByMember(ctx context.Context, userID int64) ([]Group, error) {
	defer observeDB(ctx, "groups.list_by_member")()
	rows, err := r.db.Query(ctx, `SELECT g.id, g.name, g.deactivated, g.created_at
FROM groups g JOIN group_members m ON m.group_id = g.id
WHERE m.user_id=$1 AND NOT g.deactivated ORDER BY g.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Deactivated, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *groupRepo) AddMember(ctx context.Context, groupID, userID int64) error {
	defer observeDB(ctx, "groups.add_member")()
	_, err := r.db.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, groupID, userID)
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

func (r *groupRepo) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	defer observeDB(ctx, "groups.is_member")()
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2)`, groupID, userID).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

type locationRepo struct {
	db DB
}

func (r *locationRepo) Create(ctx context.Context, loc Location) (*Location, error) {
	defer observeDB(ctx, "locations.create")()
	err := r.db.QueryRow(ctx,
		`INSERT INTO locations (name, street, zip_code, city) VALUES ($1, $2, $3, $4) RETURNING id`,
		loc.Name, loc.Street, loc.ZipCode, loc.City).Scan(&loc.ID)
	if err != nil {
		return nil, fmt.Errorf("create location: %w", err)
	}
	return &loc, nil
}

func (r *locationRepo) GetByID(ctx context.Context, id int64) (*Location, error) {
	defer observeDB(ctx, "locations.get_by_id")()
	var loc Location
	err := r.db.QueryRow(ctx,
		`SELECT id, name, street, zip_code, city, deactivated, is_restricted FROM locations WHERE id=$1`, id).
		Scan(&loc.ID, &loc.Name, &loc.Street, &loc.ZipCode, &loc.City, &loc.Deactivated, &loc.IsRestricted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}
	return &loc, nil
}

func (r *locationRepo) ListActive(ctx context.Context) ([]Location, error) {
	defer observeDB(ctx, "locations.list_active")()
	rows, err := r.db.Query(ctx, `SELECT id, name, street, zip_code, city, deactivated, is_restricted
FROM locations WHERE NOT deactivated AND NOT is_restricted ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var loc Location
		if err := rows.Scan(&loc.ID, &loc.Name, &loc.Street, &loc.ZipCode, &loc.City, &loc.Deactivated, &loc.IsRestricted); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

type sphereRepo struct {
	db DB
}

func scanSphere(row pgx.Row) (*Sphere, error) {
	var s Sphere
	err := row.Scan(&s.ID, &s.Slug, &s.Name, &s.ParentID, &s.IsDefault)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan sphere: %w", err)
	}
	return &s, nil
}

func (r *sphereRepo) GetByID(ctx context.Context, id int64) (*Sphere, error) {
	defer observeDB(ctx, "spheres.get_by_id")()
	return scanSphere(r.db.QueryRow(ctx,
		`SELECT id, slug, name, parent_sphere_id, is_default FROM spheres WHERE id=$1`, id))
}

func (r *sphereRepo) GetBySlug(ctx context.Context, slug string) (*Sphere, error) {
	defer observeDB(ctx, "spheres.get_by_slug")()
	return scanSphere(r.db.QueryRow(ctx,
		`SELECT id, slug, name, parent_sphere_id, is_default FROM spheres WHERE slug=$1`, slug))
}

func (r *sphereRepo) List(ctx context.Context) ([]Sphere, error) {
	defer observeDB(ctx, "spheres.list")()
	rows, err := r.db.Query(ctx,
		`SELECT id, slug, name, parent_sphere_id, is_default FROM spheres ORDER BY parent_sphere_id NULLS FIRST, name`)
	if err != nil {
		return nil, fmt.Errorf("list spheres: %w", err)
	}
	defer rows.Close()

	var out []Sphere
	for rows.Next() {
		var s Sphere
		if err := rows.Scan(&s.ID, &s.Slug, &s.Name, &s.ParentID, &s.IsDefault); err != nil {
			return nil, fmt.Errorf("scan sphere: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sphereRepo) SubSphereIDs(ctx context.Context, id int64) ([]int64, error) {
	defer observeDB(ctx, "spheres.sub_ids")()
	rows, err := r.db.Query(ctx,
		`SELECT id FROM spheres WHERE id=$1 OR parent_sphere_id=$1`, id)
	if err != nil {
		return nil, fmt.Errorf("list sub-spheres: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var sid int64
		if err := rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("scan sphere id: %w", err)
		}
		out = append(out, sid)
	}
	return out, rows.Err()
}

func (r *sphereRepo) EnsureDefault(ctx context.Context, slug, name string) (*Sphere, error) {
	defer observeDB(ctx, "spheres.ensure_default")()
	return scanSphere(r.db.QueryRow(ctx, `INSERT INTO spheres (slug, name, is_default)
VALUES ($1, $2, TRUE)
ON CONFLICT (slug) DO UPDATE SET is_default = TRUE
RETURNING id, slug, name, parent_sphere_id, is_default`, slug, name))
}

type eventRepo struct {
	db DB
}

const eventColumns = `id, name, short_description, description,
owner_user_id, owner_group_id,
location_id, venue_name, street, zip_code, city, location_tba, online,
featured, published, is_cancelled, deleted, deleted_on, created_at, updated_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var ev Event
	err := row.Scan(&ev.ID, &ev.Name, &ev.ShortDescription, &ev.Description,
		&ev.OwnerUserID, &ev.OwnerGroupID,
		&ev.LocationID, &ev.VenueName, &ev.Street, &ev.ZipCode, &ev.City, &ev.LocationTBA, &ev.Online,
		&ev.Featured, &ev.Published, &ev.IsCancelled, &ev.Deleted, &ev.DeletedOn, &ev.CreatedAt, &ev.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return &ev, nil
}

func (r *eventRepo) Create(ctx context.Context, ev Event) (*Event, error) {
	defer observeDB(ctx, "events.create")()
	row := r.db.QueryRow(ctx, `INSERT INTO events
(name, short_description, description, owner_user_id, owner_group_id,
 location_id, venue_name, street, zip_code, city, location_tba, online, featured, published, is_cancelled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING `+eventColumns,
		ev.Name, ev.ShortDescription, ev.Description, ev.OwnerUserID, ev.OwnerGroupID,
		ev.LocationID, ev.VenueName, ev.Street, ev.ZipCode, ev.City, ev.LocationTBA, ev.Online,
		ev.Featured, ev.Published, ev.IsCancelled)
	return scanEvent(row)
}

func (r *eventRepo) Update(ctx context.Context, ev Event) error {
	defer observeDB(ctx, "events.update")()
	tag, err := r.db.Exec(ctx, `UPDATE events SET
name=$2, short_description=$3, description=$4, owner_user_id=$5, owner_group_id=$6,
location_id=$7, venue_name=$8, street=$9, zip_code=$10, city=$11, location_tba=$12, online=$13,
featured=$14, is_cancelled=$15, updated_at=NOW()
WHERE id=$1 AND NOT deleted`,
		ev.ID, ev.Name, ev.ShortDescription, ev.Description, ev.OwnerUserID, ev.OwnerGroupID,
		ev.LocationID, ev.VenueName, ev.Street, ev.ZipCode, ev.City, ev.LocationTBA, ev.Online,
		ev.Featured, ev.IsCancelled)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *eventRepo) GetByID(ctx context.Context, id int64) (*Event, error) {
	defer observeDB(ctx, "events.get_by_id")()
	return scanEvent(r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id=$1 AND NOT deleted`, id))
}

func (r *eventRepo) ListByOwner(ctx context.Context, userID int64) ([]Event, error) {
	defer observeDB(ctx, "events.list_by_owner")()
	rows, err := r.db.Query(ctx, `SELECT `+eventColumns+` FROM events e
WHERE NOT e.deleted AND (e.owner_user_id=$1
   OR e.owner_group_id IN (SELECT group_id FROM group_members WHERE user_id=$1))
ORDER BY e.updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list events by owner: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func (r *eventRepo) SetPublished(ctx context.Context, id int64, published bool) error {
	defer observeDB(ctx, "events.set_published")()
	return r.setFlag(ctx, id, "published", published)
}

func (r *eventRepo) SetCancelled(ctx context.Context, id int64, cancelled bool) error {
	defer observeDB(ctx, "events.set_cancelled")()
	return r.setFlag(ctx, id, "is_cancelled", cancelled)
}

func (r *eventRepo) setFlag(ctx context.Context, id int64, column string, value bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE events SET `+column+`=$2, updated_at=NOW() WHERE id=$1 AND NOT deleted`, id, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *eventRepo) SoftDelete(ctx context.Context, id int64, when time.Time) error {
	defer observeDB(ctx, "events.soft_delete")()
	tag, err := r.db.Exec(ctx,
		`UPDATE events SET deleted=TRUE, deleted_on=$2, updated_at=NOW() WHERE id=$1 AND NOT deleted`, id, when)
	if err != nil {
		return fmt.Errorf("soft delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *eventRepo) ReplaceSpheres(ctx context.Context, eventID int64, sphereIDs []int64) error {
	defer observeDB(ctx, "events.replace_spheres")()
	if _, err := r.db.Exec(ctx, `DELETE FROM event_spheres WHERE event_id=$1`, eventID); err != nil {
		return fmt.Errorf("clear event spheres: %w", err)
	}
	for _, sid := range sphereIDs {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO event_spheres (event_id, sphere_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			eventID, sid); err != nil {
			return fmt.Errorf("add event sphere %d: %w", sid, err)
		}
	}
	return nil
}

func (r *eventRepo) ListSpheres(ctx context.Context, eventID int64) ([]Sphere, error) {
	defer observeDB(ctx, "events.list_spheres")()
	rows, err := r.db.Query(ctx, `SELECT s.id, s.slug, s.name, s.parent_sphere_id, s.is_default
FROM spheres s JOIN event_spheres es ON es.sphere_id = s.id
WHERE es.event_id=$1 ORDER BY s.name`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list event spheres: %w", err)
	}
	defer rows.Close()

	var out []Sphere
	for rows.Next() {
		var s Sphere
		if err := rows.Scan(&s.ID, &s.Slug, &s.Name, &s.ParentID, &s.IsDefault); err != nil {
			return nil, fmt.Errorf("scan sphere: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *eventRepo) ReplaceLinks(ctx context.Context, eventID int64, urls []string) error {
	defer observeDB(ctx, "events.replace_links")()
	if _, err := r.db.Exec(ctx, `DELETE FROM event_links WHERE event_id=$1`, eventID); err != nil {
		return fmt.Errorf("clear event links: %w", err)
	}
	for _, u := range urls {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO event_links (event_id, url) VALUES ($1, $2)`, eventID, u); err != nil {
			return fmt.Errorf("add event link: %w", err)
		}
	}
	return nil
}

func (r *eventRepo) ListLinks(ctx context.Context, eventID int64) ([]EventLink, error) {
	defer observeDB(ctx, "events.list_links")()
	rows, err := r.db.Query(ctx,
		`SELECT id, event_id, url FROM event_links WHERE event_id=$1 ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list event links: %w", err)
	}
	defer rows.Close()

	var out []EventLink
	for rows.Next() {
		var l EventLink
		if err := rows.Scan(&l.ID, &l.EventID, &l.URL); err != nil {
			return nil, fmt.Errorf("scan event link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *eventRepo) AddImage(ctx context.Context, img EventImage) (*EventImage, error) {
	defer observeDB(ctx, "events.add_image")()
	err := r.db.QueryRow(ctx,
		`INSERT INTO event_images (event_id, path, priority, is_cover) VALUES ($1, $2, $3, $4) RETURNING id`,
		img.EventID, img.Path, img.Priority, img.IsCover).Scan(&img.ID)
	if err != nil {
		return nil, fmt.Errorf("add event image: %w", err)
	}
	return &img, nil
}

func (r *eventRepo) ListImages(ctx context.Context, eventID int64) ([]EventImage, error) {
	defer observeDB(ctx, "events.list_images")()
	rows, err := r.db.Query(ctx,
		`SELECT id, event_id, path, priority, is_cover FROM event_images WHERE event_id=$1 ORDER BY priority, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list event images: %w", err)
	}
	defer rows.Close()

	var out []EventImage
	for rows.Next() {
		var img EventImage
		if err := rows.Scan(&img.ID, &img.EventID, &img.Path, &img.Priority, &img.IsCover); err != nil {
			return nil, fmt.Errorf("scan event image: %w", err)
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func (r *eventRepo) PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	defer observeDB(ctx, "events.purge_deleted")()
	tag, err := r.db.Exec(ctx,
		`DELETE FROM events WHERE deleted AND deleted_on <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge deleted events: %w", err)
	}
	return tag.RowsAffected(), nil
}

type eventTimeRepo struct {
	db DB
}

const eventTimeColumns = `id, event_id, start_time, end_time, description, is_cancelled,
recurrence_id, recurrence_auto, created_at`

func scanEventTime(row pgx.Row) (*EventTime, error) {
	var et EventTime
	err := row.Scan(&et.ID, &et.EventID, &et.Start, &et.End, &et.Description, &et.IsCancelled,
		&et.RecurrenceID, &et.RecurrenceAuto, &et.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event time: %w", err)
	}
	return &et, nil
}

func (r *eventTimeRepo) Create(ctx context.Context, et EventTime) (*EventTime, error) {
	defer observeDB(ctx, "event_times.create")()
	row := r.db.QueryRow(ctx, `INSERT INTO event_times
(event_id, start_time, end_time, description, is_cancelled, recurrence_id, recurrence_auto)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+eventTimeColumns,
		et.EventID, et.Start, et.End, et.Description, et.IsCancelled, et.RecurrenceID, et.RecurrenceAuto)
	return scanEventTime(row)
}

func (r *eventTimeRepo) Update(ctx context.Context, et EventTime) error {
	defer observeDB(ctx, "event_times.update")()
	tag, err := r.db.Exec(ctx, `UPDATE event_times SET
start_time=$2, end_time=$3, description=$4, is_cancelled=$5, recurrence_auto=$6
WHERE id=$1`,
		et.ID, et.Start, et.End, et.Description, et.IsCancelled, et.RecurrenceAuto)
	if err != nil {
		return fmt.Errorf("update event time: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *eventTimeRepo) GetByID(ctx context.Context, id int64) (*EventTime, error) {
	defer observeDB(ctx, "event_times.get_by_id")()
	return scanEventTime(r.db.QueryRow(ctx,
		`SELECT `+eventTimeColumns+` FROM event_times WHERE id=$1`, id))
}

func (r *eventTimeRepo) Delete(ctx context.Context, id int64) error {
	defer observeDB(ctx, "event_times.delete")()
	tag, err := r.db.Exec(ctx, `DELETE FROM event_times WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete event time: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *eventTimeRepo) ListByEvent(ctx context.Context, eventID int64) ([]EventTime, error) {
	defer observeDB(ctx, "event_times.list_by_event")()
	return r.list(ctx, `SELECT `+eventTimeColumns+` FROM event_times WHERE event_id=$1 ORDER BY start_time, id`, eventID)
}

func (r *eventTimeRepo) ListByRecurrence(ctx context.Context, recurrenceID int64) ([]EventTime, error) {
	defer observeDB(ctx, "event_times.list_by_recurrence")()
	return r.list(ctx, `SELECT `+eventTimeColumns+` FROM event_times WHERE recurrence_id=$1 ORDER BY start_time, id`, recurrenceID)
}

func (r *eventTimeRepo) list(ctx context.Context, query string, args ...any) ([]EventTime, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list event times: %w", err)
	}
	defer rows.Close()

	var out []EventTime
	for rows.Next() {
		et, err := scanEventTime(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *et)
	}
	return out, rows.Err()
}

func (r *eventTimeRepo) Detach(ctx context.Context, id int64) error {
	defer observeDB(ctx, "event_times.detach")()
	tag, err := r.db.Exec(ctx,
		`UPDATE event_times SET recurrence_id=NULL, recurrence_auto=FALSE WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("detach event time: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type recurrenceRepo struct {
	db DB
}

const recurrenceColumns = `id, event_id, anchor_time_id, kind, end_date, created_at`

func scanRecurrence(row pgx.Row) (*EventRecurrence, error) {
	var rec EventRecurrence
	err := row.Scan(&rec.ID, &rec.EventID, &rec.AnchorTimeID, &rec.Kind, &rec.End, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan recurrence: %w", err)
	}
	return &rec, nil
}

func (r *recurrenceRepo) Create(ctx context.Context, rec EventRecurrence) (*EventRecurrence, error) {
	defer observeDB(ctx, "recurrences.create")()
	row := r.db.QueryRow(ctx, `INSERT INTO event_recurrences (event_id, anchor_time_id, kind, end_date)
VALUES ($1, $2, $3, $4) RETURNING `+recurrenceColumns,
		rec.EventID, rec.AnchorTimeID, rec.Kind, rec.End)
	return scanRecurrence(row)
}

func (r *recurrenceRepo) Update(ctx context.Context, rec EventRecurrence) error {
	defer observeDB(ctx, "recurrences.update")()
	tag, err := r.db.Exec(ctx,
		`UPDATE event_recurrences SET anchor_time_id=$2, kind=$3, end_date=$4 WHERE id=$1`,
		rec.ID, rec.AnchorTimeID, rec.Kind, rec.End)
	if err != nil {
		return fmt.Errorf("update recurrence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recurrenceRepo) GetByID(ctx context.Context, id int64) (*EventRecurrence, error) {
	defer observeDB(ctx, "recurrences.get_by_id")()
	return scanRecurrence(r.db.QueryRow(ctx,
		`SELECT `+recurrenceColumns+` FROM event_recurrences WHERE id=$1`, id))
}

func (r *recurrenceRepo) ListByEvent(ctx context.Context, eventID int64) ([]EventRecurrence, error) {
	defer observeDB(ctx, "recurrences.list_by_event")()
	rows, err := r.db.Query(ctx,
		`SELECT `+recurrenceColumns+` FROM event_recurrences WHERE event_id=$1 ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list recurrences: %w", err)
	}
	defer rows.Close()

	var out []EventRecurrence
	for rows.Next() {
		rec, err := scanRecurrence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *recurrenceRepo) DeleteByEvent(ctx context.Context, eventID int64) error {
	defer observeDB(ctx, "recurrences.delete_by_event")()
	// Occurrences survive rule removal; they just stop being generated.
	if _, err := r.db.Exec(ctx, `UPDATE event_times SET recurrence_id=NULL, recurrence_auto=FALSE
WHERE recurrence_id IN (SELECT id FROM event_recurrences WHERE event_id=$1)`, eventID); err != nil {
		return fmt.Errorf("detach recurrence times: %w", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM event_recurrences WHERE event_id=$1`, eventID); err != nil {
		return fmt.Errorf("delete recurrences: %w", err)
	}
	return nil
}

type visitRepo struct {
	db DB
}

func (r *visitRepo) Upsert(ctx context.Context, visitorHash, languageCode string, sphereID int64) error {
	defer observeDB(ctx, "visits.upsert")()
	_, err := r.db.Exec(ctx, `INSERT INTO visits (visitor_hash, language_code, sphere_id)
VALUES ($1, $2, $3)
ON CONFLICT (visitor_hash, language_code, sphere_id) DO UPDATE SET last_visit = NOW()`,
		visitorHash, languageCode, sphereID)
	if err != nil {
		return fmt.Errorf("upsert visit: %w", err)
	}
	return nil
}

func (r *visitRepo) CountSince(ctx context.Context, sphereID int64, since time.Time) (int64, error) {
	defer observeDB(ctx, "visits.count_since")()
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM visits WHERE sphere_id=$1 AND last_visit >= $2`, sphereID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count visits: %w", err)
	}
	return count, nil
}
