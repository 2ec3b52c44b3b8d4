package postgres

const upsertVenueSQL = `
INSERT INTO venues (name_key, name)
VALUES ($1, $2)
ON CONFLICT (name_key) DO UPDATE
SET name = EXCLUDED.name, updated_at = now()`

// Handle and contact are only set on insert.
const upsertTrainerSQL = `
INSERT INTO trainers (name_key, first_name, last_name, handle, contact, role)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (name_key) DO UPDATE
SET first_name = EXCLUDED.first_name,
    last_name  = EXCLUDED.last_name,
    deleted_at = CASE WHEN $7::boolean THEN NULL ELSE trainers.deleted_at END,
    updated_at = now()`

const upsertPersonSQL = `
INSERT INTO people (external_id, first_name, last_name, contact, initial_note)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (external_id) DO UPDATE
SET first_name   = EXCLUDED.first_name,
    last_name    = EXCLUDED.last_name,
    initial_note = CASE WHEN people.initial_note = '' THEN EXCLUDED.initial_note ELSE people.initial_note END,
    deleted_at   = CASE WHEN $6::boolean THEN NULL ELSE people.deleted_at END,
    updated_at   = now()`

// The earliest occurrence and the first non-empty content are kept across imports.
const upsertEventSQL = `
INSERT INTO events (external_id, event_type, content, occurred_at, trainer_id, venue_id)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (external_id) DO UPDATE
SET event_type  = CASE WHEN EXCLUDED.event_type <> '' THEN EXCLUDED.event_type ELSE events.event_type END,
    content     = CASE WHEN events.content = '' THEN EXCLUDED.content ELSE events.content END,
    occurred_at = LEAST(events.occurred_at, EXCLUDED.occurred_at),
    trainer_id  = EXCLUDED.trainer_id,
    venue_id    = EXCLUDED.venue_id,
    updated_at  = now()`

const upsertAttendanceSQL = `
INSERT INTO attendance (person_id, event_id, note_during, completion_note, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (person_id, event_id) DO UPDATE
SET note_during     = EXCLUDED.note_during,
    completion_note = EXCLUDED.completion_note,
    status          = EXCLUDED.status,
    updated_at      = now()`

const (
	venueIDsSQL   = `SELECT name_key, id FROM venues WHERE name_key = ANY($1)`
	trainerIDsSQL = `SELECT name_key, id FROM trainers WHERE name_key = ANY($1)`
	personIDsSQL  = `SELECT external_id, id FROM people WHERE external_id = ANY($1)`
	eventIDsSQL   = `SELECT external_id, id FROM events WHERE external_id = ANY($1)`
)

const listAttendanceSQL = `
SELECT p.external_id, p.first_name, p.last_name,
       e.external_id, e.event_type, e.occurred_at,
       t.first_name, t.last_name, v.name,
       a.status, a.note_during, a.completion_note
FROM attendance a
JOIN people p   ON p.id = a.person_id
JOIN events e   ON e.id = a.event_id
JOIN trainers t ON t.id = e.trainer_id
JOIN venues v   ON v.id = e.venue_id
WHERE p.deleted_at IS NULL AND t.deleted_at IS NULL
ORDER BY e.occurred_at, e.external_id, p.external_id`
