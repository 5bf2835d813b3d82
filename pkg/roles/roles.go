// Package roles maintains each room's append-only ledger of informal role assignments.
package roles

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/matrixevents"
	"github.com/beeper/helper-bot/pkg/pseudostate"
)

type Person struct {
	Name string `json:"name"`
}

type Role struct {
	Name string `json:"name"`
}

// Assignment is a single (person, role) pair. It is never modified after creation.
type Assignment struct {
	ID     string `json:"id"`
	Person Person `json:"person"`
	Role   Role   `json:"role"`
}

// Ledger is the stored form of a room's assignments, oldest first.
type Ledger struct {
	AssignedRoles []Assignment `json:"assignedRoles"`
}

// AssignedEvent describes a completed assignment for publishers.
type AssignedEvent struct {
	RoomID     id.RoomID
	Assignment Assignment
	Time       time.Time
}

// Publisher receives assignments after they have been persisted.
type Publisher interface {
	PublishAssigned(ctx context.Context, evt AssignedEvent) error
}

// Engine appends assignments to room ledgers kept in a pseudo-state store.
//
// Read-modify-write cycles for one room are serialized within the process.
// The store itself has no transactions, so engines in separate processes
// sharing a store can still lose each other's writes.
type Engine struct {
	store     pseudostate.Store
	typeKey   string
	publisher Publisher
	log       zerolog.Logger

	locksMu sync.Mutex
	locks   map[id.RoomID]*sync.Mutex
}

// NewEngine creates an engine. An empty typeKey selects matrixevents.RolesType.
func NewEngine(store pseudostate.Store, typeKey string, log zerolog.Logger) *Engine {
	if typeKey == "" {
		typeKey = matrixevents.RolesType
	}
	return &Engine{
		store:   store,
		typeKey: typeKey,
		log:     log.With().Str("component", "roles").Logger(),
		locks:   make(map[id.RoomID]*sync.Mutex),
	}
}

// SetPublisher sets an optional publisher notified after each assignment.
func (e *Engine) SetPublisher(publisher Publisher) {
	e.publisher = publisher
}

func (e *Engine) roomLock(roomID id.RoomID) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	lock, ok := e.locks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[roomID] = lock
	}
	return lock
}

// Ledger returns the room's current ledger. A room without one has an empty ledger.
func (e *Engine) Ledger(ctx context.Context, roomID id.RoomID) (Ledger, error) {
	var ledger Ledger
	if _, err := e.store.Get(ctx, roomID, e.typeKey, &ledger); err != nil {
		return Ledger{}, fmt.Errorf("failed to load role ledger: %w", err)
	}
	return ledger, nil
}

// AssignRole appends a new assignment to the room's ledger. Names are not
// validated against room membership and duplicates are kept.
func (e *Engine) AssignRole(ctx context.Context, roomID id.RoomID, personName, roleName string) (Assignment, error) {
	lock := e.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	ledger, err := e.Ledger(ctx, roomID)
	if err != nil {
		return Assignment{}, err
	}
	assignment := Assignment{
		ID:     uuid.NewString(),
		Person: Person{Name: personName},
		Role:   Role{Name: roleName},
	}
	ledger.AssignedRoles = append(ledger.AssignedRoles, assignment)
	if err = e.store.Set(ctx, roomID, e.typeKey, ledger); err != nil {
		return Assignment{}, fmt.Errorf("failed to save role ledger: %w", err)
	}
	e.log.Debug().
		Stringer("room_id", roomID).
		Str("assignment_id", assignment.ID).
		Str("person", personName).
		Str("role", roleName).
		Int("ledger_size", len(ledger.AssignedRoles)).
		Msg("Assigned role")

	if e.publisher != nil {
		evt := AssignedEvent{RoomID: roomID, Assignment: assignment, Time: time.Now().UTC()}
		if pubErr := e.publisher.PublishAssigned(ctx, evt); pubErr != nil {
			e.log.Warn().Err(pubErr).Str("assignment_id", assignment.ID).Msg("Failed to publish role assignment")
		}
	}
	return assignment, nil
}
