package roles

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/pseudostate"
)

const testRoom = id.RoomID("!room:example.com")

type recordingPublisher struct {
	mu     sync.Mutex
	events []AssignedEvent
	err    error
}

func (p *recordingPublisher) PublishAssigned(_ context.Context, evt AssignedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

type failingStore struct {
	pseudostate.Store
	setErr error
}

func (s failingStore) Set(context.Context, id.RoomID, string, any) error {
	return s.setErr
}

func TestAssignRoleCreatesLedger(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(pseudostate.NewMemoryStore(), "", zerolog.Nop())

	assignment, err := engine.AssignRole(ctx, testRoom, "Alice", "Moderator")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assignment.ID == "" {
		t.Fatal("expected generated id")
	}
	ledger, err := engine.Ledger(ctx, testRoom)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(ledger.AssignedRoles) != 1 {
		t.Fatalf("expected one-element ledger, got %d", len(ledger.AssignedRoles))
	}
	got := ledger.AssignedRoles[0]
	if got != assignment || got.Person.Name != "Alice" || got.Role.Name != "Moderator" {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestAssignRoleAppendsInOrder(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(pseudostate.NewMemoryStore(), "", zerolog.Nop())

	var created []Assignment
	for _, pair := range [][2]string{{"Alice", "Moderator"}, {"Bob", "Scribe"}, {"Alice", "Moderator"}} {
		before, err := engine.Ledger(ctx, testRoom)
		if err != nil {
			t.Fatalf("ledger: %v", err)
		}
		a, err := engine.AssignRole(ctx, testRoom, pair[0], pair[1])
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		created = append(created, a)
		after, err := engine.Ledger(ctx, testRoom)
		if err != nil {
			t.Fatalf("ledger: %v", err)
		}
		if len(after.AssignedRoles) != len(before.AssignedRoles)+1 {
			t.Fatalf("ledger did not grow by one")
		}
		for i, prev := range before.AssignedRoles {
			if after.AssignedRoles[i] != prev {
				t.Fatalf("entry %d changed: %+v -> %+v", i, prev, after.AssignedRoles[i])
			}
		}
		if after.AssignedRoles[len(after.AssignedRoles)-1] != a {
			t.Fatalf("ledger does not end with the new assignment")
		}
	}
	// Duplicate assignments are kept as separate entries.
	if created[0].ID == created[2].ID {
		t.Fatal("duplicate assignment reused an id")
	}
}

func TestAssignRoleRoomsAreIndependent(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(pseudostate.NewMemoryStore(), "", zerolog.Nop())
	if _, err := engine.AssignRole(ctx, testRoom, "Alice", "Moderator"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	ledger, err := engine.Ledger(ctx, "!other:example.com")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(ledger.AssignedRoles) != 0 {
		t.Fatalf("expected empty ledger in other room, got %+v", ledger)
	}
}

func TestAssignRoleConcurrentCallersKeepAllEntries(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(pseudostate.NewMemoryStore(), "", zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.AssignRole(ctx, testRoom, "Alice", "Helper"); err != nil {
				t.Errorf("assign: %v", err)
			}
		}()
	}
	wg.Wait()
	ledger, err := engine.Ledger(ctx, testRoom)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(ledger.AssignedRoles) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(ledger.AssignedRoles))
	}
}

func TestAssignRolePublishes(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(pseudostate.NewMemoryStore(), "", zerolog.Nop())
	pub := &recordingPublisher{err: errors.New("broker down")}
	engine.SetPublisher(pub)

	a, err := engine.AssignRole(ctx, testRoom, "Alice", "Moderator")
	if err != nil {
		t.Fatalf("publish failure must not fail assignment: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].Assignment != a || pub.events[0].RoomID != testRoom {
		t.Fatalf("unexpected published events: %+v", pub.events)
	}
}

func TestAssignRoleStoreFailure(t *testing.T) {
	store := failingStore{Store: pseudostate.NewMemoryStore(), setErr: errors.New("write failed")}
	engine := NewEngine(store, "", zerolog.Nop())
	pub := &recordingPublisher{}
	engine.SetPublisher(pub)
	if _, err := engine.AssignRole(context.Background(), testRoom, "Alice", "Moderator"); err == nil {
		t.Fatal("expected error")
	}
	if len(pub.events) != 0 {
		t.Fatal("failed assignment must not be published")
	}
}
