// Package roster tracks the participants currently connected to the room.
//
// Display names are unique only among connected participants; a name is free
// again as soon as its holder leaves.
package roster

import (
	"strings"
	"sync"
	"time"

	apperrors "github.com/Davshiv20/PingPollz/internal/platform/errors"
	"github.com/Davshiv20/PingPollz/internal/platform/id"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Participant is a connected room member.
type Participant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ConnectionID string    `json:"-"`
	JoinedAt     time.Time `json:"joined_at"`
}

// Roster is the lock-guarded set of connected participants.
type Roster struct {
	mu           sync.Mutex
	byID         map[string]Participant
	byName       map[string]string
	byConnection map[string]string
	order        []string
	now          func() time.Time
	newID        func() (string, error)
}

// Option customizes a Roster.
type Option func(*Roster)

// WithClock overrides the join timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Roster) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides participant id allocation.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(r *Roster) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// New returns an empty roster.
func New(opts ...Option) *Roster {
	r := &Roster{
		byID:         make(map[string]Participant),
		byName:       make(map[string]string),
		byConnection: make(map[string]string),
		now:          time.Now,
		newID:        id.NewID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join admits a participant under name for the given connection.
func (r *Roster) Join(name string, connectionID string) (Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Participant{}, apperrors.New(apperrors.CodeNameEmpty, "name is required")
	}
	key := nameKey(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[key]; taken {
		return Participant{}, apperrors.WithMetadata(apperrors.CodeNameTaken, "name is already taken", map[string]string{"name": name})
	}
	if connectionID != "" {
		if _, joined := r.byConnection[connectionID]; joined {
			return Participant{}, apperrors.New(apperrors.CodeConnectionJoined, "connection has already joined")
		}
	}

	participantID, err := r.newID()
	if err != nil {
		return Participant{}, apperrors.Wrap(apperrors.CodeUnknown, "allocate participant id", err)
	}
	p := Participant{
		ID:           participantID,
		Name:         name,
		ConnectionID: connectionID,
		JoinedAt:     r.now().UTC(),
	}
	r.byID[p.ID] = p
	r.byName[key] = p.ID
	if connectionID != "" {
		r.byConnection[connectionID] = p.ID
	}
	r.order = append(r.order, p.ID)
	return p, nil
}

// Leave removes a participant. Leaving an absent id is a no-op reporting false.
func (r *Roster) Leave(participantID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(participantID)
}

// LeaveConnection removes the participant bound to connectionID, if any.
func (r *Roster) LeaveConnection(connectionID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	participantID, ok := r.byConnection[connectionID]
	if !ok {
		return Participant{}, false
	}
	return r.removeLocked(participantID)
}

func (r *Roster) removeLocked(participantID string) (Participant, bool) {
	p, ok := r.byID[participantID]
	if !ok {
		return Participant{}, false
	}
	delete(r.byID, participantID)
	delete(r.byName, nameKey(p.Name))
	if p.ConnectionID != "" {
		delete(r.byConnection, p.ConnectionID)
	}
	for i, existing := range r.order {
		if existing == participantID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return p, true
}

// Get returns the participant with the given id.
func (r *Roster) Get(participantID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[participantID]
	return p, ok
}

// Has reports whether participantID is connected.
func (r *Roster) Has(participantID string) bool {
	_, ok := r.Get(participantID)
	return ok
}

// ByConnection returns the participant bound to connectionID.
func (r *Roster) ByConnection(connectionID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	participantID, ok := r.byConnection[connectionID]
	if !ok {
		return Participant{}, false
	}
	return r.byID[participantID], true
}

// Count returns the number of connected participants.
func (r *Roster) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// List returns the connected participants in join order.
func (r *Roster) List() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]Participant, 0, len(r.order))
	for _, participantID := range r.order {
		list = append(list, r.byID[participantID])
	}
	return list
}

// nameKey normalizes names so visually identical names collide. Casers are
// stateful, so each call gets its own.
func nameKey(name string) string {
	return cases.Fold().String(norm.NFC.String(name))
}
