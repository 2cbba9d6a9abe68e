/*
Package identity answers national id (DNI) lookups over RPC. Callers use it to confirm
who a client is before running banking operations for them.

A Directory resolves a DNI to a Person. Registry keeps people in memory and is seeded
with Add; storage/postgres provides a table backed Directory. Register binds the lookup
on a dispatcher next to the banking keys, and Client is the typed caller.
*/
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Person is the identity record returned for a DNI.
type Person struct {
	DNI             string `json:"dni" validate:"required,numeric,len=8"`
	Names           string `json:"names" validate:"required"`
	PaternalSurname string `json:"paternal_surname" validate:"required"`
	MaternalSurname string `json:"maternal_surname"`
}

// Request is the payload of an identity query.
type Request struct {
	DNI string `json:"dni" validate:"required,numeric,len=8"`
}

// ErrNotFound is returned by a Directory for an unregistered DNI.
var ErrNotFound = errors.New("identity: person not found")

// Directory resolves a DNI.
type Directory interface {
	Lookup(ctx context.Context, dni string) (Person, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Registry is an in-memory Directory, safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	people map[string]Person
}

var _ Directory = (*Registry)(nil)

// NewRegistry returns a registry holding people. It panics on an invalid or repeated
// record, which only happens with bad seed data.
func NewRegistry(people ...Person) *Registry {
	r := &Registry{people: make(map[string]Person, len(people))}

	for _, p := range people {
		if err := r.Add(p); err != nil {
			panic(err)
		}
	}

	return r
}

// Add registers p. A DNI can only be registered once.
func (r *Registry) Add(p Person) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("identity add %q: %w", p.DNI, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.people[p.DNI]; ok {
		return fmt.Errorf("identity add %q: already registered", p.DNI)
	}

	r.people[p.DNI] = p

	return nil
}

func (r *Registry) Lookup(ctx context.Context, dni string) (Person, error) {
	if err := ctx.Err(); err != nil {
		return Person{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.people[dni]
	if !ok {
		return Person{}, ErrNotFound
	}

	return p, nil
}
