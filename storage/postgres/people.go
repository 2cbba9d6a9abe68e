package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/next-trace/scg-bank-rpc/identity"
)

// People is the identity.Directory over the persons table.
type People struct {
	db *sql.DB
}

var _ identity.Directory = (*People)(nil)

// People returns the directory sharing s's pool.
func (s *Store) People() *People { return &People{db: s.db} }

func (p *People) Lookup(ctx context.Context, dni string) (identity.Person, error) {
	const q = `SELECT dni, names, paternal_surname, maternal_surname FROM persons WHERE dni = $1`

	var out identity.Person

	err := p.db.QueryRowContext(ctx, q, dni).Scan(&out.DNI, &out.Names, &out.PaternalSurname, &out.MaternalSurname)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Person{}, identity.ErrNotFound
	}

	if err != nil {
		return identity.Person{}, fmt.Errorf("lookup person: %w", err)
	}

	return out, nil
}

// Add registers a person, leaving an existing record untouched.
func (p *People) Add(ctx context.Context, person identity.Person) error {
	const q = `INSERT INTO persons (dni, names, paternal_surname, maternal_surname) VALUES ($1, $2, $3, $4)
	ON CONFLICT (dni) DO NOTHING`

	if _, err := p.db.ExecContext(ctx, q, person.DNI, person.Names, person.PaternalSurname, person.MaternalSurname); err != nil {
		return fmt.Errorf("add person %s: %w", person.DNI, err)
	}

	return nil
}
