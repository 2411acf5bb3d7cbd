package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
)

// Identifiable is implemented by entities that can sit behind a Ref.
type Identifiable interface {
	GetID() int64
}

// Ref is a relation that is stored either as a raw id or as the expanded
// entity. Callers read the id through ID() and never inspect the variant.
type Ref[T Identifiable] struct {
	id       int64
	expanded *T
}

// RefID builds a reference holding only an id.
func RefID[T Identifiable](id int64) Ref[T] {
	return Ref[T]{id: id}
}

// RefTo builds a reference holding the expanded entity.
func RefTo[T Identifiable](entity *T) Ref[T] {
	if entity == nil {
		return Ref[T]{}
	}
	return Ref[T]{id: (*entity).GetID(), expanded: entity}
}

// ID resolves the reference to an id. The boolean is false for an empty reference.
func (r Ref[T]) ID() (int64, bool) {
	if r.expanded != nil {
		return (*r.expanded).GetID(), true
	}
	return r.id, r.id != 0
}

// IsZero reports whether the reference points at nothing.
func (r Ref[T]) IsZero() bool {
	_, ok := r.ID()
	return !ok
}

// Expanded returns the embedded entity when the reference was populated.
func (r Ref[T]) Expanded() (*T, bool) {
	return r.expanded, r.expanded != nil
}

// MarshalJSON writes the reference as its raw id, or null.
func (r Ref[T]) MarshalJSON() ([]byte, error) {
	id, ok := r.ID()
	if !ok {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(id, 10)), nil
}

// UnmarshalJSON accepts null, a number, a numeric string or an expanded object.
func (r *Ref[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*r = Ref[T]{}

	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return nil
	case data[0] == '{':
		var entity T
		if err := json.Unmarshal(data, &entity); err != nil {
			return fmt.Errorf("decode expanded reference: %w", err)
		}
		*r = RefTo(&entity)
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("decode reference id %q: %w", s, err)
		}
		r.id = id
		return nil
	default:
		id, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("decode reference id: %w", err)
		}
		r.id = id
		return nil
	}
}

// Value stores the reference as a nullable id column.
func (r Ref[T]) Value() (driver.Value, error) {
	id, ok := r.ID()
	if !ok {
		return nil, nil
	}
	return id, nil
}

// Scan reads a nullable id column.
func (r *Ref[T]) Scan(src any) error {
	*r = Ref[T]{}
	switch v := src.(type) {
	case nil:
		return nil
	case int64:
		r.id = v
	case []byte:
		id, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return err
		}
		r.id = id
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		r.id = id
	default:
		return fmt.Errorf("unsupported reference source %T", src)
	}
	return nil
}
