// Package users resolves a username or id to a deliverable address through the platform API.
package users

import (
	"context"
	"errors"
	"strings"

	"github.com/md-rashed-zaman/freelance-notify/libs/breaker"
)

var ErrNotFound = errors.New("user not found")

type User struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type IdentifierKind string

const (
	ByUsername IdentifierKind = "name"
	ByID       IdentifierKind = "id"
)

// Identifier names a user by username or by id. The two never share a cache key.
type Identifier struct {
	Kind  IdentifierKind
	Value string
}

func Username(v string) Identifier { return Identifier{Kind: ByUsername, Value: v} }
func ID(v string) Identifier       { return Identifier{Kind: ByID, Value: v} }

func (id Identifier) IsZero() bool {
	return strings.TrimSpace(id.Value) == ""
}

func (id Identifier) String() string {
	return string(id.Kind) + ":" + id.Value
}

type Lookup interface {
	ResolveUser(ctx context.Context, id Identifier) (User, error)
}

type guarded struct {
	next Lookup
	b    *breaker.Breaker
}

// WithBreaker stops calling next while it keeps failing. ErrNotFound never trips it.
func WithBreaker(next Lookup, b *breaker.Breaker) Lookup {
	if b == nil {
		return next
	}
	return &guarded{next: next, b: b}
}

func (g *guarded) ResolveUser(ctx context.Context, id Identifier) (User, error) {
	var u User
	err := g.b.Do(func() error {
		var err error
		u, err = g.next.ResolveUser(ctx, id)
		return err
	})
	return u, err
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
