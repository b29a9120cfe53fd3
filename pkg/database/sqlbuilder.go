package database

import (
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// Builders are the go-sqlbuilder types pinned to the PostgreSQL flavor, with the
// upsert clauses fern's repositories need. Chained calls keep the wrapper type so
// the upsert helpers stay reachable.

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

type UpdateBuilder struct {
	*sqlbuilder.UpdateBuilder
}

type SelectBuilder struct {
	*sqlbuilder.SelectBuilder
}

func NewInsertBuilder() *InsertBuilder {
	return &InsertBuilder{sqlbuilder.PostgreSQL.NewInsertBuilder()}
}

func NewUpdateBuilder() *UpdateBuilder {
	return &UpdateBuilder{sqlbuilder.PostgreSQL.NewUpdateBuilder()}
}

func NewSelectBuilder() *SelectBuilder {
	return &SelectBuilder{sqlbuilder.PostgreSQL.NewSelectBuilder()}
}

// Excluded is the EXCLUDED.<column> pseudo-row of an ON CONFLICT update.
func Excluded(column string) any {
	return sqlbuilder.Raw("EXCLUDED." + column)
}

func (b *InsertBuilder) InsertInto(table string) *InsertBuilder {
	b.InsertBuilder.InsertInto(table)
	return b
}

func (b *InsertBuilder) Cols(cols ...string) *InsertBuilder {
	b.InsertBuilder.Cols(cols...)
	return b
}

func (b *InsertBuilder) Values(values ...any) *InsertBuilder {
	b.InsertBuilder.Values(values...)
	return b
}

func (b *InsertBuilder) Returning(cols ...string) *InsertBuilder {
	b.InsertBuilder.Returning(cols...)
	return b
}

// OnConflict starts ON CONFLICT (columns) DO UPDATE; fill in the returned builder's SET.
func (b *InsertBuilder) OnConflict(columns ...string) *UpdateBuilder {
	return b.upsert(conflictTarget(columns), "")
}

// OnPartialConflict targets a partial unique index such as one filtered on a status.
func (b *InsertBuilder) OnPartialConflict(predicate string, columns ...string) *UpdateBuilder {
	return b.upsert(conflictTarget(columns), " WHERE "+predicate)
}

func (b *InsertBuilder) OnConflictDoNothing(columns ...string) *InsertBuilder {
	clause := "ON CONFLICT DO NOTHING"
	if len(columns) > 0 {
		clause = "ON CONFLICT " + conflictTarget(columns) + " DO NOTHING"
	}
	b.SQL(clause)
	return b
}

func (b *InsertBuilder) upsert(target, where string) *UpdateBuilder {
	ub := NewUpdateBuilder()
	b.SQL("ON CONFLICT " + target + where + " DO UPDATE " + b.Var(ub))
	return ub
}

func conflictTarget(columns []string) string {
	return "(" + strings.Join(columns, ", ") + ")"
}

// Struct derives column lists from a model's db tags.
type Struct struct {
	*sqlbuilder.Struct
}

func NewStruct(model any) *Struct {
	return &Struct{sqlbuilder.NewStruct(model).For(sqlbuilder.PostgreSQL)}
}

func (s *Struct) SelectFrom(table string) *SelectBuilder {
	return &SelectBuilder{s.Struct.SelectFrom(table)}
}
