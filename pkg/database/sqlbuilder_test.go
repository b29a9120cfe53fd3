package database

import (
	"strings"
	"testing"

	"github.com/huandu/go-sqlbuilder"
	"github.com/stretchr/testify/assert"
)

func TestInsertBuilder_OnPartialConflict(t *testing.T) {
	ib := NewInsertBuilder()
	ib.InsertInto("integration_configs").Cols("tenant_id", "provider", "enabled").Values("t1", "jira", true)
	ub := ib.OnPartialConflict("deleted_at IS NULL", "tenant_id", "provider")
	ub.Set(ub.Assign("enabled", Excluded("enabled")), ub.Assign("updated_at", sqlbuilder.Raw("NOW()")))
	ib.Returning("id")

	query, args := ib.Build()
	assert.Contains(t, query, "ON CONFLICT (tenant_id, provider) WHERE deleted_at IS NULL DO UPDATE")
	assert.Contains(t, query, "enabled = EXCLUDED.enabled")
	assert.Contains(t, query, "updated_at = NOW()")
	assert.Less(t, strings.Index(query, "ON CONFLICT"), strings.Index(query, "RETURNING id"))
	assert.Equal(t, []any{"t1", "jira", true}, args)
}

func TestInsertBuilder_OnConflictDoNothing(t *testing.T) {
	ib := NewInsertBuilder()
	ib.InsertInto("interactions").Cols("tenant_id", "external_id").Values("t1", "CA123")
	ib.OnConflictDoNothing("tenant_id", "integration_type", "external_id")

	query, _ := ib.Build()
	assert.True(t, strings.HasSuffix(query, "ON CONFLICT (tenant_id, integration_type, external_id) DO NOTHING"), query)
}
