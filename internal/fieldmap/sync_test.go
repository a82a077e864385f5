package fieldmap_test

import (
	"context"
	"errors"
	"testing"

	"foreman_bot/internal/crmtest"
	"foreman_bot/internal/fieldmap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncTakesLabelsFromUserfieldList(t *testing.T) {
	crm := crmtest.New()

	f, err := fieldmap.Sync(context.Background(), crm, []string{crmtest.Entities.Shift})
	require.NoError(t, err)
	require.Len(t, f, 1)

	shift := f[crmtest.Entities.Shift]
	assert.Equal(t, crmtest.ShiftType, shift.EntityTypeID)
	assert.Equal(t, fieldmap.UserField{Label: fieldmap.ShiftPlanJSON, Type: "string"}, shift.UserFields["UF_CRM_5_"+fieldmap.ShiftPlanJSON])
	assert.Equal(t, []string{"assignedById", "createdTime", "id", "title"}, shift.StdFields)

	r := fieldmap.New(f)
	camel, err := r.Field(crmtest.Entities.Shift, fieldmap.ShiftPlanJSON)
	require.NoError(t, err)
	assert.Equal(t, "ufCrm5UfPlanJson", camel)
}

func TestSyncFailsWhenCRMUnavailable(t *testing.T) {
	crm := crmtest.New()
	crm.Err = errors.New("нет связи")

	_, err := fieldmap.Sync(context.Background(), crm, nil)
	assert.Error(t, err)
}
