package fieldmap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"foreman_bot/internal/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMap = `{
  "Смены": {
    "entityTypeId": 1040,
    "title": "Смены",
    "userfields": {
      "UF_CRM_5_UF_PLAN_JSON": {"label": "План JSON", "type": "string"},
      "UF_CRM_5_UF_OBJECT_LINK": {"label": "Объект", "type": "crm"}
    },
    "std_fields": ["id", "title"]
  },
  "Ресурсы": {
    "entityTypeId": 1044,
    "title": "Ресурсы",
    "userfields": {
      "UF_CRM_9_UF_RESOURCE_TYPE": {"label": "Тип ресурса", "type": "enumeration"}
    }
  }
}`

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bitrix_field_map.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestResolveAndCamel(t *testing.T) {
	r, err := Load(writeSample(t, sampleMap))
	require.NoError(t, err)

	physical, err := r.Resolve("Смены", "UF_PLAN_JSON")
	require.NoError(t, err)
	assert.Equal(t, "UF_CRM_5_UF_PLAN_JSON", physical)

	camel, err := r.Field("Ресурсы", "UF_RESOURCE_TYPE")
	require.NoError(t, err)
	assert.Equal(t, "ufCrm9UfResourceType", camel)

	f, err := r.Lookup("Смены", "uf_object_link")
	require.NoError(t, err)
	assert.Equal(t, "crm", f.Type)
	assert.Equal(t, "Объект", f.Label)

	id, ok := r.EntityTypeID("Смены")
	assert.True(t, ok)
	assert.Equal(t, 1040, id)
}

func TestResolveMissingReturnsMappingError(t *testing.T) {
	r := New(File{})
	_, err := r.Resolve("Смены", "UF_PLAN_JSON")

	var me *MappingError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "UF_PLAN_JSON", me.Logical)
}

func TestCamel(t *testing.T) {
	assert.Equal(t, "ufCrm9UfResourceType", Camel("UF_CRM_9_UF_RESOURCE_TYPE"))
	assert.Equal(t, "ufCrm5UfPlanJson", Camel("UF_CRM_5_UF_PLAN_JSON"))
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := writeSample(t, sampleMap)
	r, err := Load(path)
	require.NoError(t, err)

	_, err = r.Resolve("Смены", "UF_FACT_JSON")
	require.Error(t, err)

	updated := `{"Смены": {"entityTypeId": 1040, "title": "Смены", "userfields": {"UF_CRM_5_UF_FACT_JSON": {"label": "Факт", "type": "string"}}}}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))
	require.NoError(t, r.Reload())

	physical, err := r.Resolve("Смены", "UF_FACT_JSON")
	require.NoError(t, err)
	assert.Equal(t, "UF_CRM_5_UF_FACT_JSON", physical)
}

type fakeSource struct{}

func (fakeSource) ListTypes(context.Context) ([]api.TypeInfo, error) {
	return []api.TypeInfo{
		{ID: 1, EntityTypeID: 1040, Title: "Смены"},
		{ID: 2, EntityTypeID: 1099, Title: "Прочее"},
	}, nil
}

func (fakeSource) ItemFields(_ context.Context, id int) (map[string]api.FieldInfo, error) {
	return map[string]api.FieldInfo{
		"id":             {Type: "integer", Title: "ID", UpperName: "ID"},
		"ufCrm5UfPlanJson": {Type: "string", Title: "План JSON", UpperName: "UF_CRM_5_UF_PLAN_JSON"},
	}, nil
}

func (fakeSource) ListUserfields(context.Context, int) ([]api.UserfieldInfo, error) {
	return []api.UserfieldInfo{{FieldName: "UF_CRM_5_UF_PLAN_JSON", Type: "string", Label: "План работ"}}, nil
}

func TestSyncBuildsFileAndSaves(t *testing.T) {
	f, err := Sync(context.Background(), fakeSource{}, []string{"Смены"})
	require.NoError(t, err)
	require.Contains(t, f, "Смены")
	assert.NotContains(t, f, "Прочее")
	assert.Equal(t, []string{"id"}, f["Смены"].StdFields)
	assert.Equal(t, "План работ", f["Смены"].UserFields["UF_CRM_5_UF_PLAN_JSON"].Label)

	path := filepath.Join(t.TempDir(), "map.json")
	require.NoError(t, Save(path, f))

	r, err := Load(path)
	require.NoError(t, err)
	camel, err := r.Field("Смены", "UF_PLAN_JSON")
	require.NoError(t, err)
	assert.Equal(t, "ufCrm5UfPlanJson", camel)
}
