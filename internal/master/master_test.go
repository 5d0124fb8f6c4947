package master

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formsmith/internal/schema"
	"formsmith/internal/store"
)

func openStorage(t *testing.T) store.Storage {
	t.Helper()
	st, err := store.NewJSONStore(filepath.Join(t.TempDir(), "forms.json"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func createForm(t *testing.T, st store.Storage, id string, fields []schema.Field) {
	t.Helper()
	doc, order := schema.SchemaFromFields(fields)
	now := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, st.Forms().CreateForm(&store.Form{
		ID:         id,
		PublicID:   "pub-" + id,
		Name:       id,
		Status:     store.StatusActive,
		SchemaDoc:  doc,
		FieldOrder: order,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))
}

func createSubmission(t *testing.T, st store.Storage, id, formID string, data map[string]any, createdAt time.Time) {
	t.Helper()
	require.NoError(t, st.Submissions().CreateSubmission(&store.Submission{
		ID:        id,
		FormID:    formID,
		Data:      data,
		CreatedAt: createdAt,
	}))
}

func peopleFields() []schema.Field {
	return []schema.Field{
		{Key: "name", Label: "Name", Type: schema.TypeString},
		{Key: "dept", Label: "Department", Type: schema.TypeString},
		{Key: "photo", Label: "Photo", Type: schema.TypeFile},
	}
}

func orderFields() []schema.Field {
	return []schema.Field{
		{Key: "item", Label: "Item", Type: schema.TypeString},
		{Key: "owner", Label: "Owner", Type: schema.TypeMaster,
			MasterFormID: "people", MasterLabelKey: "name",
			MasterDisplayFields: []string{"dept"}},
	}
}

func TestBuildReferenceContext(t *testing.T) {
	st := openStorage(t)
	createForm(t, st, "people", peopleFields())
	base := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	createSubmission(t, st, "p1", "people", map[string]any{"name": "Ada", "dept": "Research"}, base)
	createSubmission(t, st, "p2", "people", map[string]any{"dept": "Ops"}, base.Add(time.Minute))
	createSubmission(t, st, "p3", "people", map[string]any{}, base.Add(2*time.Minute))

	r := NewResolver(st)
	ctx := r.BuildReferenceContext(orderFields()[1])

	assert.Equal(t, "people", ctx.SourceFormID)
	assert.Equal(t, "name", ctx.LabelKey)
	assert.Equal(t, []string{"dept"}, ctx.DisplayKeys)
	require.Len(t, ctx.DisplayItems, 1)
	assert.Equal(t, "Department", ctx.DisplayItems[0].Label)

	require.Len(t, ctx.Records, 3)
	byID := map[string]Record{}
	for _, rec := range ctx.Records {
		byID[rec.ID] = rec
	}
	assert.Equal(t, "Ada", byID["p1"].Label)
	assert.Equal(t, map[string]string{"dept": "Research"}, byID["p1"].Values)
	assert.Equal(t, "Ops", byID["p2"].Label, "label key empty, candidate column fills in")
	assert.Equal(t, "2025-04-02 09:02", byID["p3"].Label, "no data at all falls back to timestamp")
}

func TestBuildReferenceContextDropsUnknownKeys(t *testing.T) {
	st := openStorage(t)
	createForm(t, st, "people", peopleFields())

	r := NewResolver(st)
	ctx := r.BuildReferenceContext(schema.Field{
		Key: "owner", Type: schema.TypeMaster,
		MasterFormID:        "people",
		MasterLabelKey:      "nonexistent",
		MasterDisplayFields: []string{"dept", "bogus"},
	})
	assert.Empty(t, ctx.LabelKey)
	assert.Equal(t, []string{"dept"}, ctx.DisplayKeys)
}

func TestFormCandidatesExcludesFilesAndFollowsReferences(t *testing.T) {
	st := openStorage(t)
	createForm(t, st, "people", peopleFields())
	createForm(t, st, "orders", orderFields())

	r := NewResolver(st)
	candidates := r.FormCandidates("orders", nil)

	keys := map[string]string{}
	for _, c := range candidates {
		keys[c.Key] = c.Label
	}
	assert.Equal(t, "Item", keys["item"])
	assert.Equal(t, "Owner", keys["owner"])
	assert.Equal(t, "Owner.Name", keys["owner.name"])
	assert.Equal(t, "Owner.Department", keys["owner.dept"])
	assert.NotContains(t, keys, "owner.photo", "file columns are not referenceable")
}

func TestFormCandidatesBreaksCycles(t *testing.T) {
	st := openStorage(t)
	createForm(t, st, "a", []schema.Field{
		{Key: "title", Label: "Title", Type: schema.TypeString},
		{Key: "b_ref", Label: "B", Type: schema.TypeMaster, MasterFormID: "b"},
	})
	createForm(t, st, "b", []schema.Field{
		{Key: "note", Label: "Note", Type: schema.TypeString},
		{Key: "a_ref", Label: "A", Type: schema.TypeMaster, MasterFormID: "a"},
	})

	r := NewResolver(st)
	candidates := r.FormCandidates("a", nil)

	var keys []string
	for _, c := range candidates {
		keys = append(keys, c.Key)
	}
	assert.Contains(t, keys, "title")
	assert.Contains(t, keys, "b_ref.note")
	assert.NotContains(t, keys, "b_ref.a_ref.title", "cycle back into form a is cut")
}

func TestResolveThroughChainedReference(t *testing.T) {
	st := openStorage(t)
	createForm(t, st, "people", peopleFields())
	createForm(t, st, "orders", orderFields())
	createForm(t, st, "audits", []schema.Field{
		{Key: "order_ref", Label: "Order", Type: schema.TypeMaster,
			MasterFormID: "orders", MasterLabelKey: "owner.name"},
	})

	base := time.Date(2025, 4, 3, 10, 0, 0, 0, time.UTC)
	createSubmission(t, st, "p1", "people", map[string]any{"name": "Ada", "dept": "Research"}, base)
	createSubmission(t, st, "o1", "orders", map[string]any{"item": "Laptop", "owner": "p1"}, base.Add(time.Hour))
	createSubmission(t, st, "a1", "audits", map[string]any{"order_ref": "o1"}, base.Add(2*time.Hour))

	r := NewResolver(st)
	sub, ok := r.submissionByID("audits", "a1")
	require.True(t, ok)

	label := r.OptionLabel("audits", sub, "order_ref.owner.name", nil, 1)
	assert.Equal(t, "Ada", label)
}

func TestExpandedRowRecords(t *testing.T) {
	st := openStorage(t)
	createForm(t, st, "inventory", []schema.Field{
		{Key: "site", Label: "Site", Type: schema.TypeString},
		{Key: "lines", Label: "Lines", Type: schema.TypeGroup, IsArray: true, ExpandRows: true,
			Children: []schema.Field{
				{Key: "sku", Label: "SKU", Type: schema.TypeString},
			}},
	})
	createSubmission(t, st, "inv1", "inventory", map[string]any{
		"site": "Tokyo",
		"lines": []any{
			map[string]any{"sku": "A-100"},
			map[string]any{"sku": "B-200"},
		},
	}, time.Date(2025, 4, 4, 11, 0, 0, 0, time.UTC))

	r := NewResolver(st)
	ctx := r.BuildReferenceContext(schema.Field{
		Key: "line_ref", Type: schema.TypeMaster,
		MasterFormID: "inventory", MasterLabelKey: "lines.sku",
	})

	require.Len(t, ctx.Records, 2)
	assert.Equal(t, "inv1:0", ctx.Records[0].ID)
	assert.Equal(t, "A-100", ctx.Records[0].Label)
	assert.Equal(t, "inv1:1", ctx.Records[1].ID)
	assert.Equal(t, "B-200", ctx.Records[1].Label)

	sub, ok := r.submissionByID("inventory", "inv1:1")
	require.True(t, ok)
	line, _ := sub.Data["lines"].(map[string]any)
	assert.Equal(t, "B-200", line["sku"])

	_, ok = r.submissionByID("inventory", "inv1:9")
	assert.False(t, ok)
}

func TestEnrichMasterOptions(t *testing.T) {
	st := openStorage(t)
	createForm(t, st, "people", peopleFields())
	createSubmission(t, st, "p1", "people", map[string]any{"name": "Ada", "dept": "Research"},
		time.Date(2025, 4, 5, 12, 0, 0, 0, time.UTC))

	fields := orderFields()
	r := NewResolver(st)
	r.EnrichMasterOptions(fields)

	owner := fields[1]
	require.Len(t, owner.MasterOptions, 1)
	assert.Equal(t, "p1", owner.MasterOptions[0].Value)
	assert.Equal(t, "Ada", owner.MasterOptions[0].Label)
	assert.JSONEq(t, `{"dept":"Research"}`, owner.MasterOptions[0].DisplayJSON)
}

func TestValidateMasterReferences(t *testing.T) {
	st := openStorage(t)
	createForm(t, st, "people", peopleFields())
	createSubmission(t, st, "p1", "people", map[string]any{"name": "Ada"},
		time.Date(2025, 4, 6, 13, 0, 0, 0, time.UTC))

	fields := orderFields()
	r := NewResolver(st)

	assert.Empty(t, r.ValidateMasterReferences(fields, map[string]any{"owner": "p1"}))
	assert.Empty(t, r.ValidateMasterReferences(fields, map[string]any{"owner": "p1:2"}),
		"expanded row ids validate against the base submission")
	assert.Empty(t, r.ValidateMasterReferences(fields, map[string]any{"owner": ""}))

	errs := r.ValidateMasterReferences(fields, map[string]any{"owner": "ghost"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Owner")
}

func TestValidateMasterReferencesArray(t *testing.T) {
	st := openStorage(t)
	createForm(t, st, "people", peopleFields())
	createSubmission(t, st, "p1", "people", map[string]any{"name": "Ada"},
		time.Date(2025, 4, 7, 14, 0, 0, 0, time.UTC))

	fields := []schema.Field{
		{Key: "owners", Label: "Owners", Type: schema.TypeMaster, IsArray: true,
			MasterFormID: "people"},
	}
	r := NewResolver(st)

	assert.Empty(t, r.ValidateMasterReferences(fields, map[string]any{"owners": []any{"p1"}}))
	errs := r.ValidateMasterReferences(fields, map[string]any{"owners": []any{"p1", "ghost"}})
	require.Len(t, errs, 1)
}
