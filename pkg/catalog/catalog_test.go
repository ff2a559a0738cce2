package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestInternAssignsStableIDs(t *testing.T) {
	c := openTestCatalog(t)

	id1, err := c.InternLabel("Person")
	require.NoError(t, err)
	assert.NotZero(t, id1)

	id2, err := c.InternLabel("Person")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := c.InternLabel("Company")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestNamespacesAreDisjoint(t *testing.T) {
	c := openTestCatalog(t)

	_, err := c.InternLabel("name")
	require.NoError(t, err)
	propID, err := c.InternPropertyKey("name")
	require.NoError(t, err)

	name, ok := c.LookupPropertyKey(propID)
	assert.True(t, ok)
	assert.Equal(t, "name", name)

	// The same string interned in both namespaces resolves back correctly
	// through each namespace's own lookup, regardless of whether the two
	// namespaces' counters happened to assign the same numeric ID.
	_, ok = c.PropertyKeyID("name")
	assert.True(t, ok)
}

func TestLookupUnknownIDFails(t *testing.T) {
	c := openTestCatalog(t)
	_, ok := c.LookupLabel(9999)
	assert.False(t, ok)
}

func TestLabelIDDoesNotIntern(t *testing.T) {
	c := openTestCatalog(t)
	_, ok := c.LabelID("Ghost")
	assert.False(t, ok)

	id, err := c.InternLabel("Ghost")
	require.NoError(t, err)
	found, ok := c.LabelID("Ghost")
	assert.True(t, ok)
	assert.Equal(t, id, found)
}

func TestHasLabel(t *testing.T) {
	c := openTestCatalog(t)
	id, err := c.InternLabel("Animal")
	require.NoError(t, err)
	assert.True(t, c.HasLabel(id))
	assert.False(t, c.HasLabel(id+1000))
}

func TestAllNamesListsEverythingInterned(t *testing.T) {
	c := openTestCatalog(t)
	_, err := c.InternLabel("A")
	require.NoError(t, err)
	_, err = c.InternLabel("B")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"A", "B"}, c.AllLabels())
}

func TestCatalogPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)

	id, err := c.InternRelType("KNOWS")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	found, ok := reopened.RelTypeID("KNOWS")
	require.True(t, ok)
	assert.Equal(t, id, found)
}

func TestRegisterAndListUDF(t *testing.T) {
	c := openTestCatalog(t)
	sig := UDFSignature{Name: "similarity", ParamTypes: []string{"list", "list"}, ReturnType: "float", Description: "cosine similarity"}
	require.NoError(t, c.RegisterUDF(sig))

	found := c.ListUDFs()
	require.Len(t, found, 1)
	assert.Equal(t, sig, found[0])
}

func TestRegisterUDFReplacesSameName(t *testing.T) {
	c := openTestCatalog(t)
	require.NoError(t, c.RegisterUDF(UDFSignature{Name: "f", ReturnType: "int"}))
	require.NoError(t, c.RegisterUDF(UDFSignature{Name: "f", ReturnType: "float"}))

	found := c.ListUDFs()
	require.Len(t, found, 1)
	assert.Equal(t, "float", found[0].ReturnType)
}

func TestUDFsPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, c.RegisterUDF(UDFSignature{Name: "f", ParamTypes: []string{"int", "int"}, ReturnType: "int", Description: "adds"}))
	require.NoError(t, c.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	found := reopened.ListUDFs()
	require.Len(t, found, 1)
	assert.Equal(t, "f", found[0].Name)
	assert.Equal(t, []string{"int", "int"}, found[0].ParamTypes)
}

func TestOpenCreatesDirIfMissing(t *testing.T) {
	dir := t.TempDir() + "/nested/catalog"
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()
	_, err = c.InternLabel("X")
	require.NoError(t, err)
}
