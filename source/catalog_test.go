package source

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/das-developers/das2py-server-sub000/errors"
)

func catalogRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "examples/random.json", randomJSON)
	writeFile(t, root, "cassini/rpws.dsdf", "description = \"Cassini RPWS survey\"\nreader = rpws_rdr\n")
	writeFile(t, root, "cassini/secret.dsdf", "hidden = true\nreader = secret_rdr\n")
	writeFile(t, root, "elsewhere.dsdf", "server = https://das.example.org/\nreader = rdr\n")
	writeFile(t, root, "broken.json", "{")
	return root
}

func TestBuildCatalog(t *testing.T) {
	cat, err := BuildCatalog(NewLoader(catalogRoot(t), ""))
	require.NoError(t, err)

	var ids []string
	for _, e := range cat.Entries {
		ids = append(ids, e.LocalID)
	}
	assert.Equal(t, []string{"cassini/rpws", "elsewhere", "examples/random"}, ids)
	assert.Equal(t, 1, cat.Skipped)
	assert.Equal(t, "https://das.example.org", cat.Entries[1].Server)
	assert.Equal(t, "Cassini RPWS survey", cat.Entries[0].Title)

	var list bytes.Buffer
	require.NoError(t, cat.WriteDas2List(&list))
	assert.Equal(t, "cassini/rpws|Cassini RPWS survey\nexamples/random|Random test data // not a comment\n", list.String())

	var nodes bytes.Buffer
	require.NoError(t, cat.WriteNodesCSV(&nodes))
	lines := strings.Split(strings.TrimSpace(nodes.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "localId,label,title,format,server", lines[0])
	assert.Equal(t, "elsewhere,,,dsdf,https://das.example.org", lines[2])

	err = cat.WriteByName("bogus.txt", &nodes)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestCatalogWriteFiles(t *testing.T) {
	cat, err := BuildCatalog(NewLoader(catalogRoot(t), ""))
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "catalog")
	require.NoError(t, cat.WriteFiles(dir))
	for _, name := range []string{CatalogJSON, CatalogNodes, CatalogDas2} {
		fi, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, fi.Size())
		_, err = os.Stat(filepath.Join(dir, name+".tmp"))
		assert.True(t, os.IsNotExist(err))
	}

	data, err := os.ReadFile(filepath.Join(dir, CatalogJSON))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"localId": "examples/random"`)
}
