package sbom

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBOM = `{
  "bomFormat": "CycloneDX",
  "specVersion": "1.4",
  "serialNumber": "urn:uuid:3e671687-395b-41f5-a30f-a58921a69b79",
  "version": 2,
  "components": [
    {
      "type": "operating-system",
      "name": "linux_kernel",
      "bom-ref": "pkg:generic/linux_kernel@6.6.21",
      "purl": "pkg:generic/linux_kernel@6.6.21"
    },
    {
      "type": "library",
      "name": "linux_kernel",
      "purl": "pkg:generic/linux_kernel@6.1.0"
    },
    {
      "type": "library",
      "name": "busybox"
    }
  ]
}`

func TestParse(t *testing.T) {
	bom, err := Parse([]byte(testBOM))
	require.NoError(t, err)

	t.Run("matching components become BOM-Links", func(t *testing.T) {
		refs := bom.Refs("linux_kernel")
		assert.Equal(t, []string{
			"urn:cdx:3e671687-395b-41f5-a30f-a58921a69b79/2#pkg:generic/linux_kernel@6.6.21",
			"urn:cdx:3e671687-395b-41f5-a30f-a58921a69b79/2#pkg:generic/linux_kernel@6.1.0",
		}, refs)
	})

	t.Run("component without bom-ref or purl falls back to its name", func(t *testing.T) {
		refs := bom.Refs("busybox")
		assert.Equal(t,
			[]string{"urn:cdx:3e671687-395b-41f5-a30f-a58921a69b79/2#busybox"}, refs)
	})

	t.Run("no match yields no refs", func(t *testing.T) {
		assert.Empty(t, bom.Refs("nonexistent"))
	})
}

func TestParse_errors(t *testing.T) {
	_, err := Parse([]byte("not json"))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"bomFormat": "SPDX"}`))
	assert.ErrorContains(t, err, "CycloneDX")
}

func TestParse_defaults(t *testing.T) {
	bom, err := Parse([]byte(`{
		"bomFormat": "CycloneDX",
		"components": [{"name": "busybox"}]
	}`))
	require.NoError(t, err)

	// Missing serial and version still produce a usable link.
	assert.Equal(t, []string{"urn:cdx:unknown/1#busybox"}, bom.Refs("busybox"))
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "sbom.json", []byte(testBOM), 0644))

	bom, err := Load("sbom.json", WithAppFs(fs))
	require.NoError(t, err)
	assert.NotEmpty(t, bom.Refs("linux_kernel"))

	_, err = Load("missing.json", WithAppFs(fs))
	assert.Error(t, err)
}
