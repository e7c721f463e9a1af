package utils

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFs_WriteJSON(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		fs := NewFs(afero.NewMemMapFs())
		require.NoError(t, fs.WriteJSON("out/doc.json", map[string]string{"id": "CVE-2024-0001"}))

		data, err := afero.ReadFile(fs.AppFs, "out/doc.json")
		require.NoError(t, err)

		var got map[string]string
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, "CVE-2024-0001", got["id"])
	})

	t.Run("unencodable data", func(t *testing.T) {
		fs := NewFs(afero.NewMemMapFs())
		err := fs.WriteJSON("out/doc.json", math.NaN())
		assert.ErrorContains(t, err, "failed to marshal JSON")
	})

	t.Run("read-only filesystem", func(t *testing.T) {
		fs := NewFs(afero.NewReadOnlyFs(afero.NewMemMapFs()))
		err := fs.WriteJSON("out/doc.json", "{}")
		assert.ErrorContains(t, err, "unable to open a file")
	})
}
