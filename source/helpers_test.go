package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const randomJSON = `// random data generator
{
  "label": "Random",
  "title": "Random test data // not a comment", // trailing comment
  "protocol": {
    "convention": "das3",
    "httpParams": {
      "read.time.min": {"type": "isotime", "required": true},
      "read.time.max": {"type": "isotime", "required": true},
      "bin.time.max": {"type": "real", "range": [0, 86400]},
      "read.opts": {
        "type": "flag_set",
        "flagSep": " ",
        "flags": {
          "zeta": {"value": "-z"},
          "alpha": {"value": "-a"},
          "gain": {"value": "--gain", "prefix": "--gain=", "type": "real"}
        }
      }
    }
  },
  "commands": [
    {
      "label": "reader",
      "order": 10,
      "template": ["random_rdr", "#[read.time.min]", "#[read.time.max]", "#[read.opts##]"],
      "output": {"type": "application/vnd.das.stream", "version": 3}
    },
    {
      "label": "binner",
      "order": 20,
      "template": "das3_bin #[bin.time.max]",
      "triggers": [{"key": "bin.time.max", "value": 0, "compare": "gt"}],
      "input": {"type": "application/vnd.das.stream"},
      "output": {"type": "application/vnd.das.stream"}
    }
  ]
}
`
