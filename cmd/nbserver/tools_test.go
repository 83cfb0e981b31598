package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestCollectionSchemas(t *testing.T) {
	schemas := collectionSchemas()
	for _, k := range collections {
		if schemas[k] == nil {
			t.Errorf("missing schema for %q", k)
		}
	}
	m := schemas["mappings"]
	if m.Type != "array" || m.Items == nil {
		t.Fatalf("mappings schema = %+v, want array", m)
	}
	if _, ok := m.Items.Properties.Get("bvid"); !ok {
		t.Error("mappings schema has no bvid property")
	}
}

func TestRunVerify(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr bool
		want    []string
	}{
		{
			name: "empty",
			want: []string{"mappings", "missing"},
		},
		{
			name:  "valid",
			files: map[string]string{"mappings.json": "[]\n", "extra/notes.json": "{}\n"},
			want:  []string{"extra/notes", "ok"},
		},
		{
			name:    "corrupt",
			files:   map[string]string{"playlists.json": "[{"},
			wantErr: true,
			want:    []string{"corrupt"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				p := filepath.Join(dir, filepath.FromSlash(name))
				if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			viper.Set("data-dir", dir)
			t.Cleanup(func() { viper.Set("data-dir", nil) })

			var out bytes.Buffer
			cmd := &cobra.Command{}
			cmd.SetContext(t.Context())
			cmd.SetOut(&out)
			err := runVerify(cmd, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("runVerify() error = %v, wantErr %v", err, tt.wantErr)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output missing %q:\n%s", w, out.String())
				}
			}
		})
	}
}
