package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// confFlags collects the run conf from --conf and --set. --set values are
// applied after the file and win on conflicts.
type confFlags struct {
	file string
	sets []string
}

func (f *confFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.file, "conf", "", "JSON file holding the run conf object")
	cmd.Flags().StringArrayVar(&f.sets, "set", nil, "Conf entry as key=value (repeatable)")
}

func (f *confFlags) build() (map[string]any, error) {
	conf := map[string]any{}
	if path := strings.TrimSpace(f.file); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read conf file: %w", err)
		}
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.UseNumber()
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("parse conf file %s: %w", path, err)
		}
		if conf == nil {
			conf = map[string]any{}
		}
	}
	for _, entry := range f.sets {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q (expected key=value)", entry)
		}
		conf[key] = value
	}
	return conf, nil
}
