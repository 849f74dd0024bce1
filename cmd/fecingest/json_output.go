package main

import (
	"encoding/json"
	"reflect"

	"github.com/spf13/cobra"
)

// writeJSON encodes v as indented JSON to the command's stdout. A nil slice is
// written as [] so consumers of `runs --json` and `handoffs --json` always get
// an array. HTML escaping is off because confs carry URLs and temp paths.
func writeJSON(cmd *cobra.Command, v any) error {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice && rv.IsNil() {
		v = []any{}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
