// Package envelope holds the immutable run configuration that every pipeline
// stage receives and that hand-offs forward downstream unchanged.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"fecingest/internal/services"
)

// Key names one field of the closed envelope key set.
type Key string

const (
	KeyName      Key = "name"
	KeyFECCode   Key = "fec_code"
	KeyCycle     Key = "cycle"
	KeyRunDate   Key = "run_date"
	KeyExtension Key = "extension"
	KeyTempDir   Key = "temp_dir"
)

var orderedKeys = [...]Key{KeyName, KeyFECCode, KeyCycle, KeyRunDate, KeyExtension, KeyTempDir}

// requiredKeys must be non-empty under strict validation. extension and
// temp_dir may legitimately be blank.
var requiredKeys = [...]Key{KeyName, KeyFECCode, KeyCycle, KeyRunDate}

// Keys returns the closed key set in wire order.
func Keys() []Key {
	return append([]Key(nil), orderedKeys[:]...)
}

// Envelope is a value type. Copies are independent and no method mutates the
// receiver.
type Envelope struct {
	values [len(orderedKeys)]string
}

// FromRawMap reads exactly the closed key set from raw and ignores every other
// key. Missing or nil values become empty strings. It never fails.
func FromRawMap(raw map[string]any) Envelope {
	var env Envelope
	for i, key := range orderedKeys {
		env.values[i] = formatValue(raw[string(key)])
	}
	return env
}

// FromConf is FromRawMap for the string-valued hand-off wire format.
func FromConf(conf map[string]string) Envelope {
	var env Envelope
	for i, key := range orderedKeys {
		env.values[i] = conf[string(key)]
	}
	return env
}

func formatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case int32:
		return strconv.FormatInt(int64(value), 10)
	case uint64:
		return strconv.FormatUint(value, 10)
	case float32:
		return formatFloat(float64(value), 32)
	case float64:
		return formatFloat(value, 64)
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		if f, err := value.Float64(); err == nil {
			return formatFloat(f, 64)
		}
		return value.String()
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}

// formatFloat renders integral floats without a fraction so a JSON 2024 and a
// YAML 2024.0 both become "2024".
func formatFloat(f float64, bits int) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, bits)
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

func index(key Key) int {
	for i, k := range orderedKeys {
		if k == key {
			return i
		}
	}
	return -1
}

// Get returns the value for key. Keys outside the closed set return "".
func (e Envelope) Get(key Key) string {
	if i := index(key); i >= 0 {
		return e.values[i]
	}
	return ""
}

func (e Envelope) Name() string      { return e.values[0] }
func (e Envelope) FECCode() string   { return e.values[1] }
func (e Envelope) Cycle() string     { return e.values[2] }
func (e Envelope) RunDate() string   { return e.values[3] }
func (e Envelope) Extension() string { return e.values[4] }
func (e Envelope) TempDir() string   { return e.values[5] }

// CycleSuffix returns the last two characters of cycle, or the whole cycle
// when it is shorter.
func (e Envelope) CycleSuffix() string {
	cycle := []rune(e.Cycle())
	if len(cycle) <= 2 {
		return string(cycle)
	}
	return string(cycle[len(cycle)-2:])
}

// With returns a copy with key set to value. Unknown keys return the
// envelope unchanged.
func (e Envelope) With(key Key, value string) Envelope {
	if i := index(key); i >= 0 {
		e.values[i] = value
	}
	return e
}

// Equal reports whether all closed-set fields match.
func (e Envelope) Equal(other Envelope) bool {
	return e.values == other.values
}

// Conf returns the hand-off wire format: exactly the closed key set.
func (e Envelope) Conf() map[string]string {
	conf := make(map[string]string, len(orderedKeys))
	for i, key := range orderedKeys {
		conf[string(key)] = e.values[i]
	}
	return conf
}

// RawMap returns Conf widened to the invocation input type.
func (e Envelope) RawMap() map[string]any {
	raw := make(map[string]any, len(orderedKeys))
	for i, key := range orderedKeys {
		raw[string(key)] = e.values[i]
	}
	return raw
}

// MarshalJSON encodes the wire format with keys in a stable order.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Conf())
}

// UnmarshalJSON decodes a wire-format object, tolerating loosely typed values.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.UseNumber()
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	*e = FromRawMap(raw)
	return nil
}

// Hash is a sha256 digest over the ordered fields.
func (e Envelope) Hash() string {
	h := sha256.New()
	for i, key := range orderedKeys {
		h.Write([]byte(key))
		h.Write([]byte{'='})
		h.Write([]byte(e.values[i]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Missing lists the fields that are empty, in key order.
func (e Envelope) Missing() []Key {
	var missing []Key
	for i, key := range orderedKeys {
		if e.values[i] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Validate enforces strict mode: name, fec_code, cycle, and run_date must be set.
func (e Envelope) Validate() error {
	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(e.Get(key)) == "" {
			missing = append(missing, string(key))
		}
	}
	if len(missing) > 0 {
		return services.Wrap(services.ErrConfiguration, "process_config", "validate envelope",
			"missing "+strings.Join(missing, ", "), nil)
	}
	return nil
}

// String renders name and cycle for log lines and CLI output.
func (e Envelope) String() string {
	return fmt.Sprintf("%s_%s", e.Name(), e.Cycle())
}
