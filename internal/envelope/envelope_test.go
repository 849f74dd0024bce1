package envelope_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fecingest/internal/envelope"
	"fecingest/internal/services"
)

func indivConf() map[string]any {
	return map[string]any{
		"name":      "indiv",
		"fec_code":  "indiv",
		"cycle":     "2024",
		"run_date":  "2024-01-01",
		"extension": ".csv",
		"temp_dir":  "/tmp/",
	}
}

func TestFromRawMapReadsClosedSet(t *testing.T) {
	raw := indivConf()
	raw["unrelated"] = "ignored"

	env := envelope.FromRawMap(raw)

	assert.Equal(t, "indiv", env.Name())
	assert.Equal(t, "indiv", env.FECCode())
	assert.Equal(t, "2024", env.Cycle())
	assert.Equal(t, "2024-01-01", env.RunDate())
	assert.Equal(t, ".csv", env.Extension())
	assert.Equal(t, "/tmp/", env.TempDir())

	conf := env.Conf()
	assert.Len(t, conf, 6)
	assert.NotContains(t, conf, "unrelated")
}

func TestFromRawMapMissingKeysAreEmpty(t *testing.T) {
	env := envelope.FromRawMap(map[string]any{"name": "pas2", "cycle": nil})

	assert.Equal(t, "pas2", env.Name())
	assert.Equal(t, "", env.Cycle())
	assert.Equal(t, []envelope.Key{
		envelope.KeyFECCode, envelope.KeyCycle, envelope.KeyRunDate, envelope.KeyExtension, envelope.KeyTempDir,
	}, env.Missing())

	conf := env.Conf()
	for _, key := range envelope.Keys() {
		value, ok := conf[string(key)]
		assert.True(t, ok, "key %s must be present", key)
		if key != envelope.KeyName {
			assert.Empty(t, value)
		}
	}

	empty := envelope.FromRawMap(nil)
	assert.Len(t, empty.Conf(), 6)
}

func TestFromRawMapFormatsScalars(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"int", 2024, "2024"},
		{"float", 2024.0, "2024"},
		{"fraction", 20.5, "20.5"},
		{"json number", json.Number("2024"), "2024"},
		{"bool", true, "true"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := envelope.FromRawMap(map[string]any{"cycle": tc.in})
			assert.Equal(t, tc.want, env.Cycle())
		})
	}
}

func TestEqualAndWithAreValueSemantics(t *testing.T) {
	a := envelope.FromRawMap(indivConf())
	b := envelope.FromRawMap(indivConf())
	require.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())

	c := a.With(envelope.KeyCycle, "2022")
	assert.Equal(t, "2024", a.Cycle(), "With must not mutate the receiver")
	assert.Equal(t, "2022", c.Cycle())
	assert.False(t, a.Equal(c))
	assert.NotEqual(t, a.Hash(), c.Hash())

	assert.True(t, a.Equal(a.With("bogus", "x")))
}

func TestHashDistinguishesFieldBoundaries(t *testing.T) {
	a := envelope.FromRawMap(map[string]any{"name": "ab", "fec_code": "c"})
	b := envelope.FromRawMap(map[string]any{"name": "a", "fec_code": "bc"})
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestCycleSuffix(t *testing.T) {
	assert.Equal(t, "24", envelope.FromRawMap(map[string]any{"cycle": "2024"}).CycleSuffix())
	assert.Equal(t, "8", envelope.FromRawMap(map[string]any{"cycle": "8"}).CycleSuffix())
	assert.Equal(t, "", envelope.FromRawMap(nil).CycleSuffix())
}

func TestValidateStrict(t *testing.T) {
	require.NoError(t, envelope.FromRawMap(indivConf()).Validate())

	raw := indivConf()
	delete(raw, "run_date")
	raw["extension"] = ""
	err := envelope.FromRawMap(raw).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrConfiguration))
	assert.Contains(t, err.Error(), "run_date")
	assert.NotContains(t, err.Error(), "extension")
}

func TestJSONRoundTripPreservesEnvelope(t *testing.T) {
	env := envelope.FromRawMap(indivConf())
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded envelope.Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, env.Equal(decoded))
	assert.True(t, env.Equal(envelope.FromConf(env.Conf())))
}
