package spaghetti

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	yamlDoc := "plugs:\n  tfsync: \"exec:tfsync foo\"\n  seriald: \"ws://seriald.local/\"\nlinks:\n  tfsync: seriald\n"

	cfg, err := Parse(strings.NewReader(yamlDoc))
	require.NoError(t, err)
	require.Equal(t, "exec:tfsync foo", cfg.Plugs["tfsync"])
	require.Equal(t, "ws://seriald.local/", cfg.Plugs["seriald"])
	require.Equal(t, "seriald", cfg.Links["tfsync"])
}

func TestValidate_UnknownPlug(t *testing.T) {
	raw := Config[Raw]{
		Plugs: map[string]string{"p": "exec:x"},
		Links: map[string]string{"p": "q"},
	}

	_, err := raw.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	require.Equal(t, KindUnknownPlug, verr.Violations[0].Kind)
	require.Equal(t, "q", verr.Violations[0].Name)
}

func TestValidate_DuplicateSink(t *testing.T) {
	raw := Config[Raw]{
		Plugs: map[string]string{"p": "exec:x", "q": "exec:y", "r": "exec:z"},
		Links: map[string]string{"p": "q", "r": "q"},
	}

	_, err := raw.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	require.Equal(t, KindDuplicateSink, verr.Violations[0].Kind)
	require.Equal(t, "q", verr.Violations[0].Name)
}

func TestValidate_Ok(t *testing.T) {
	raw := Config[Raw]{
		Plugs: map[string]string{"a": "exec:cat", "b": "exec:cat"},
		Links: map[string]string{"a": "b"},
	}

	validated, err := raw.Validate()
	require.NoError(t, err)
	require.Equal(t, raw.Plugs, validated.Plugs)
	require.Equal(t, raw.Links, validated.Links)
}

// TestRoundTrip exercises spec §8 item 6: serializing a Validated config
// and re-parsing yields an equal Raw config that re-validates equal.
func TestRoundTrip(t *testing.T) {
	raw := Config[Raw]{
		Plugs: map[string]string{"a": "exec:cat", "b": "exec:cat", "c": "ws://host/x"},
		Links: map[string]string{"a": "b", "b": "c"},
	}
	validated, err := raw.Validate()
	require.NoError(t, err)

	bytes, err := Marshal(validated)
	require.NoError(t, err)

	reparsed, err := Parse(strings.NewReader(string(bytes)))
	require.NoError(t, err)

	if diff := cmp.Diff(raw.Plugs, reparsed.Plugs); diff != "" {
		t.Errorf("plugs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(raw.Links, reparsed.Links); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}

	revalidated, err := reparsed.Validate()
	require.NoError(t, err)
	require.Equal(t, validated.Plugs, revalidated.Plugs)
	require.Equal(t, validated.Links, revalidated.Links)
}

func TestSortedPlugNames(t *testing.T) {
	cfg := Config[Raw]{Plugs: map[string]string{"c": "exec:c", "a": "exec:a", "b": "exec:b"}}
	require.Equal(t, []string{"a", "b", "c"}, cfg.SortedPlugNames())
}
