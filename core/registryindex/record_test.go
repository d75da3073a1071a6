package registryindex

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardPath(t *testing.T) {
	cases := map[string]string{
		"a":            "1/a",
		"ab":           "2/ab",
		"abc":          "3/a/abc",
		"abcd":         "ab/cd/abcd",
		"messbericht":  "me/ss/messbericht",
		"Foo":          "3/f/foo",
	}
	for name, want := range cases {
		assert.Equal(t, want, ShardPath(name), name)
	}
}

func TestPartitionFeatures(t *testing.T) {
	features := map[string][]string{
		"f1": {"dep"},
		"f2": {"dep?/x"},
	}
	v1, v2 := PartitionFeatures(features)
	assert.Equal(t, map[string][]string{"f1": {"dep"}}, v1)
	assert.Equal(t, map[string][]string{"f2": {"dep?/x"}}, v2)
}

func TestVValueDefaultsToV1WhenAbsent(t *testing.T) {
	var r Record
	require.NoError(t, json.Unmarshal([]byte(`{"name":"foo","vers":"0.1.0","deps":[],"cksum":"x","features":{},"yanked":false}`), &r))
	assert.Equal(t, V1, r.V)
}

func TestVValueRoundtrip(t *testing.T) {
	data, err := json.Marshal(V2)
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))

	var v VValue
	require.NoError(t, json.Unmarshal([]byte("1"), &v))
	assert.Equal(t, V1, v)

	require.Error(t, json.Unmarshal([]byte("3"), &v))
}

func TestDependencyKindRejectsUnknown(t *testing.T) {
	var k DependencyKind
	require.NoError(t, json.Unmarshal([]byte(`"dev"`), &k))
	assert.Equal(t, KindDev, k)

	require.Error(t, json.Unmarshal([]byte(`"anything"`), &k))
}
