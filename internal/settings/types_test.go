package settings

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_JSON(t *testing.T) {
	d := Duration(90 * time.Second)
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	var parsed Duration
	require.NoError(t, json.Unmarshal([]byte(`"45s"`), &parsed))
	assert.Equal(t, 45*time.Second, parsed.Duration())

	// Raw nanosecond numbers are accepted too.
	require.NoError(t, json.Unmarshal([]byte(`60000000000`), &parsed))
	assert.Equal(t, time.Minute, parsed.Duration())

	assert.Error(t, json.Unmarshal([]byte(`"not-a-duration"`), &parsed))
	assert.Error(t, json.Unmarshal([]byte(`true`), &parsed))
}

func TestApplyDefaults(t *testing.T) {
	s := &Settings{}
	s.ApplyDefaults()

	assert.Equal(t, "127.0.0.1:8080", s.Listen)
	assert.Equal(t, DefaultKeepAliveInterval, s.KeepAliveInterval.Duration())
	assert.Equal(t, DefaultIdleSessionTimeout, s.IdleSessionTimeout.Duration())
	require.NotNil(t, s.CallTimeout)
	assert.Equal(t, DefaultCallTimeout, s.EffectiveCallTimeout())
}

func TestApplyDefaults_ExplicitZeroCallTimeoutKept(t *testing.T) {
	zero := Duration(0)
	s := &Settings{CallTimeout: &zero}
	s.ApplyDefaults()

	assert.Equal(t, time.Duration(0), s.EffectiveCallTimeout(),
		"explicit zero disables the per-call deadline")
}

func TestApplyDefaults_SmartRouting(t *testing.T) {
	s := &Settings{SmartRouting: &SmartRoutingConfig{Enabled: true}}
	s.ApplyDefaults()

	assert.Equal(t, EmbedProviderLocal, s.SmartRouting.Provider)
	assert.Equal(t, LocalEmbedModel, s.SmartRouting.EmbedModel)
	assert.Equal(t, LocalEmbedDimensions, s.SmartRouting.Dimensions)

	s = &Settings{SmartRouting: &SmartRoutingConfig{Enabled: true, Provider: EmbedProviderOpenAI}}
	s.ApplyDefaults()
	assert.Equal(t, "text-embedding-3-small", s.SmartRouting.EmbedModel)
	assert.Equal(t, "OPENAI_API_KEY", s.SmartRouting.APIKeyEnv)
}

func TestUpstreamSpec_IsEnabled(t *testing.T) {
	spec := &UpstreamSpec{Name: "a"}
	assert.True(t, spec.IsEnabled(), "absent enabled flag counts as enabled")

	spec.Enabled = boolPtr(false)
	assert.False(t, spec.IsEnabled())

	spec.Enabled = boolPtr(true)
	assert.True(t, spec.IsEnabled())
}

func TestToolOverride_IsEnabled(t *testing.T) {
	var o *ToolOverride
	assert.True(t, o.IsEnabled())
	assert.True(t, (&ToolOverride{}).IsEnabled())
	assert.False(t, (&ToolOverride{Enabled: boolPtr(false)}).IsEnabled())
}

func TestSettings_Clone_Independence(t *testing.T) {
	original := testSettings()
	original.Upstreams[0].Env = map[string]string{"API_KEY": "secret"}
	original.Upstreams[0].Tools = map[string]*ToolOverride{
		"get_weather": {Enabled: boolPtr(true), Description: "overridden"},
	}
	original.Groups = []*Group{{
		ID: "g-1", Name: "research",
		Servers: []*GroupServer{{UpstreamName: "alpha", SelectedTools: []string{"get_weather"}}},
	}}

	cloned := original.Clone()
	require.NotSame(t, original, cloned)

	original.Upstreams[0].Env["API_KEY"] = "changed"
	original.Upstreams[0].Tools["get_weather"].Description = "changed"
	*original.Upstreams[0].Tools["get_weather"].Enabled = false
	original.Groups[0].Servers[0].SelectedTools[0] = "changed"

	assert.Equal(t, "secret", cloned.Upstreams[0].Env["API_KEY"])
	assert.Equal(t, "overridden", cloned.Upstreams[0].Tools["get_weather"].Description)
	assert.True(t, *cloned.Upstreams[0].Tools["get_weather"].Enabled)
	assert.Equal(t, "get_weather", cloned.Groups[0].Servers[0].SelectedTools[0])
}

func TestSettings_Clone_PreservesNilSelectedTools(t *testing.T) {
	s := testSettings()
	s.Groups = []*Group{{
		ID: "g-1", Name: "research",
		Servers: []*GroupServer{
			{UpstreamName: "alpha", SelectedTools: nil},
			{UpstreamName: "beta", SelectedTools: []string{}},
		},
	}}

	cloned := s.Clone()
	assert.Nil(t, cloned.Groups[0].Servers[0].SelectedTools)
	require.NotNil(t, cloned.Groups[0].Servers[1].SelectedTools)
	assert.Empty(t, cloned.Groups[0].Servers[1].SelectedTools)
}

func TestSettings_FindGroup_IDBeforeName(t *testing.T) {
	s := DefaultSettings()
	s.Groups = []*Group{
		{ID: "research", Name: "alpha-team"},
		{ID: "g-2", Name: "research"},
	}

	// "research" matches the first group's ID before the second's name.
	g := s.FindGroup("research")
	require.NotNil(t, g)
	assert.Equal(t, "alpha-team", g.Name)

	g = s.FindGroup("g-2")
	require.NotNil(t, g)
	assert.Equal(t, "research", g.Name)

	assert.Nil(t, s.FindGroup("missing"))
}

func TestGroup_FindServer(t *testing.T) {
	g := &Group{Servers: []*GroupServer{
		{UpstreamName: "alpha"},
		{UpstreamName: "beta", SelectedTools: []string{"t1"}},
	}}

	require.NotNil(t, g.FindServer("beta"))
	assert.Nil(t, g.FindServer("gamma"))
}
