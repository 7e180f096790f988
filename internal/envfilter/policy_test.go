package envfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildFrom_InheritNoneStartsEmpty(t *testing.T) {
	vars := map[string]string{"PATH": "/bin", "HOME": "/home/u"}
	env := BuildFrom(vars, Policy{Inherit: InheritNone})
	assert.Empty(t, env)
}

func TestBuildFrom_InheritCoreKeepsOnlyCoreVars(t *testing.T) {
	vars := map[string]string{"PATH": "/bin", "MY_APP_TOKEN": "secret", "CUSTOM": "x"}
	env := BuildFrom(vars, Policy{Inherit: InheritCore, IgnoreDefaultExcludes: true})
	assert.Equal(t, "/bin", env["PATH"])
	_, hasCustom := env["CUSTOM"]
	assert.False(t, hasCustom)
}

func TestBuildFrom_DefaultExcludesFilterSecrets(t *testing.T) {
	vars := map[string]string{"API_KEY": "x", "SECRET_VALUE": "y", "MY_TOKEN": "z", "PATH": "/bin"}
	env := BuildFrom(vars, Policy{Inherit: InheritAll, IgnoreDefaultExcludes: false})
	assert.NotContains(t, env, "API_KEY")
	assert.NotContains(t, env, "SECRET_VALUE")
	assert.NotContains(t, env, "MY_TOKEN")
	assert.Contains(t, env, "PATH")
}

func TestBuildFrom_SetOverridesApplyAfterFiltering(t *testing.T) {
	vars := map[string]string{"PATH": "/bin"}
	env := BuildFrom(vars, Policy{Inherit: InheritAll, IgnoreDefaultExcludes: true, Set: map[string]string{"FOO": "bar"}})
	assert.Equal(t, "bar", env["FOO"])
}

func TestBuildFrom_IncludeOnlyAppliedLast(t *testing.T) {
	vars := map[string]string{"PATH": "/bin", "HOME": "/home/u", "FOO": "bar"}
	env := BuildFrom(vars, Policy{
		Inherit:               InheritAll,
		IgnoreDefaultExcludes: true,
		Set:                   map[string]string{"FOO": "bar"},
		IncludeOnly:           []string{"FOO"},
	})
	assert.Equal(t, map[string]string{"FOO": "bar"}, env)
}

func TestToSlice_RoundTrips(t *testing.T) {
	env := map[string]string{"A": "1"}
	slice := ToSlice(env)
	assert.Equal(t, []string{"A=1"}, slice)
}
