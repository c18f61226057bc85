package policy_test

import (
	"testing"

	"github.com/poppopjmp/spiderfoot-sub002/internal/policy"
	"github.com/poppopjmp/spiderfoot-sub002/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDictFromDictRoundTrip(t *testing.T) {
	p := policy.Policy{
		AllowedModules:    []string{"dns", "geo"},
		AllowedEventTypes: []string{"IP_ADDRESS"},
		MaxDepth:          3,
		MaxEvents:         1000,
	}

	doc := p.ToDict()
	roundTripped := policy.FromDict(doc)

	assert.Equal(t, p, roundTripped)
}

func TestAdmitModuleAllowedSet(t *testing.T) {
	p := policy.Policy{AllowedModules: []string{"dns"}}

	assert.True(t, p.AdmitModule("dns").Allowed)
	assert.False(t, p.AdmitModule("geo").Allowed)
}

func TestAdmitModuleDeniedTakesPrecedence(t *testing.T) {
	p := policy.Policy{AllowedModules: []string{"dns"}, DeniedModules: []string{"dns"}}

	assert.False(t, p.AdmitModule("dns").Allowed)
}

func TestAdmitTargetDepthAndScope(t *testing.T) {
	tg := target.New("example.com", target.TypeInternetName)
	p := policy.Policy{MaxDepth: 2}

	assert.True(t, p.AdmitTarget(tg, "example.com", target.TypeInternetName, 1).Allowed)
	assert.False(t, p.AdmitTarget(tg, "example.com", target.TypeInternetName, 3).Allowed)
	assert.False(t, p.AdmitTarget(tg, "other.com", target.TypeInternetName, 1).Allowed)
}

func TestAdmitBudget(t *testing.T) {
	p := policy.Policy{MaxEvents: 2}

	assert.True(t, p.AdmitBudget(0).Allowed)
	assert.True(t, p.AdmitBudget(1).Allowed)
	assert.False(t, p.AdmitBudget(2).Allowed)
}

func TestValidateRejectsNegativeDepth(t *testing.T) {
	p := policy.Policy{MaxDepth: -1}
	require.ErrorIs(t, p.Validate(), policy.ErrInvalidMaxDepth)
}

func TestModuleCredentialHashRoundTrip(t *testing.T) {
	hash, err := policy.HashModuleCredential("super-secret-api-key")
	require.NoError(t, err)

	assert.True(t, policy.VerifyModuleCredential(hash, "super-secret-api-key"))
	assert.False(t, policy.VerifyModuleCredential(hash, "wrong-key"))
}

func TestModuleCredentialHashRejectsEmpty(t *testing.T) {
	_, err := policy.HashModuleCredential("")
	require.ErrorIs(t, err, policy.ErrKeyEmpty)
}
