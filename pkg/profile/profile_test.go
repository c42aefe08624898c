package profile_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netwatch/tls-certificate-exporter/pkg/apperror"
	"github.com/netwatch/tls-certificate-exporter/pkg/profile"
)

func durPtr(d time.Duration) *time.Duration { return &d }
func strPtr(s string) *string               { return &s }
func boolPtr(b bool) *bool                  { return &b }

func TestResolveModules_InheritsFromDefaultWhenExtendsEmpty(t *testing.T) {
	modules := map[string]profile.ModuleProfile{
		"plain": {},
	}

	resolved, err := profile.ResolveModules(modules)
	require.NoError(t, err)

	require.Equal(t, profile.DefaultTimeout, resolved["plain"].Timeout)
	require.False(t, resolved["plain"].InsecureSkipVerify)
}

func TestResolveModules_ChildInheritsAndOverrides(t *testing.T) {
	modules := map[string]profile.ModuleProfile{
		"base": {
			Timeout:        durPtr(5 * time.Second),
			TrustedAnchors: &profile.FileSource{Path: "/a"},
		},
		"child": {
			Extends:    []string{"base"},
			ServerName: strPtr("x"),
		},
	}

	resolved, err := profile.ResolveModules(modules)
	require.NoError(t, err)

	child := resolved["child"]
	require.Equal(t, 5*time.Second, child.Timeout)
	require.Equal(t, "/a", child.TrustedAnchors.Path)
	require.NotNil(t, child.ServerName)
	require.Equal(t, "x", *child.ServerName)
}

func TestResolveModules_OwnFieldWinsOverParent(t *testing.T) {
	modules := map[string]profile.ModuleProfile{
		"base": {
			Timeout: durPtr(5 * time.Second),
		},
		"child": {
			Extends: []string{"base"},
			Timeout: durPtr(9 * time.Second),
		},
	}

	resolved, err := profile.ResolveModules(modules)
	require.NoError(t, err)
	require.Equal(t, 9*time.Second, resolved["child"].Timeout)
}

func TestResolveModules_DirectCycleFails(t *testing.T) {
	modules := map[string]profile.ModuleProfile{
		"a": {Extends: []string{"b"}},
		"b": {Extends: []string{"a"}},
	}

	_, err := profile.ResolveModules(modules)
	require.True(t, apperror.Is(err, apperror.CyclicExtends))
}

func TestResolveModules_UnknownParentFails(t *testing.T) {
	modules := map[string]profile.ModuleProfile{
		"a": {Extends: []string{"nonexistent"}},
	}

	_, err := profile.ResolveModules(modules)
	require.True(t, apperror.Is(err, apperror.UnknownModule))
}

func TestResolveModules_DiamondInheritanceLaterParentWins(t *testing.T) {
	modules := map[string]profile.ModuleProfile{
		"left":   {ServerName: strPtr("left-name")},
		"right":  {ServerName: strPtr("right-name")},
		"bottom": {Extends: []string{"left", "right"}},
	}

	resolved, err := profile.ResolveModules(modules)
	require.NoError(t, err)
	require.Equal(t, "right-name", *resolved["bottom"].ServerName)
}

func TestResolveModules_InsecureSkipVerifyOverride(t *testing.T) {
	modules := map[string]profile.ModuleProfile{
		"base":  {InsecureSkipVerify: boolPtr(true)},
		"child": {Extends: []string{"base"}},
	}

	resolved, err := profile.ResolveModules(modules)
	require.NoError(t, err)
	require.True(t, resolved["child"].InsecureSkipVerify)
}
