package bare_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinklegames/tinkle-proxy-service/service/bare"
)

func TestUnitTestNewStaticRegistryRejectsEmptyList(t *testing.T) {
	_, err := bare.NewStaticRegistry(nil)
	require.ErrorIs(t, err, bare.ErrEmptyRegistry)
}

func TestUnitTestStaticRegistrySelectsConfiguredServers(t *testing.T) {
	servers := []string{"https://bare.one/", "https://bare.two/", "https://bare.three/"}

	registry, err := bare.NewStaticRegistry(servers)
	require.NoError(t, err)
	require.Equal(t, servers, registry.Servers())

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		server := registry.Select()
		require.Contains(t, servers, server)
		seen[server] = true
	}
	// 1000 uniform draws over three servers hit every one of them
	require.Len(t, seen, len(servers))
}

func TestUnitTestStaticRegistryIsImmutable(t *testing.T) {
	servers := []string{"https://bare.one/"}

	registry, err := bare.NewStaticRegistry(servers)
	require.NoError(t, err)

	servers[0] = "https://changed/"
	returned := registry.Servers()
	returned[0] = "https://changed-too/"

	require.Equal(t, []string{"https://bare.one/"}, registry.Servers())
	require.Equal(t, "https://bare.one/", registry.Select())
}
