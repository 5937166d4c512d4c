package graph

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

func chain(edges ...[2]string) *Graph {
	g := New()
	for _, e := range edges {
		g.AddEdge(models.DependencyEdge{From: e[0], To: e[1], Relation: "feeds"})
	}
	return g
}

func TestImpactPathFollowsDownstreamInBFSOrder(t *testing.T) {
	g := chain([2]string{"x", "y"}, [2]string{"y", "z"})
	assert.Equal(t, []string{"x", "y", "z"}, g.ImpactPath("x"))
	assert.Equal(t, []string{"y", "z"}, g.ImpactPath("y"))
}

func TestImpactPathTerminatesOnCycle(t *testing.T) {
	g := chain([2]string{"x", "y"}, [2]string{"y", "x"})
	assert.Equal(t, []string{"x", "y"}, g.ImpactPath("x"))
}

func TestImpactPathVisitsDiamondOnce(t *testing.T) {
	g := chain(
		[2]string{"vault", "eso"},
		[2]string{"vault", "auth"},
		[2]string{"eso", "db"},
		[2]string{"auth", "db"},
		[2]string{"db", "gateway"},
	)
	assert.Equal(t, []string{"vault", "eso", "auth", "db", "gateway"}, g.ImpactPath("vault"))
}

func TestImpactPathUnknownRoot(t *testing.T) {
	assert.Equal(t, []string{"ghost"}, New().ImpactPath("ghost"))
}

func TestUpstreamDownstreamUnknownIsEmpty(t *testing.T) {
	g := New()
	assert.NotNil(t, g.Upstream("nope"))
	assert.Empty(t, g.Upstream("nope"))
	assert.Empty(t, g.Downstream("nope"))
}

func TestDependencyChainWalksUpstream(t *testing.T) {
	g := chain([2]string{"vault", "eso"}, [2]string{"eso", "auth"}, [2]string{"auth", "gateway"})

	assert.Equal(t, []string{"gateway", "auth", "eso", "vault"}, g.DependencyChain("gateway", "vault"))
	// downstream direction is not followed
	assert.Empty(t, g.DependencyChain("vault", "gateway"))
	assert.Equal(t, []string{"eso"}, g.DependencyChain("eso", "eso"))
	assert.Empty(t, g.DependencyChain("gateway", "unknown"))
}

func TestDependencyChainPicksShortestPath(t *testing.T) {
	g := chain(
		[2]string{"a", "b"},
		[2]string{"b", "c"},
		[2]string{"c", "d"},
		[2]string{"a", "d"},
	)
	assert.Equal(t, []string{"d", "a"}, g.DependencyChain("d", "a"))
}

func TestMutationIsIdempotent(t *testing.T) {
	g := New()
	require.True(t, g.AddNode(models.ServiceNode{ID: "vault", Name: "Vault", Type: "secrets", Tier: "core"}))
	require.False(t, g.AddNode(models.ServiceNode{ID: "vault", Name: "Other"}))

	require.True(t, g.AddEdge(models.DependencyEdge{From: "vault", To: "eso", Relation: "secrets"}))
	require.False(t, g.AddEdge(models.DependencyEdge{From: "vault", To: "eso", Relation: "secrets"}))

	nodes, edges := g.Size()
	assert.Equal(t, 2, nodes)
	assert.Equal(t, 1, edges)
	assert.Equal(t, []string{"eso"}, g.Downstream("vault"))

	node, ok := g.Node("vault")
	require.True(t, ok)
	assert.Equal(t, "Vault", node.Name)

	lazy, ok := g.Node("eso")
	require.True(t, ok)
	assert.Equal(t, "eso", lazy.Name)
}

func TestConcurrentMutationAndReads(t *testing.T) {
	g := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			g.AddEdge(models.DependencyEdge{From: "a", To: "b"})
			g.AddEdge(models.DependencyEdge{From: "b", To: "c"})
		}()
		go func() {
			defer wg.Done()
			_ = g.ImpactPath("a")
			_ = g.Snapshot()
		}()
	}
	wg.Wait()

	_, edges := g.Size()
	assert.Equal(t, 2, edges)
	assert.Equal(t, []string{"a", "b", "c"}, g.ImpactPath("a"))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`services:
  - {id: vault, name: HashiCorp Vault, type: secrets, tier: core}
  - {id: eso, name: External Secrets, type: operator, tier: platform}
dependencies:
  - {from: vault, to: eso, relation: provides_secrets}
  - {from: eso, to: database, relation: rotates_credentials}
`), 0o644))

	g, err := LoadFile(path)
	require.NoError(t, err)

	snap := g.Snapshot()
	require.Len(t, snap.Services, 3)
	assert.Equal(t, "HashiCorp Vault", snap.Services[0].Name)
	assert.Equal(t, "database", snap.Services[2].ID)
	assert.Equal(t, []string{"vault", "eso", "database"}, g.ImpactPath("vault"))

	missing, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	n, _ := missing.Size()
	assert.Zero(t, n)
}

func TestParseAcceptsJSON(t *testing.T) {
	g, err := Parse([]byte(`{"services":[{"id":"a","name":"A","type":"svc","tier":"edge"}],"dependencies":[{"from":"a","to":"b","relation":"calls"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, g.Upstream("b"))

	_, err = Parse([]byte(`services: [{name: nameless}]`))
	assert.Error(t, err)
}

func TestServiceContext(t *testing.T) {
	g := chain([2]string{"vault", "eso"}, [2]string{"eso", "auth"})
	ctx := g.ServiceContext([]string{"eso", "unknown"})
	assert.Contains(t, ctx, "eso (eso): depends on [vault], depended on by [auth]")
	assert.NotContains(t, ctx, "unknown")
}

func TestOriginCandidates(t *testing.T) {
	g := chain([2]string{"vault", "eso"}, [2]string{"eso", "auth"}, [2]string{"auth", "gateway"})

	assert.Equal(t, []string{"vault"}, g.OriginCandidates([]string{"gateway", "auth", "vault", "eso"}))
	assert.Equal(t, []string{"auth", "other"}, g.OriginCandidates([]string{"auth", "gateway", "other"}))
	assert.Nil(t, g.OriginCandidates(nil))

	cyclic := chain([2]string{"a", "b"}, [2]string{"b", "a"})
	assert.Equal(t, []string{"a"}, cyclic.OriginCandidates([]string{"a", "b"}))
}
