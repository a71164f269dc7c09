package metadata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gowthamrao/py-load-unitprot/internal/dbadapter/sqlite"
	"github.com/gowthamrao/py-load-unitprot/internal/schema"
)

func TestCurrentReleaseAndRunLifecycle(t *testing.T) {
	ctx := context.Background()
	adapter, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer adapter.Close()
	require.NoError(t, adapter.ApplyTableDefinitions(ctx, "prod", schema.Default()))

	reg := New(adapter)

	status, err := reg.CurrentRelease(ctx, "prod")
	require.NoError(t, err)
	require.False(t, status.Loaded)

	require.NoError(t, reg.StartRun(ctx, "prod", "run-1", "full", "Swiss-Prot"))
	require.NoError(t, reg.RecordRelease(ctx, "prod", "2024_03", map[string]int64{"swissprot": 100}))
	require.NoError(t, reg.FinishRun(ctx, "prod", "run-1", "full", "Swiss-Prot", "succeeded", ""))

	status, err = reg.CurrentRelease(ctx, "prod")
	require.NoError(t, err)
	require.True(t, status.Loaded)
	require.Equal(t, "2024_03", status.ReleaseTag)
}
