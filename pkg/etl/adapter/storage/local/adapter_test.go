package local_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageAdapter "github.com/tigerroll/citybike/pkg/etl/adapter/storage"
	storageConfig "github.com/tigerroll/citybike/pkg/etl/adapter/storage/config"
	"github.com/tigerroll/citybike/pkg/etl/adapter/storage/local"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
)

func newConn(t *testing.T) storageAdapter.StorageConnection {
	t.Helper()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: local.ProviderType, BaseDir: t.TempDir(), BucketName: "bikes"}, "test")
	require.NoError(t, err)
	return conn
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	conn := newConn(t)
	ctx := context.Background()

	require.NoError(t, conn.Upload(ctx, "", "data_by_month/2021-06.csv", strings.NewReader("a,b\n1,2\n"), "text/csv"))

	rc, err := conn.Download(ctx, "bikes", "data_by_month/2021-06.csv")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(body))
}

func TestDownloadMissingObject(t *testing.T) {
	_, err := newConn(t).Download(context.Background(), "", "nope.csv")
	require.Error(t, err)
	assert.True(t, exception.IsObjectNotFound(err))
}

func TestListObjectsFiltersByPrefix(t *testing.T) {
	conn := newConn(t)
	ctx := context.Background()
	for _, key := range []string{"data_by_month/2021-07.csv", "data_by_month/2021-06.csv", "metrics_by_month/2021-06-get_bike_count.csv"} {
		require.NoError(t, conn.Upload(ctx, "", key, strings.NewReader("x"), "text/csv"))
	}

	var names []string
	require.NoError(t, conn.ListObjects(ctx, "", "data_by_month/", func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"data_by_month/2021-06.csv", "data_by_month/2021-07.csv"}, names)
}

func TestListObjectsMissingBucket(t *testing.T) {
	called := false
	err := newConn(t).ListObjects(context.Background(), "other", "", func(string) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestRejectsEscapingPaths(t *testing.T) {
	err := newConn(t).Upload(context.Background(), "", "../../etc/passwd", strings.NewReader("x"), "")
	assert.ErrorContains(t, err, "outside of BaseDir")
}

func TestDeleteObjectIsIdempotent(t *testing.T) {
	conn := newConn(t)
	ctx := context.Background()
	require.NoError(t, conn.Upload(ctx, "", "k.csv", strings.NewReader("x"), ""))
	require.NoError(t, conn.DeleteObject(ctx, "", "k.csv"))
	require.NoError(t, conn.DeleteObject(ctx, "", "k.csv"))
}

func TestProviderResolvesConfiguredConnection(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Etl.AdapterConfigs = map[string]interface{}{
		"storage": map[string]interface{}{
			"staging": map[string]interface{}{"type": "local", "base_dir": t.TempDir()},
			"bikes":   map[string]interface{}{"type": "s3"},
		},
	}
	resolver := storageAdapter.NewConnectionResolverFrom(cfg, local.NewLocalProvider(cfg))

	conn, err := resolver.ResolveStorageConnection(context.Background(), "staging")
	require.NoError(t, err)
	assert.Equal(t, "staging", conn.Name())
	assert.Equal(t, local.ProviderType, conn.Type())

	again, err := resolver.ResolveStorageConnection(context.Background(), "staging")
	require.NoError(t, err)
	assert.Same(t, conn, again)

	_, err = resolver.ResolveStorageConnection(context.Background(), "bikes")
	assert.ErrorContains(t, err, "no storage provider found for type 's3'")
	assert.NoError(t, resolver.CloseAll())
}
