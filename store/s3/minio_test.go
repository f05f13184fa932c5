package s3

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meigma/patchcdn/store"
	"github.com/meigma/patchcdn/store/storetest"
)

const (
	minioUser     = "patchcdn"
	minioPassword = "patchcdn-secret"
)

// startMinio starts a MinIO container and returns its endpoint URL.
func startMinio(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping MinIO container test in short mode")
	}
	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		t.Skip("SKIP_DOCKER_TESTS is set")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			Cmd:          []string{"server", "/data"},
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "start minio container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

// newMinioStore opens a store through NewFromConfig against a fresh bucket.
func newMinioStore(t *testing.T, endpoint, bucket string) *Store {
	t.Helper()

	t.Setenv("AWS_ACCESS_KEY_ID", minioUser)
	t.Setenv("AWS_SECRET_ACCESS_KEY", minioPassword)

	s, err := NewFromConfig(Config{
		Bucket:    bucket,
		Prefix:    "cdn/",
		Endpoint:  endpoint,
		PathStyle: true,
	})
	require.NoError(t, err)

	_, err = s.svc.CreateBucketWithContext(context.Background(), &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	require.NoError(t, err, "create bucket")
	return s
}

func TestMinioStore(t *testing.T) {
	endpoint := startMinio(t)

	t.Run("Contract", func(t *testing.T) {
		storetest.Run(t, newMinioStore(t, endpoint, "contract"))
	})

	t.Run("DeleteNamespace", func(t *testing.T) {
		ctx := context.Background()
		s := newMinioStore(t, endpoint, "namespaces")

		// More objects than one DeleteObjects batch.
		const n = maxDeleteBatch + 5
		for i := range n {
			require.NoError(t, s.Put(ctx, store.BundleKey("1.0", fmt.Sprintf("%d.bundle.bin", i)), []byte("x")))
		}
		kept := store.BundleKey("1.0.1", "a.bundle.bin")
		require.NoError(t, s.Put(ctx, kept, []byte("y")))

		require.NoError(t, s.DeleteNamespace(ctx, "1.0"))

		for _, i := range []int{0, n - 1} {
			_, err := s.Get(ctx, store.BundleKey("1.0", fmt.Sprintf("%d.bundle.bin", i)))
			require.ErrorIs(t, err, store.ErrNotExist)
		}
		got, err := s.Get(ctx, kept)
		require.NoError(t, err)
		assert.Equal(t, []byte("y"), got)
	})
}
