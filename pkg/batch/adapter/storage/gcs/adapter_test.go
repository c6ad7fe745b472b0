package gcs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	storageConfig "github.com/tigerroll/caseflow/pkg/batch/adapter/storage/config"
)

func TestClientOptions(t *testing.T) {
	assert.Len(t, ClientOptions(storageConfig.StorageConfig{Endpoint: "http://localhost:4443/storage/v1/"}), 2)
	assert.Len(t, ClientOptions(storageConfig.StorageConfig{CredentialsFile: "/secrets/sa.json"}), 2)
	assert.Len(t, ClientOptions(storageConfig.StorageConfig{}), 1)
}

func TestBucketRequiresName(t *testing.T) {
	a := &gcsAdapter{name: "archive"}
	_, err := a.bucket("")
	assert.ErrorContains(t, err, "bucket_name is not configured")
}
