// Package config holds object storage connection settings.
package config

// StorageConfig holds the settings of one named storage connection.
type StorageConfig struct {
	Type            string `yaml:"type"`             // local or gcs
	BucketName      string `yaml:"bucket_name"`      // default bucket when a call passes none
	CredentialsFile string `yaml:"credentials_file"` // service account key for gcs
	BaseDir         string `yaml:"base_dir"`         // root directory for local
	// Endpoint overrides the gcs endpoint, e.g. a fake-gcs-server. It disables authentication.
	Endpoint string `yaml:"endpoint"`
}
