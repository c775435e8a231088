// Package model holds configuration and document shapes shared across
// the fieldcrypt service binaries.
package model

// Cfg is the root configuration object, populated from a YAML file
// whose path is given by the VC_CONFIG_YAML environment variable.
type Cfg struct {
	Common    Common    `yaml:"common" validate:"required"`
	Datastore Datastore `yaml:"datastore" validate:"required"`
}

// Common holds configuration shared by every binary in the service.
type Common struct {
	Production bool    `yaml:"production"`
	Log        Log     `yaml:"log"`
	Tracing    Tracing `yaml:"tracing" validate:"omitempty"`
}

// Log holds the logger configuration.
type Log struct {
	Level      string `yaml:"level"`
	FolderPath string `yaml:"folder_path"`
}

// Tracing holds the otel exporter configuration.
type Tracing struct {
	Addr    string `yaml:"addr"`
	Timeout int    `yaml:"timeout" default:"5"`
}

// Mongo holds the document store connection configuration.
type Mongo struct {
	URI      string `yaml:"uri" validate:"required"`
	Database string `yaml:"database" default:"fieldcrypt"`
}

// Datastore holds the configuration for the document store that the
// field-encryption codec sits in front of.
type Datastore struct {
	Mongo          Mongo          `yaml:"mongo" validate:"required"`
	DataEncryption DataEncryption `yaml:"data_encryption" validate:"required"`
}

// DataEncryption configures the default encryption policy applied to
// documents written through the datastore package.
type DataEncryption struct {
	// DataEncryptionKeyID names the key the key provider should
	// resolve for newly written documents.
	DataEncryptionKeyID string `yaml:"data_encryption_key_id" validate:"required"`

	// Algorithm is one of legacy_aead_cbc_hmac or
	// randomized_aead_cbc_hmac.
	Algorithm string `yaml:"algorithm" default:"randomized_aead_cbc_hmac"`

	// PathsToEncrypt lists the top-level JSON properties to protect,
	// e.g. ["/attributes", "/identity"].
	PathsToEncrypt []string `yaml:"paths_to_encrypt" validate:"required"`

	Compression CompressionCfg `yaml:"compression" validate:"omitempty"`
}

// CompressionCfg mirrors fieldcrypt.CompressionOptions for YAML
// configuration.
type CompressionCfg struct {
	Algorithm   string `yaml:"algorithm" default:"none"`
	Level       int    `yaml:"level" default:"0"`
	MinimumSize int    `yaml:"minimum_size" default:"0"`
}
