package encryption

import (
	"fmt"

	"mmdump/internal/config"
)

// NewEncryptorFromConfig creates an Encryptor based on the config type.
func NewEncryptorFromConfig(cfg config.Encryption) (Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
