package kms

import (
	"context"
	"encoding/base64"
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"github.com/turtacn/qrgate/internal/config"
	"github.com/turtacn/qrgate/pkg/logger"
)

// masterKeyField is the KV v2 field holding the base64 master key.
const masterKeyField = "master_key"

// NewVaultClient creates and configures a new Vault client.
func NewVaultClient(cfg *config.VaultConfig) (*vault.Client, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	return client, nil
}

// LoadMasterKey resolves the master sealing key. With Vault enabled the key is
// read from KV v2 at cfg.MountPath/cfg.SecretPath; otherwise cfg.MasterKey is used.
func LoadMasterKey(ctx context.Context, cfg *config.VaultConfig, client *vault.Client, log logger.Logger) ([]byte, error) {
	if !cfg.Enabled {
		log.Warn(ctx, "Vault disabled, using master key from configuration")
		return decodeMasterKey(cfg.MasterKey)
	}

	secret, err := client.KVv2(cfg.MountPath).Get(ctx, cfg.SecretPath)
	if err != nil {
		return nil, fmt.Errorf("read master key from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("master key not found at %s/%s", cfg.MountPath, cfg.SecretPath)
	}
	raw, ok := secret.Data[masterKeyField].(string)
	if !ok {
		return nil, fmt.Errorf("vault secret %s/%s has no %q field", cfg.MountPath, cfg.SecretPath, masterKeyField)
	}

	key, err := decodeMasterKey(raw)
	if err != nil {
		return nil, err
	}
	version := 0
	if secret.VersionMetadata != nil {
		version = secret.VersionMetadata.Version
	}
	log.Info(ctx, "Master key loaded from vault",
		logger.String("mount", cfg.MountPath),
		logger.String("path", cfg.SecretPath),
		logger.Int("secret_version", version),
	)
	return key, nil
}

// NewSealerFromConfig loads the master key and builds the sealer.
func NewSealerFromConfig(ctx context.Context, cfg *config.VaultConfig, log logger.Logger) (*AESGCMSealer, error) {
	var client *vault.Client
	if cfg.Enabled {
		c, err := NewVaultClient(cfg)
		if err != nil {
			return nil, err
		}
		client = c
	}
	key, err := LoadMasterKey(ctx, cfg, client, log.WithComponent("kms"))
	if err != nil {
		return nil, err
	}
	return NewAESGCMSealer(key)
}

func decodeMasterKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != MasterKeySize {
		return nil, fmt.Errorf("master key must decode to %d bytes, got %d", MasterKeySize, len(key))
	}
	return key, nil
}
