package signer

import (
	"errors"
	"fmt"

	"github.com/quantex/arbiter/pkg/config"
	"github.com/quantex/arbiter/pkg/secretstore"
)

// secretStoreKeyName is where the hex private key lives inside the store.
const secretStoreKeyName = "signer.private_key"

// Load resolves the configured signer source. Sources are tried in order:
// raw private key, keystore file, mnemonic, secret store. Returns an error
// when nothing is configured.
func Load(cfg config.SignerConfig) (Signer, error) {
	switch {
	case cfg.PrivateKey != "":
		return FromHex(cfg.PrivateKey)
	case cfg.KeystoreFile != "":
		return FromKeystore(cfg.KeystoreFile, cfg.KeystorePassphrase)
	case cfg.Mnemonic != "":
		return FromMnemonic(cfg.Mnemonic)
	case cfg.SecretStorePath != "":
		return fromSecretStore(cfg)
	default:
		return nil, errors.New("signer: no signing source configured")
	}
}

func fromSecretStore(cfg config.SignerConfig) (Signer, error) {
	encKey, err := secretstore.ParseKey(cfg.SecretStoreKey)
	if err != nil {
		return nil, err
	}
	store, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.SecretStorePath,
		EncryptionKey: encKey,
		ReadOnly:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("signer: open secret store: %w", err)
	}
	defer store.Close()

	hexKey, found, err := store.Get(secretStoreKeyName)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("signer: %s not present in secret store", secretStoreKeyName)
	}
	return FromHex(hexKey)
}
