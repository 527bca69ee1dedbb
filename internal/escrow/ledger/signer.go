package ledger

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nemanja-m/escrowd/internal/shared/config"
)

// LoadSigningKey returns the custodial signing key. A raw hex key wins over
// a keystore directory.
func LoadSigningKey(cfg config.SignerConfig) (*ecdsa.PrivateKey, error) {
	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("signer: invalid private key: %w", err)
		}
		return key, nil
	}
	if cfg.KeystoreDir == "" {
		return nil, errors.New("signer: neither private_key nor keystore_dir is set")
	}

	path, err := FindKeystoreFile(cfg.KeystoreDir, cfg.Address)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: read keystore: %w", err)
	}
	key, err := keystore.DecryptKey(data, cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("signer: decrypt %s: %w", filepath.Base(path), err)
	}
	if cfg.Address != "" && key.Address != common.HexToAddress(cfg.Address) {
		return nil, fmt.Errorf("signer: keystore holds %s, expected %s", key.Address.Hex(), cfg.Address)
	}
	return key.PrivateKey, nil
}

// FindKeystoreFile locates a geth-style keystore file (UTC--<time>--<addr>)
// anywhere under dir. Without an address the directory must hold exactly
// one key.
func FindKeystoreFile(dir, address string) (string, error) {
	pattern := "**/UTC--*"
	if address != "" {
		if !common.IsHexAddress(address) {
			return "", fmt.Errorf("signer: invalid address %q", address)
		}
		pattern += "--" + strings.ToLower(strings.TrimPrefix(common.HexToAddress(address).Hex(), "0x"))
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(filepath.Clean(dir), pattern))
	if err != nil {
		return "", fmt.Errorf("signer: search keystore: %w", err)
	}
	var files []string
	for _, name := range matches {
		info, err := os.Lstat(name)
		if err != nil {
			continue
		}
		if info.Mode().IsRegular() {
			files = append(files, name)
		}
	}

	switch len(files) {
	case 0:
		return "", fmt.Errorf("signer: no keystore file found in %s", dir)
	case 1:
		return files[0], nil
	default:
		return "", fmt.Errorf("signer: %d keystore files found in %s, set signer.address", len(files), dir)
	}
}
