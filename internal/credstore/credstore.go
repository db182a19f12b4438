// Package credstore persists the CLI's OAuth credential pair in a
// bbolt database under the data directory, sealed with a key derived
// from a machine-local master secret so raw secrets never reach disk.
package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/gantryhq/gantry/oauth1"
)

const (
	// storeDirPerm is the permission mode for the data directory (~/.gantry/).
	storeDirPerm = fs.FileMode(0o700)

	// storeFilePerm is the permission mode for the credential database file.
	storeFilePerm = fs.FileMode(0o600)

	// storeOpenTimeout is the maximum time to wait for the bolt database lock.
	storeOpenTimeout = 5 * time.Second

	// storeFile and masterKeyFile live inside the data directory.
	storeFile     = "credentials.db"
	masterKeyFile = "master.key"
)

var (
	credentialsBucket = []byte("credentials")
	pairKey           = []byte("oauth_pair")
)

// Store wraps a bbolt database holding the sealed credential pair.
type Store struct {
	db     *bolt.DB
	sealer *sealer
}

// Open opens the credential store under dir, creating the directory,
// the database, and the master secret as needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating credential directory: %w", err)
	}

	secret, err := loadOrCreateMasterSecret(filepath.Join(dir, masterKeyFile))
	if err != nil {
		return nil, err
	}

	sl, err := newSealer(secret)
	ZeroKey(secret)
	if err != nil {
		return nil, err
	}

	db, err := bolt.Open(filepath.Join(dir, storeFile), storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening credential db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing credential db: %w", err)
	}

	return &Store{db: db, sealer: sl}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save seals and persists the credential pair, replacing any previous one.
func (s *Store) Save(ctx context.Context, pair oauth1.OAuthCredentials) error {
	plain, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	sealed, err := s.sealer.seal(plain)
	if err != nil {
		return fmt.Errorf("encrypting credentials: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Put(pairKey, sealed)
	})
	if err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}

	return nil
}

// Load returns the stored credential pair. An empty store yields the
// zero pair with no error; a record that cannot be unsealed is an error.
func (s *Store) Load(ctx context.Context) (oauth1.OAuthCredentials, error) {
	var sealed []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		// Bolt values are only valid inside the transaction.
		if v := tx.Bucket(credentialsBucket).Get(pairKey); v != nil {
			sealed = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil {
		return oauth1.OAuthCredentials{}, fmt.Errorf("reading credentials: %w", err)
	}

	if sealed == nil {
		return oauth1.OAuthCredentials{}, nil
	}

	plain, err := s.sealer.open(sealed)
	if err != nil {
		return oauth1.OAuthCredentials{}, fmt.Errorf("decrypting credentials: %w", err)
	}

	var pair oauth1.OAuthCredentials
	if err := json.Unmarshal(plain, &pair); err != nil {
		return oauth1.OAuthCredentials{}, fmt.Errorf("decoding credentials: %w", err)
	}

	return pair, nil
}

// Delete removes the stored pair. Deleting an empty store is a no-op.
func (s *Store) Delete(ctx context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Delete(pairKey)
	})
	if err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}

	return nil
}
