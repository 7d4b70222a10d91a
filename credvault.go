//go:generate mockgen -destination=mock/store.mock.go -package=mock github.com/libopenstorage/credvault Store

package credvault

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/libopenstorage/credvault/pkg/codec"
)

var (
	// ErrNotSupported returned when implementation of specific function is not supported
	ErrNotSupported = errors.New("implementation not supported")
	// ErrNotAuthenticated returned when there is no authenticated owner for the call
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrValidation returned when a credential or service name has the wrong format
	ErrValidation = errors.New("credential has an invalid format")
	// ErrRateLimited returned when an owner has made too many attempts recently
	ErrRateLimited = errors.New("too many attempts, try again later")
	// ErrEncryption returned when a credential could not be encrypted
	ErrEncryption = codec.ErrEncryption
	// ErrDecryption returned when a stored credential could not be decrypted or
	// failed its integrity check
	ErrDecryption = codec.ErrDecryption
	// ErrPersistence returned when the credential backend could not be reached
	ErrPersistence = errors.New("credential storage is unavailable")
	// ErrNotFound returned when no credential exists for the owner and service
	ErrNotFound = errors.New("credential not found")
	// ErrInvalidIdentifier returned by backends for owner or service values that
	// cannot be used as key segments
	ErrInvalidIdentifier = errors.New("invalid owner or service identifier")
)

// Names of the persistence backends shipped with this module.
const (
	TypeKvdb                 = "kvdb"
	TypeSqlite               = "sqlite"
	TypePostgres             = "postgres"
	TypeVault                = "vault"
	TypeAWSSecretsManager    = "aws_secrets_manager"
	identifierForbiddenChars = "/\\\x00"
)

// Record is one owner's encrypted credential for one service.
type Record struct {
	OwnerID          string    `json:"owner_id"`
	ServiceName      string    `json:"service_name"`
	EncryptedPayload string    `json:"encrypted_payload"`
	IntegrityHash    string    `json:"integrity_hash"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Summary describes a stored credential without any payload.
type Summary struct {
	ServiceName string    `json:"service_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store is implemented by credential persistence backends. Every call is
// scoped to a single owner; backends must never return or modify another
// owner's records.
type Store interface {
	// String representation of the backend
	String() string

	// Upsert inserts the record, or overwrites the payload, hash and
	// UpdatedAt of the existing record for the same owner and service. The
	// existing CreatedAt is kept.
	Upsert(ctx context.Context, record Record) error

	// Get returns the record for the owner and service, or ErrNotFound.
	Get(ctx context.Context, ownerID, serviceName string) (*Record, error)

	// List returns all records of the owner.
	List(ctx context.Context, ownerID string) ([]Record, error)

	// Delete removes the record for the owner and service, or returns
	// ErrNotFound if there is none.
	Delete(ctx context.Context, ownerID, serviceName string) error
}

// StoreInit creates a Store from a backend specific configuration.
type StoreInit func(
	config map[string]interface{},
) (Store, error)

// ValidateOwner checks that ownerID is present and can be used as a key
// segment by a backend.
func ValidateOwner(ownerID string) error {
	if ownerID == "" {
		return ErrNotAuthenticated
	}
	if !validIdentifier(ownerID) {
		return ErrInvalidIdentifier
	}
	return nil
}

// ValidateIdentifiers checks both halves of a record key.
func ValidateIdentifiers(ownerID, serviceName string) error {
	if err := ValidateOwner(ownerID); err != nil {
		return err
	}
	if !validIdentifier(serviceName) {
		return ErrInvalidIdentifier
	}
	return nil
}

func validIdentifier(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, identifierForbiddenChars)
}
