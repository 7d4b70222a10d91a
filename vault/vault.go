package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/sirupsen/logrus"

	"github.com/libopenstorage/credvault"
)

const (
	Name = credvault.TypeVault
	// VaultBackendPathKey is the mount path of the KV version 2 engine.
	VaultBackendPathKey = "VAULT_BACKEND_PATH"
	DefaultBackendPath  = "secret"
	credentialsPrefix   = "credvault"
	vaultAddressPrefix  = "http"
)

var (
	ErrVaultTokenNotSet    = errors.New("VAULT_TOKEN not set.")
	ErrVaultAddressNotSet  = errors.New("VAULT_ADDR not set.")
	ErrInvalidSkipVerify   = errors.New("VAULT_SKIP_VERIFY is invalid")
	ErrInvalidVaultAddress = errors.New("VAULT_ADDRESS is invalid. " +
		"Should be of the form http(s)://<ip>:<port>")
	// ErrInvalidRecord is returned when a stored secret is not a credential record.
	ErrInvalidRecord = errors.New("vault secret is not a credential record")
)

type vaultStore struct {
	client   *api.Client
	kv       *api.KVv2
	mount    string
	endpoint string
}

// These variables are helpful in testing to stub method call from packages
var (
	newVaultClient = api.NewClient
)

func New(
	config map[string]interface{},
) (credvault.Store, error) {
	// DefaultConfig uses the environment variables if present.
	apiConfig := api.DefaultConfig()

	if len(config) == 0 && apiConfig.Error != nil {
		return nil, apiConfig.Error
	}

	token := getVaultParam(config, api.EnvVaultToken)
	if token == "" {
		return nil, ErrVaultTokenNotSet
	}

	address := getVaultParam(config, api.EnvVaultAddress)
	if address == "" {
		return nil, ErrVaultAddressNotSet
	}
	// Vault fails if address is not in correct format
	if !strings.HasPrefix(address, vaultAddressPrefix) {
		return nil, ErrInvalidVaultAddress
	}
	apiConfig.Address = address

	if err := configureTLS(apiConfig, config); err != nil {
		return nil, err
	}

	client, err := newVaultClient(apiConfig)
	if err != nil {
		return nil, err
	}
	client.SetToken(token)

	mount := strings.Trim(getVaultParam(config, VaultBackendPathKey), "/")
	if mount == "" {
		mount = DefaultBackendPath
	}

	logrus.WithFields(logrus.Fields{
		"backend":  Name,
		"endpoint": apiConfig.Address,
		"mount":    mount,
	}).Debug("Configured vault credential store")

	return &vaultStore{
		client:   client,
		kv:       client.KVv2(mount),
		mount:    mount,
		endpoint: apiConfig.Address,
	}, nil
}

func (v *vaultStore) String() string {
	return Name
}

func (v *vaultStore) Upsert(
	ctx context.Context,
	record credvault.Record,
) error {
	if err := credvault.ValidateIdentifiers(record.OwnerID, record.ServiceName); err != nil {
		return err
	}
	secretPath := getSecretPath(record.OwnerID, record.ServiceName)

	existing, err := v.kv.Get(ctx, secretPath)
	if err == nil {
		if prev, err := fromSecretData(existing.Data); err == nil {
			record.CreatedAt = prev.CreatedAt
		}
	} else if !errors.Is(err, api.ErrSecretNotFound) {
		return fmt.Errorf("read %v: %w", secretPath, err)
	}

	if _, err := v.kv.Put(ctx, secretPath, toSecretData(record)); err != nil {
		return fmt.Errorf("write %v: %w", secretPath, err)
	}
	return nil
}

func (v *vaultStore) Get(
	ctx context.Context,
	ownerID string,
	serviceName string,
) (*credvault.Record, error) {
	if err := credvault.ValidateIdentifiers(ownerID, serviceName); err != nil {
		return nil, err
	}
	return v.get(ctx, ownerID, serviceName)
}

func (v *vaultStore) get(ctx context.Context, ownerID, serviceName string) (*credvault.Record, error) {
	secretPath := getSecretPath(ownerID, serviceName)

	secret, err := v.kv.Get(ctx, secretPath)
	if errors.Is(err, api.ErrSecretNotFound) {
		return nil, credvault.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("read %v: %w", secretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, credvault.ErrNotFound
	}

	record, err := fromSecretData(secret.Data)
	if err != nil {
		return nil, err
	}
	if record.OwnerID != ownerID {
		return nil, credvault.ErrNotFound
	}
	return record, nil
}

func (v *vaultStore) List(
	ctx context.Context,
	ownerID string,
) ([]credvault.Record, error) {
	if err := credvault.ValidateOwner(ownerID); err != nil {
		return nil, err
	}

	listPath := v.mount + "/metadata/" + credentialsPrefix + "/" + ownerID
	secret, err := v.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("list %v: %w", listPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	keys, _ := secret.Data["keys"].([]interface{})

	records := make([]credvault.Record, 0, len(keys))
	for _, k := range keys {
		serviceName, ok := k.(string)
		if !ok || strings.HasSuffix(serviceName, "/") {
			continue
		}
		record, err := v.get(ctx, ownerID, serviceName)
		if err == credvault.ErrNotFound {
			// Deleted between the listing and the read.
			continue
		} else if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

func (v *vaultStore) Delete(
	ctx context.Context,
	ownerID string,
	serviceName string,
) error {
	if err := credvault.ValidateIdentifiers(ownerID, serviceName); err != nil {
		return err
	}
	if _, err := v.get(ctx, ownerID, serviceName); err != nil {
		return err
	}

	secretPath := getSecretPath(ownerID, serviceName)
	if err := v.kv.DeleteMetadata(ctx, secretPath); err != nil {
		return fmt.Errorf("delete %v: %w", secretPath, err)
	}
	return nil
}

func getSecretPath(ownerID, serviceName string) string {
	return credentialsPrefix + "/" + ownerID + "/" + serviceName
}

func toSecretData(record credvault.Record) map[string]interface{} {
	return map[string]interface{}{
		"owner_id":          record.OwnerID,
		"service_name":      record.ServiceName,
		"encrypted_payload": record.EncryptedPayload,
		"integrity_hash":    record.IntegrityHash,
		"created_at":        record.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":        record.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func fromSecretData(data map[string]interface{}) (*credvault.Record, error) {
	str := func(key string) string {
		s, _ := data[key].(string)
		return s
	}

	record := &credvault.Record{
		OwnerID:          str("owner_id"),
		ServiceName:      str("service_name"),
		EncryptedPayload: str("encrypted_payload"),
		IntegrityHash:    str("integrity_hash"),
	}
	if record.OwnerID == "" || record.EncryptedPayload == "" {
		return nil, ErrInvalidRecord
	}

	var err error
	if record.CreatedAt, err = time.Parse(time.RFC3339Nano, str("created_at")); err != nil {
		return nil, ErrInvalidRecord
	}
	if record.UpdatedAt, err = time.Parse(time.RFC3339Nano, str("updated_at")); err != nil {
		return nil, ErrInvalidRecord
	}
	return record, nil
}

func getVaultParam(config map[string]interface{}, name string) string {
	if paramIntf, exists := config[name]; exists {
		param, _ := paramIntf.(string)
		return param
	}
	return os.Getenv(name)
}

func configureTLS(apiConfig *api.Config, config map[string]interface{}) error {
	tlsConfig := api.TLSConfig{}
	skipVerify := getVaultParam(config, api.EnvVaultInsecure)
	if skipVerify != "" {
		insecure, err := strconv.ParseBool(skipVerify)
		if err != nil {
			return ErrInvalidSkipVerify
		}
		tlsConfig.Insecure = insecure
	}

	tlsConfig.CACert = getVaultParam(config, api.EnvVaultCACert)
	tlsConfig.CAPath = getVaultParam(config, api.EnvVaultCAPath)
	tlsConfig.ClientCert = getVaultParam(config, api.EnvVaultClientCert)
	tlsConfig.ClientKey = getVaultParam(config, api.EnvVaultClientKey)
	tlsConfig.TLSServerName = getVaultParam(config, api.EnvVaultTLSServerName)

	return apiConfig.ConfigureTLS(&tlsConfig)
}

func init() {
	if err := credvault.RegisterStore(Name, New); err != nil {
		panic(err.Error())
	}
}
