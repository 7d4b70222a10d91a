package kvdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/libopenstorage/credvault"
	kv "github.com/portworx/kvdb"
)

const (
	Name = credvault.TypeKvdb
	// KvdbKey holds the kvdb.Kvdb instance records are written to.
	KvdbKey = "KVDB"
	// BasePathKey overrides the key prefix records are written under.
	BasePathKey     = "KVDB_BASE_PATH"
	DefaultBasePath = "credvault/credentials/"
)

var (
	ErrKvdbNotSet          = errors.New("KVDB Key not set")
	ErrInvalidKvdbProvided = errors.New("Invalid kvdb provided. The kvdb credential store needs a kvdb.Kvdb instance")
)

type kvdbStore struct {
	client   kv.Kvdb
	basePath string
}

func New(
	config map[string]interface{},
) (credvault.Store, error) {
	kvdbIntf, exists := config[KvdbKey]
	if !exists {
		return nil, ErrKvdbNotSet
	}
	kvClient, ok := kvdbIntf.(kv.Kvdb)
	if !ok || kvClient == nil {
		return nil, ErrInvalidKvdbProvided
	}

	basePath, _ := config[BasePathKey].(string)
	if basePath == "" {
		basePath = DefaultBasePath
	}
	if !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}
	return &kvdbStore{
		client:   kvClient,
		basePath: basePath,
	}, nil
}

func (k *kvdbStore) String() string {
	return Name
}

func (k *kvdbStore) ownerPath(ownerID string) string {
	return k.basePath + ownerID + "/"
}

func (k *kvdbStore) recordKey(ownerID, serviceName string) string {
	return k.ownerPath(ownerID) + serviceName
}

func (k *kvdbStore) Upsert(
	_ context.Context,
	record credvault.Record,
) error {
	if err := credvault.ValidateIdentifiers(record.OwnerID, record.ServiceName); err != nil {
		return err
	}
	key := k.recordKey(record.OwnerID, record.ServiceName)

	var existing credvault.Record
	_, err := k.client.GetVal(key, &existing)
	if err == nil {
		record.CreatedAt = existing.CreatedAt
	} else if err != kv.ErrNotFound {
		return fmt.Errorf("read %v: %w", key, err)
	}

	data, err := json.Marshal(&record)
	if err != nil {
		return err
	}
	if _, err = k.client.Put(key, data, 0); err != nil {
		return fmt.Errorf("write %v: %w", key, err)
	}
	return nil
}

func (k *kvdbStore) Get(
	_ context.Context,
	ownerID string,
	serviceName string,
) (*credvault.Record, error) {
	if err := credvault.ValidateIdentifiers(ownerID, serviceName); err != nil {
		return nil, err
	}
	key := k.recordKey(ownerID, serviceName)

	var record credvault.Record
	_, err := k.client.GetVal(key, &record)
	if err == kv.ErrNotFound {
		return nil, credvault.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("read %v: %w", key, err)
	}
	if record.OwnerID != ownerID {
		return nil, credvault.ErrNotFound
	}
	return &record, nil
}

func (k *kvdbStore) List(
	_ context.Context,
	ownerID string,
) ([]credvault.Record, error) {
	if err := credvault.ValidateOwner(ownerID); err != nil {
		return nil, err
	}

	kvps, err := k.client.Enumerate(k.ownerPath(ownerID))
	if err == kv.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("enumerate %v: %w", k.ownerPath(ownerID), err)
	}

	records := make([]credvault.Record, 0, len(kvps))
	for _, kvp := range kvps {
		var record credvault.Record
		if err := json.Unmarshal(kvp.Value, &record); err != nil {
			return nil, fmt.Errorf("unable to unmarshal record %v: %w", kvp.Key, err)
		}
		if record.OwnerID != ownerID {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (k *kvdbStore) Delete(
	_ context.Context,
	ownerID string,
	serviceName string,
) error {
	if err := credvault.ValidateIdentifiers(ownerID, serviceName); err != nil {
		return err
	}
	key := k.recordKey(ownerID, serviceName)

	_, err := k.client.Delete(key)
	if err == kv.ErrNotFound {
		return credvault.ErrNotFound
	}
	return err
}

func init() {
	if err := credvault.RegisterStore(Name, New); err != nil {
		panic(err.Error())
	}
}
