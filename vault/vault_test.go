package vault

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libopenstorage/credvault"
	"github.com/libopenstorage/credvault/test"
)

const (
	testToken = "s.testtoken"
	testMount = "kv"
)

// kvServer is a minimal KV version 2 engine serving data reads and writes,
// metadata listing and metadata deletion.
type kvServer struct {
	mu      sync.Mutex
	mount   string
	secrets map[string]map[string]interface{}
}

func newKVServer(t *testing.T, mount string) *httptest.Server {
	kv := &kvServer{mount: mount, secrets: map[string]map[string]interface{}{}}
	ts := httptest.NewServer(kv)
	t.Cleanup(ts.Close)
	return ts
}

func (kv *kvServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Vault-Token") != testToken {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"errors": []string{"permission denied"}})
		return
	}

	dataPrefix := "/v1/" + kv.mount + "/data/"
	metadataPrefix := "/v1/" + kv.mount + "/metadata/"

	kv.mu.Lock()
	defer kv.mu.Unlock()

	switch {
	case strings.HasPrefix(r.URL.Path, dataPrefix):
		path := strings.TrimPrefix(r.URL.Path, dataPrefix)
		switch r.Method {
		case http.MethodGet:
			data, ok := kv.secrets[path]
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{}})
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"data": map[string]interface{}{
					"data":     data,
					"metadata": versionMetadata(),
				},
			})
		case http.MethodPut, http.MethodPost:
			var body struct {
				Data map[string]interface{} `json:"data"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errors": []string{err.Error()}})
				return
			}
			kv.secrets[path] = body.Data
			writeJSON(w, http.StatusOK, map[string]interface{}{"data": versionMetadata()})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	case strings.HasPrefix(r.URL.Path, metadataPrefix):
		path := strings.TrimPrefix(r.URL.Path, metadataPrefix)
		switch {
		case r.Method == http.MethodDelete:
			delete(kv.secrets, path)
			w.WriteHeader(http.StatusNoContent)
		case r.Method == "LIST" || (r.Method == http.MethodGet && r.URL.Query().Get("list") == "true"):
			prefix := strings.TrimSuffix(path, "/") + "/"
			var keys []string
			for p := range kv.secrets {
				if strings.HasPrefix(p, prefix) && !strings.Contains(strings.TrimPrefix(p, prefix), "/") {
					keys = append(keys, strings.TrimPrefix(p, prefix))
				}
			}
			if len(keys) == 0 {
				writeJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{}})
				return
			}
			sort.Strings(keys)
			writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"keys": keys}})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	default:
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{}})
	}
}

func versionMetadata() map[string]interface{} {
	return map[string]interface{}{
		"created_time":    "2024-04-12T07:40:32.759558919Z",
		"custom_metadata": nil,
		"deletion_time":   "",
		"destroyed":       false,
		"version":         1,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func setupTestStore(t *testing.T) credvault.Store {
	t.Helper()

	ts := newKVServer(t, testMount)
	s, err := credvault.NewStore(Name, map[string]interface{}{
		api.EnvVaultAddress: ts.URL,
		api.EnvVaultToken:   testToken,
		VaultBackendPathKey: "/" + testMount + "/",
	})
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	_, err := New(map[string]interface{}{
		api.EnvVaultAddress: "http://127.0.0.1:8200",
		api.EnvVaultToken:   "",
	})
	assert.Equal(t, ErrVaultTokenNotSet, err)

	_, err = New(map[string]interface{}{
		api.EnvVaultAddress: "",
		api.EnvVaultToken:   testToken,
	})
	assert.Equal(t, ErrVaultAddressNotSet, err)

	_, err = New(map[string]interface{}{
		api.EnvVaultAddress: "127.0.0.1:8200",
		api.EnvVaultToken:   testToken,
	})
	assert.Equal(t, ErrInvalidVaultAddress, err)

	_, err = New(map[string]interface{}{
		api.EnvVaultAddress:  "http://127.0.0.1:8200",
		api.EnvVaultToken:    testToken,
		api.EnvVaultInsecure: "maybe",
	})
	assert.Equal(t, ErrInvalidSkipVerify, err)

	s, err := New(map[string]interface{}{
		api.EnvVaultAddress:  "http://127.0.0.1:8200",
		api.EnvVaultToken:    testToken,
		api.EnvVaultInsecure: "true",
	})
	require.NoError(t, err)
	assert.Equal(t, Name, s.String())
	assert.Equal(t, DefaultBackendPath, s.(*vaultStore).mount)
}

func TestSecretData(t *testing.T) {
	_, err := fromSecretData(map[string]interface{}{"foo": "bar"})
	assert.Equal(t, ErrInvalidRecord, err)

	_, err = fromSecretData(map[string]interface{}{
		"owner_id":          "owner",
		"encrypted_payload": "payload",
		"created_at":        "yesterday",
	})
	assert.Equal(t, ErrInvalidRecord, err)
}

func TestStore(t *testing.T) {
	test.RunForStore(setupTestStore(t), t)
}

func TestManager(t *testing.T) {
	test.RunForManager(setupTestStore(t), t)
}
