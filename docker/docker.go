// Package docker reads configuration values mounted as docker secrets.
package docker

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	Name = "docker"
	// DockerSecretPath is where docker and swarm mount secrets.
	DockerSecretPath = "/run/secrets/"
	// SecretPathKey overrides DockerSecretPath.
	SecretPathKey = "CREDVAULT_DOCKER_SECRET_PATH"
)

var (
	// ErrInvalidSecretId is returned for names that are not plain file names.
	ErrInvalidSecretId = errors.New("invalid docker secret id")
)

func secretDir() string {
	if dir := os.Getenv(SecretPathKey); dir != "" {
		return dir
	}
	return DockerSecretPath
}

func getSecretKey(secretId string) string {
	return filepath.Join(secretDir(), secretId)
}

// GetSecret returns the content of the docker secret secretId with trailing
// newlines removed.
func GetSecret(secretId string) (string, error) {
	if secretId == "" || secretId != filepath.Base(secretId) || secretId == ".." {
		return "", ErrInvalidSecretId
	}
	data, err := os.ReadFile(getSecretKey(secretId))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// Lookup is GetSecret for config fallbacks: a missing or unreadable secret
// is reported as absent.
func Lookup(secretId string) (string, bool) {
	v, err := GetSecret(secretId)
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}
