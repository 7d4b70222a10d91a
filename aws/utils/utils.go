package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

const (
	// AwsAccessKey corresponds to AWS credential AWS_ACCESS_KEY_ID
	AwsAccessKey = "AWS_ACCESS_KEY_ID"
	// AwsSecretAccessKey corresponds to AWS credential AWS_SECRET_ACCESS_KEY
	AwsSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	// AwsTokenKey corresponds to AWS credential AWS_SECRET_TOKEN_KEY
	AwsTokenKey = "AWS_SECRET_TOKEN_KEY"
	// AwsRegionKey defines the AWS region
	AwsRegionKey = "AWS_REGION"
	// AwsEndpointKey overrides the service endpoint, e.g. for localstack.
	AwsEndpointKey = "AWS_ENDPOINT"
	// AwsRecoveryWindowKey is the number of days a deleted secret stays
	// recoverable. Zero deletes immediately.
	AwsRecoveryWindowKey = "AWS_SECRET_RECOVERY_WINDOW_DAYS"
)

var (
	// ErrAWSRegionNotProvided is returned when region is not provided.
	ErrAWSRegionNotProvided = errors.New("AWS Region not provided. Cannot perform credential operations.")
	// ErrAWSCredsNotProvided is returned when aws credentials are not provided
	ErrAWSCredsNotProvided = errors.New("aws credentials not provided")
	// ErrInvalidRecoveryWindow is returned when the recovery window is outside 7 to 30 days.
	ErrInvalidRecoveryWindow = errors.New("AWS secret recovery window must be 0 or between 7 and 30 days")
)

// AuthKeys returns the static access key, secret key and session token from
// params. Missing keys are returned empty.
func AuthKeys(params map[string]interface{}) (string, string, string, error) {
	accessKey, err := getAuthKey(AwsAccessKey, params)
	if err != nil {
		return "", "", "", err
	}

	secretKey, err := getAuthKey(AwsSecretAccessKey, params)
	if err != nil {
		return "", "", "", err
	}

	secretToken, err := getAuthKey(AwsTokenKey, params)
	if err != nil {
		return "", "", "", err
	}

	return accessKey, secretKey, secretToken, nil
}

// Region returns the configured region, falling back to the environment.
func Region(params map[string]interface{}) (string, error) {
	region, _ := params[AwsRegionKey].(string)
	if region == "" {
		region = os.Getenv(AwsRegionKey)
	}
	if region == "" {
		return "", ErrAWSRegionNotProvided
	}
	return region, nil
}

// Endpoint returns the configured endpoint override, if any.
func Endpoint(params map[string]interface{}) string {
	endpoint, _ := params[AwsEndpointKey].(string)
	if endpoint == "" {
		endpoint = os.Getenv(AwsEndpointKey)
	}
	return endpoint
}

// RecoveryWindow returns the recovery window in days. Zero means deleted
// secrets are removed without recovery.
func RecoveryWindow(params map[string]interface{}) (int64, error) {
	var days int64
	switch v := params[AwsRecoveryWindowKey].(type) {
	case int:
		days = int64(v)
	case int64:
		days = v
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, ErrInvalidRecoveryWindow
		}
		days = parsed
	case nil:
		if env := os.Getenv(AwsRecoveryWindowKey); env != "" {
			parsed, err := strconv.ParseInt(env, 10, 64)
			if err != nil {
				return 0, ErrInvalidRecoveryWindow
			}
			days = parsed
		}
	default:
		return 0, ErrInvalidRecoveryWindow
	}

	if days != 0 && (days < 7 || days > 30) {
		return 0, ErrInvalidRecoveryWindow
	}
	return days, nil
}

func getAuthKey(key string, params map[string]interface{}) (string, error) {
	val, ok := params[key]
	valueStr := ""
	if ok {
		valueStr, ok = val.(string)
		if !ok {
			return "", fmt.Errorf("Authentication error. Invalid value for %v", key)
		}
	}
	return valueStr, nil
}
