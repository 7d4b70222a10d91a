package aws_secrets_manager

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/sirupsen/logrus"

	"github.com/libopenstorage/credvault"
	sc "github.com/libopenstorage/credvault/aws/credentials"
	"github.com/libopenstorage/credvault/aws/utils"
)

const (
	// Name of the credential store
	Name = credvault.TypeAWSSecretsManager
	// ClientKey passes a ready secretsmanageriface.SecretsManagerAPI instead
	// of building one from the AWS_* settings.
	ClientKey = "AWS_SECRETS_MANAGER_CLIENT"
	// secretPrefix namespaces every secret created by this store.
	secretPrefix = "credvault/"
)

// AWSSecretsMgr keeps one secret per owner and service. The secret string is
// the JSON encoded credential record.
type AWSSecretsMgr struct {
	scm            secretsmanageriface.SecretsManagerAPI
	recoveryWindow int64
}

// New creates new instance of AWSSecretsMgr with provided configuration.
func New(
	config map[string]interface{},
) (credvault.Store, error) {
	if config == nil {
		return nil, utils.ErrAWSCredsNotProvided
	}

	recoveryWindow, err := utils.RecoveryWindow(config)
	if err != nil {
		return nil, err
	}

	if client, ok := config[ClientKey].(secretsmanageriface.SecretsManagerAPI); ok && client != nil {
		return NewFromClient(client, recoveryWindow), nil
	}

	region, err := utils.Region(config)
	if err != nil {
		return nil, err
	}

	id, secret, token, err := utils.AuthKeys(config)
	if err != nil {
		return nil, err
	}
	asc, err := sc.NewAWSCredentials(id, secret, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws credentials instance: %v", err)
	}
	creds, err := asc.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %v", err)
	}

	awsConfig := &aws.Config{
		Credentials: creds,
		Region:      aws.String(region),
	}
	if endpoint := utils.Endpoint(config); endpoint != "" {
		awsConfig.Endpoint = aws.String(endpoint)
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"backend": Name,
		"region":  region,
	}).Debug("Configured AWS Secrets Manager credential store")

	return NewFromClient(secretsmanager.New(sess), recoveryWindow), nil
}

// NewFromClient creates an AWSSecretsMgr on top of an existing client.
func NewFromClient(
	client secretsmanageriface.SecretsManagerAPI,
	recoveryWindow int64,
) *AWSSecretsMgr {
	return &AWSSecretsMgr{
		scm:            client,
		recoveryWindow: recoveryWindow,
	}
}

func (a *AWSSecretsMgr) String() string {
	return Name
}

func (a *AWSSecretsMgr) Upsert(ctx context.Context, record credvault.Record) error {
	if err := credvault.ValidateIdentifiers(record.OwnerID, record.ServiceName); err != nil {
		return err
	}
	secretID := createSecretId(record.OwnerID, record.ServiceName)

	existing, err := a.get(ctx, secretID)
	switch {
	case err == nil:
		record.CreatedAt = existing.CreatedAt
		return a.put(ctx, secretID, record)
	case err == credvault.ErrNotFound:
		return a.create(ctx, secretID, record)
	default:
		return err
	}
}

func (a *AWSSecretsMgr) Get(ctx context.Context, ownerID, serviceName string) (*credvault.Record, error) {
	if err := credvault.ValidateIdentifiers(ownerID, serviceName); err != nil {
		return nil, err
	}
	record, err := a.get(ctx, createSecretId(ownerID, serviceName))
	if err != nil {
		return nil, err
	}
	if record.OwnerID != ownerID {
		return nil, credvault.ErrNotFound
	}
	return record, nil
}

func (a *AWSSecretsMgr) List(ctx context.Context, ownerID string) ([]credvault.Record, error) {
	if err := credvault.ValidateOwner(ownerID); err != nil {
		return nil, err
	}
	prefix := secretPrefix + ownerID + "/"

	input := &secretsmanager.ListSecretsInput{
		Filters: []*secretsmanager.Filter{{
			Key:    aws.String(secretsmanager.FilterNameStringTypeName),
			Values: []*string{aws.String(prefix)},
		}},
	}
	var names []string
	err := a.scm.ListSecretsPagesWithContext(ctx, input,
		func(page *secretsmanager.ListSecretsOutput, _ bool) bool {
			for _, entry := range page.SecretList {
				name := aws.StringValue(entry.Name)
				// The name filter also matches on words, keep exact prefixes only.
				if strings.HasPrefix(name, prefix) {
					names = append(names, name)
				}
			}
			return true
		})
	if err != nil {
		return nil, convertAWSErr(err)
	}

	records := make([]credvault.Record, 0, len(names))
	for _, name := range names {
		record, err := a.get(ctx, name)
		if err == credvault.ErrNotFound {
			continue
		} else if err != nil {
			return nil, err
		}
		if record.OwnerID == ownerID {
			records = append(records, *record)
		}
	}
	return records, nil
}

func (a *AWSSecretsMgr) Delete(ctx context.Context, ownerID, serviceName string) error {
	if err := credvault.ValidateIdentifiers(ownerID, serviceName); err != nil {
		return err
	}
	secretID := createSecretId(ownerID, serviceName)

	// DeleteSecret succeeds on secrets already scheduled for deletion.
	if _, err := a.get(ctx, secretID); err != nil {
		return err
	}

	input := &secretsmanager.DeleteSecretInput{
		SecretId: aws.String(secretID),
	}
	if a.recoveryWindow > 0 {
		input.RecoveryWindowInDays = aws.Int64(a.recoveryWindow)
	} else {
		input.ForceDeleteWithoutRecovery = aws.Bool(true)
	}

	if _, err := a.scm.DeleteSecretWithContext(ctx, input); err != nil {
		return convertAWSErr(err)
	}
	return nil
}

func (a *AWSSecretsMgr) get(ctx context.Context, secretID string) (*credvault.Record, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	}

	result, err := a.scm.GetSecretValueWithContext(ctx, input)
	if err != nil {
		return nil, convertAWSErr(err)
	}

	var record credvault.Record
	if err := json.Unmarshal([]byte(aws.StringValue(result.SecretString)), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal secret value: %v", err)
	}
	return &record, nil
}

func (a *AWSSecretsMgr) create(ctx context.Context, secretID string, record credvault.Record) error {
	secretValue, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal secret value: %v", err)
	}

	input := &secretsmanager.CreateSecretInput{
		Name:         aws.String(secretID),
		SecretString: aws.String(string(secretValue)),
		Tags: []*secretsmanager.Tag{
			{Key: aws.String("credvault.owner_id"), Value: aws.String(record.OwnerID)},
			{Key: aws.String("credvault.service_name"), Value: aws.String(record.ServiceName)},
		},
	}

	_, err = a.scm.CreateSecretWithContext(ctx, input)
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case secretsmanager.ErrCodeResourceExistsException:
			// Lost a race with a concurrent create.
			return a.put(ctx, secretID, record)
		case secretsmanager.ErrCodeInvalidRequestException:
			// The name is held by a secret scheduled for deletion.
			if _, err := a.scm.RestoreSecretWithContext(ctx, &secretsmanager.RestoreSecretInput{
				SecretId: aws.String(secretID),
			}); err != nil {
				return convertAWSErr(err)
			}
			return a.put(ctx, secretID, record)
		}
	}
	if err != nil {
		return convertAWSErr(err)
	}
	return nil
}

func (a *AWSSecretsMgr) put(ctx context.Context, secretID string, record credvault.Record) error {
	secretValue, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal secret value: %v", err)
	}

	input := &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(secretID),
		SecretString: aws.String(string(secretValue)),
	}

	if _, err := a.scm.PutSecretValueWithContext(ctx, input); err != nil {
		return convertAWSErr(err)
	}
	return nil
}

func createSecretId(ownerID, serviceName string) string {
	return fmt.Sprintf("%s%s/%s", secretPrefix, ownerID, serviceName)
}

func convertAWSErr(err error) error {
	if awsErr, ok := err.(awserr.Error); ok {
		switch awsErr.Code() {
		case secretsmanager.ErrCodeResourceNotFoundException:
			return credvault.ErrNotFound
		case secretsmanager.ErrCodeInvalidRequestException:
			// Reads of a secret scheduled for deletion.
			if strings.Contains(awsErr.Message(), "marked for deletion") {
				return credvault.ErrNotFound
			}
		}
		return fmt.Errorf("AWS error: %s - %s", awsErr.Code(), awsErr.Message())
	}
	return err
}

func init() {
	if err := credvault.RegisterStore(Name, New); err != nil {
		panic(err.Error())
	}
}
