package credentials

import (
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/credentials/ec2rolecreds"
	"github.com/aws/aws-sdk-go/aws/ec2metadata"
	"github.com/aws/aws-sdk-go/aws/session"
)

// AWSCredentials hands out credentials, refreshing them once expired.
type AWSCredentials interface {
	Get() (*credentials.Credentials, error)
}

type awsCred struct {
	creds *credentials.Credentials
}

const metadataURL = "http://169.254.169.254/latest/meta-data/"

// onEC2 reports whether the instance metadata service is reachable.
var onEC2 = func() bool {
	client := http.Client{Timeout: 2 * time.Second}
	res, err := client.Get(metadataURL)
	if err != nil {
		return false
	}
	res.Body.Close()
	return true
}

// NewAWSCredentials uses static credentials when id and secret are given.
// Otherwise it chains the environment, the shared credentials file and, on
// EC2, the instance role.
func NewAWSCredentials(id, secret, token string) (AWSCredentials, error) {
	var creds *credentials.Credentials
	if id != "" && secret != "" {
		creds = credentials.NewStaticCredentials(id, secret, token)
	} else {
		providers := []credentials.Provider{
			&credentials.EnvProvider{},
			&credentials.SharedCredentialsProvider{},
		}
		if onEC2() {
			sess, err := session.NewSession()
			if err != nil {
				return nil, err
			}
			providers = append(providers, &ec2rolecreds.EC2RoleProvider{
				Client: ec2metadata.New(sess),
			})
		}
		creds = credentials.NewChainCredentials(providers)
	}
	if _, err := creds.Get(); err != nil {
		return nil, err
	}
	return &awsCred{creds}, nil
}

func (a *awsCred) Get() (*credentials.Credentials, error) {
	if a.creds.IsExpired() {
		// Refresh the credentials
		_, err := a.creds.Get()
		if err != nil {
			return nil, err
		}
	}
	return a.creds, nil
}
