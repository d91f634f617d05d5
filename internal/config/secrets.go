package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretFetcher is the slice of the Secrets Manager client used here.
type SecretFetcher interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Secrets is the JSON document stored under secrets.aws_secret_id. Empty fields leave
// the loaded configuration untouched.
type Secrets struct {
	ResendAPIKey     string `json:"resend_api_key"`
	SMTPPassword     string `json:"smtp_password"`
	VAPIDPublicKey   string `json:"vapid_public_key"`
	VAPIDPrivateKey  string `json:"vapid_private_key"`
	JWTSecret        string `json:"jwt_secret"`
	ServiceKeySecret string `json:"service_key_secret"`
	DatabaseDSN      string `json:"database_dsn"`
}

func NewSecretsClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return secretsmanager.NewFromConfig(awsCfg), nil
}

// ApplySecrets overlays the secret document named by secrets.aws_secret_id.
// It does nothing when no secret id is configured.
func (c *Config) ApplySecrets(ctx context.Context, fetcher SecretFetcher) error {
	if c.Secrets.AWSSecretID == "" {
		return nil
	}
	out, err := fetcher.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(c.Secrets.AWSSecretID),
	})
	if err != nil {
		return fmt.Errorf("fetch secret %s: %w", c.Secrets.AWSSecretID, err)
	}
	if out.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", c.Secrets.AWSSecretID)
	}
	var s Secrets
	if err := json.Unmarshal([]byte(*out.SecretString), &s); err != nil {
		return fmt.Errorf("decode secret %s: %w", c.Secrets.AWSSecretID, err)
	}

	overlay(&c.Email.ResendAPIKey, s.ResendAPIKey)
	overlay(&c.Email.SMTP.Password, s.SMTPPassword)
	overlay(&c.Push.PublicKey, s.VAPIDPublicKey)
	overlay(&c.Push.PrivateKey, s.VAPIDPrivateKey)
	overlay(&c.Auth.JWTSecret, s.JWTSecret)
	overlay(&c.Auth.ServiceKeySecret, s.ServiceKeySecret)
	overlay(&c.Database.DSN, s.DatabaseDSN)
	return c.Validate()
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
