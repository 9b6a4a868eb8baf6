package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, in *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, in *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
}

// SecretsManagerStore keeps each secret as an AWS Secrets Manager secret named
// <prefix>/<key>.
type SecretsManagerStore struct {
	prefix   string
	kmsKeyID string
	client   secretsManagerAPI
}

var _ Store = (*SecretsManagerStore)(nil)

func newSecretsManagerStore(ctx context.Context, cfg map[string]string) (*SecretsManagerStore, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secretsmanager secret store: %w", err)
	}
	prefix := cfg["prefix"]
	if prefix == "" {
		prefix = "zitadelhost"
	}
	return &SecretsManagerStore{
		prefix:   strings.Trim(prefix, "/"),
		kmsKeyID: cfg["kms_key_id"],
		client:   secretsmanager.NewFromConfig(awsCfg),
	}, nil
}

func (s *SecretsManagerStore) secretName(key string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return s.prefix + "/" + clean, nil
}

func (s *SecretsManagerStore) Load(ctx context.Context, key string) (string, bool, error) {
	name, err := s.secretName(key)
	if err != nil {
		return "", false, err
	}
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		if isNotFound(err, "ResourceNotFoundException") {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read secret %s: %w", name, err)
	}
	return aws.ToString(out.SecretString), true, nil
}

// Save updates the secret, creating it on first use.
func (s *SecretsManagerStore) Save(ctx context.Context, key, value string) error {
	name, err := s.secretName(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(value),
	})
	if err == nil {
		return nil
	}
	if !isNotFound(err, "ResourceNotFoundException") {
		return fmt.Errorf("failed to write secret %s: %w", name, err)
	}

	in := &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(value),
		Description:  aws.String("Managed by zitadelhost"),
	}
	if s.kmsKeyID != "" {
		in.KmsKeyId = aws.String(s.kmsKeyID)
	}
	if _, err := s.client.CreateSecret(ctx, in); err != nil {
		return fmt.Errorf("failed to create secret %s: %w", name, err)
	}
	return nil
}
