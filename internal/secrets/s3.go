package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// S3Store keeps secrets as objects under a prefix, optionally locked through a DynamoDB
// table with a LockID hash key.
type S3Store struct {
	bucket    string
	prefix    string
	sse       bool
	lockTable string
	cipher    *Cipher

	s3     s3API
	dynamo dynamoAPI
	lockID string
}

var (
	_ Store  = (*S3Store)(nil)
	_ Locker = (*S3Store)(nil)
)

func loadAWSConfig(ctx context.Context, cfg map[string]string) (aws.Config, error) {
	region := cfg["region"]
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg["profile"] != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg["profile"]))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return awsCfg, nil
}

func newS3Store(ctx context.Context, cfg map[string]string) (*S3Store, error) {
	bucket := cfg["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("s3 secret store requires 'bucket' configuration")
	}
	prefix := cfg["prefix"]
	if prefix == "" {
		prefix = "zitadelhost/secrets"
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize s3 secret store: %w", err)
	}

	st := &S3Store{
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		sse:       cfg["encrypt"] == "true",
		lockTable: cfg["dynamodb_table"],
		cipher:    CipherFromEnv(),
		s3:        s3.NewFromConfig(awsCfg),
	}
	if st.lockTable != "" {
		st.dynamo = dynamodb.NewFromConfig(awsCfg)
	}
	return st, nil
}

func (s *S3Store) objectKey(key string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return clean, nil
	}
	return s.prefix + "/" + clean, nil
}

func (s *S3Store) Load(ctx context.Context, key string) (string, bool, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return "", false, err
	}
	out, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err, "NoSuchKey", "NotFound") {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read secret from s3://%s/%s: %w", s.bucket, objectKey, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return "", false, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	plain, err := s.cipher.Decrypt(buf.Bytes())
	if err != nil {
		return "", false, fmt.Errorf("secret %s: %w", key, err)
	}
	return string(plain), true, nil
}

func (s *S3Store) Save(ctx context.Context, key, value string) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	data, err := s.cipher.Encrypt([]byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt secret %s: %w", key, err)
	}

	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(data),
	}
	if s.sse {
		in.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}
	if _, err := s.s3.PutObject(ctx, in); err != nil {
		return fmt.Errorf("failed to write secret to s3://%s/%s: %w", s.bucket, objectKey, err)
	}
	return nil
}

func (s *S3Store) Lock(ctx context.Context) error {
	if s.lockTable == "" {
		return nil
	}

	s.lockID = fmt.Sprintf("zitadelhost-%d-%d", os.Getpid(), time.Now().UnixNano())
	_, err := s.dynamo.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.lockTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: s.prefix},
			"Info":    &dbtypes.AttributeValueMemberS{Value: s.lockID},
			"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("secret store is locked by another process. If this is an error, "+
				"manually delete the lock item with LockID=%q from DynamoDB table %q", s.prefix, s.lockTable)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

func (s *S3Store) Unlock(ctx context.Context) error {
	if s.lockTable == "" {
		return nil
	}
	_, err := s.dynamo.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.lockTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: s.prefix},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// isNotFound reports whether err is an API error with one of codes.
func isNotFound(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.ErrorCode() == c {
			return true
		}
	}
	return false
}
