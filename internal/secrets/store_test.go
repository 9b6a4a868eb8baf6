package secrets

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_RoundTrip(t *testing.T) {
	c := NewCipher("a passphrase that is not 32 bytes")
	enc, err := c.Encrypt([]byte("s3cr3t"))
	require.NoError(t, err)
	assert.True(t, IsEncrypted(enc))
	assert.NotContains(t, string(enc), "s3cr3t")

	dec, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", string(dec))

	_, err = NewCipher("another key").Decrypt(enc)
	assert.Error(t, err)

	var none *Cipher
	_, err = none.Decrypt(enc)
	assert.ErrorContains(t, err, KeyEnvVar)
}

func TestCipher_NilIsPlaintext(t *testing.T) {
	var c *Cipher
	out, err := c.Encrypt([]byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, "plain", string(out))

	assert.Nil(t, NewCipher(""))
}

func TestCleanKey(t *testing.T) {
	for _, key := range []string{"oidc/shop/web", "parameters/pg-password"} {
		got, err := cleanKey(key)
		require.NoError(t, err)
		assert.Equal(t, key, got)
	}
	for _, key := range []string{"", "  ", "../escape", "a/../../b", "/"} {
		_, err := cleanKey(key)
		assert.Error(t, err, key)
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := st.Load(ctx, OIDCClientSecretKey("Shop", "Web"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Save(ctx, OIDCClientSecretKey("Shop", "Web"), "secret-1"))
	v, ok, err := st.Load(ctx, "oidc/shop/web")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "secret-1", v)

	assert.FileExists(t, filepath.Join(dir, "oidc", "shop", "web.key"))
}

func TestFileStore_Encrypted(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(dir, NewCipher("k"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, "parameters/pw", "hunter2"))
	raw, err := os.ReadFile(filepath.Join(dir, "parameters", "pw.key"))
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))

	v, ok, err := st.Load(ctx, "parameters/pw")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hunter2", v)
}

func TestFileStore_Lock(t *testing.T) {
	st, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, st.Lock(ctx))
	assert.ErrorContains(t, st.Lock(ctx), "locked")
	require.NoError(t, st.Unlock(ctx))
	require.NoError(t, st.Lock(ctx))
	require.NoError(t, st.Unlock(ctx))
	require.NoError(t, st.Unlock(ctx))
}

func ageLockFile(t *testing.T, st *FileStore, age time.Duration) {
	t.Helper()
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(st.lockPath(), old, old))
}

func TestFileStore_LockOfLiveProcessIsNotTakenOver(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	a, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	b, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, a.Lock(ctx))
	ageLockFile(t, a, staleLockAge+time.Minute)

	assert.ErrorContains(t, b.Lock(ctx), "locked")
	require.NoError(t, a.Unlock(ctx))
	require.NoError(t, b.Lock(ctx))
	require.NoError(t, b.Unlock(ctx))
}

func TestFileStore_StaleLockOfExitedProcessIsTakenOver(t *testing.T) {
	st, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(st.lockPath(), []byte("pid=0\nid=gone\n"), 0600))
	ageLockFile(t, st, staleLockAge+time.Minute)

	require.NoError(t, st.Lock(ctx))
	holder, err := readLockFile(st.lockPath())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), holder.pid)
	assert.NotEqual(t, "gone", holder.id)

	require.NoError(t, st.Unlock(ctx))
	assert.NoFileExists(t, st.lockPath())
}

func TestFileStore_HeldLockIsRefreshed(t *testing.T) {
	st, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	st.refresh = 10 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, st.Lock(ctx))
	defer st.Unlock(ctx)
	ageLockFile(t, st, staleLockAge+time.Minute)

	require.Eventually(t, func() bool {
		info, err := os.Stat(st.lockPath())
		return err == nil && time.Since(info.ModTime()) < time.Minute
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileStore_UnlockKeepsForeignLock(t *testing.T) {
	st, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, st.Lock(ctx))
	require.NoError(t, os.WriteFile(st.lockPath(), []byte("pid=0\nid=other\n"), 0600))

	assert.ErrorContains(t, st.Unlock(ctx), "taken over")
	assert.FileExists(t, st.lockPath())
}

func TestNewStore_File(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(context.Background(), Config{}, dir)
	require.NoError(t, err)
	fs, ok := st.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, dir, fs.Dir())

	_, err = NewStore(context.Background(), Config{Type: "gcs"}, dir)
	assert.ErrorContains(t, err, "unknown")
}

type fakeS3 struct {
	objects map[string][]byte
	sse     []s3types.ServerSideEncryption
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.sse = append(f.sse, in.ServerSideEncryption)
	return &s3.PutObjectOutput{}, nil
}

type fakeDynamo struct {
	locked map[string]bool
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	id := in.Item["LockID"].(*dbtypes.AttributeValueMemberS).Value
	if f.locked[id] {
		return nil, &dbtypes.ConditionalCheckFailedException{}
	}
	f.locked[id] = true
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.locked, in.Key["LockID"].(*dbtypes.AttributeValueMemberS).Value)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestS3Store(t *testing.T) {
	s3c := &fakeS3{objects: map[string][]byte{}}
	db := &fakeDynamo{locked: map[string]bool{}}
	st := &S3Store{bucket: "b", prefix: "stack", sse: true, lockTable: "locks", cipher: NewCipher("k"), s3: s3c, dynamo: db}
	ctx := context.Background()

	_, ok, err := st.Load(ctx, "oidc/shop/web")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Save(ctx, "oidc/shop/web", "secret"))
	assert.True(t, IsEncrypted(s3c.objects["stack/oidc/shop/web"]))
	assert.Equal(t, []s3types.ServerSideEncryption{s3types.ServerSideEncryptionAes256}, s3c.sse)

	v, ok, err := st.Load(ctx, "oidc/shop/web")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "secret", v)

	require.NoError(t, st.Lock(ctx))
	other := &S3Store{prefix: "stack", lockTable: "locks", dynamo: db}
	assert.ErrorContains(t, other.Lock(ctx), "locked")
	require.NoError(t, st.Unlock(ctx))
	require.NoError(t, other.Lock(ctx))
}

type fakeSecretsManager struct {
	secrets map[string]string
	creates int
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	v, ok := f.secrets[aws.ToString(in.SecretId)]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func (f *fakeSecretsManager) PutSecretValue(_ context.Context, in *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	if _, ok := f.secrets[aws.ToString(in.SecretId)]; !ok {
		return nil, &smtypes.ResourceNotFoundException{}
	}
	f.secrets[aws.ToString(in.SecretId)] = aws.ToString(in.SecretString)
	return &secretsmanager.PutSecretValueOutput{}, nil
}

func (f *fakeSecretsManager) CreateSecret(_ context.Context, in *secretsmanager.CreateSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.creates++
	f.secrets[aws.ToString(in.Name)] = aws.ToString(in.SecretString)
	return &secretsmanager.CreateSecretOutput{}, nil
}

func TestSecretsManagerStore(t *testing.T) {
	fake := &fakeSecretsManager{secrets: map[string]string{}}
	st := &SecretsManagerStore{prefix: "dev", client: fake}
	ctx := context.Background()

	_, ok, err := st.Load(ctx, "oidc/shop/web")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Save(ctx, "oidc/shop/web", "one"))
	require.NoError(t, st.Save(ctx, "oidc/shop/web", "two"))
	assert.Equal(t, 1, fake.creates)

	v, ok, err := st.Load(ctx, "oidc/shop/web")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", v)
	assert.Contains(t, fake.secrets, "dev/oidc/shop/web")
}
