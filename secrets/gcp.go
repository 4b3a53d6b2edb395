package secrets

import (
	"context"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mpcnet/chainsig/model"
)

// GCPCustodian implements Custodian on Cloud KMS (encrypt/decrypt) and
// Secret Manager (secret retrieval).
type GCPCustodian struct {
	kms     *kms.KeyManagementClient
	secrets *secretmanager.Client
	keyName string // full KMS key resource name
	project string
	log     zerolog.Logger
}

var _ Custodian = (*GCPCustodian)(nil)

// NewGCPCustodian connects to Cloud KMS and Secret Manager. keyName is the
// full crypto-key resource name used for deployer-key envelope encryption.
func NewGCPCustodian(ctx context.Context, log zerolog.Logger, project, keyName string) (*GCPCustodian, error) {
	kmsClient, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to KMS: %w", err)
	}
	smClient, err := secretmanager.NewClient(ctx)
	if err != nil {
		_ = kmsClient.Close()
		return nil, fmt.Errorf("connecting to Secret Manager: %w", err)
	}
	return &GCPCustodian{
		kms:     kmsClient,
		secrets: smClient,
		keyName: keyName,
		project: project,
		log:     log.With().Str("component", "gcp_custodian").Logger(),
	}, nil
}

// Close releases both client connections.
func (c *GCPCustodian) Close() error {
	kmsErr := c.kms.Close()
	smErr := c.secrets.Close()
	if kmsErr != nil {
		return kmsErr
	}
	return smErr
}

// Encrypt implements Custodian.
func (c *GCPCustodian) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	resp, err := c.kms.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:      c.keyName,
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, classifyGRPC(fmt.Sprintf("encrypting with %s", c.keyName), err)
	}
	return resp.Ciphertext, nil
}

// Decrypt implements Custodian.
func (c *GCPCustodian) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	resp, err := c.kms.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:       c.keyName,
		Ciphertext: ciphertext,
	})
	if err != nil {
		return nil, classifyGRPC(fmt.Sprintf("decrypting with %s", c.keyName), err)
	}
	return resp.Plaintext, nil
}

// GetSecret implements Custodian. name is the short secret id within the
// configured project.
func (c *GCPCustodian) GetSecret(ctx context.Context, name string) ([]byte, error) {
	version := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", c.project, name)
	resp, err := c.secrets.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: version,
	})
	if err != nil {
		return nil, classifyGRPC(fmt.Sprintf("secret %s", name), err)
	}
	return resp.Payload.Data, nil
}

// classifyGRPC maps gRPC status codes onto the shared error taxonomy.
func classifyGRPC(op string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%s: %v: %w", op, err, model.ErrAccessDenied)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
