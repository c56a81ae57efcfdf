package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerAPI is the subset of the Secrets Manager client we call.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource reads one secret by name. When keys are set and the
// secret is a JSON object, the first non-empty string field among keys is
// returned; a non-JSON secret is returned as is.
type SecretsManagerSource struct {
	client SecretsManagerAPI
	name   string
	keys   []string
}

func NewSecretsManagerSource(client SecretsManagerAPI, name string, keys ...string) *SecretsManagerSource {
	return &SecretsManagerSource{client: client, name: name, keys: keys}
}

func (s *SecretsManagerSource) Fetch(ctx context.Context) ([]byte, error) {
	if s.name == "" {
		return nil, fmt.Errorf("%w: secret name not configured", ErrUnavailable)
	}

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.name),
	})
	if err != nil {
		var nf *types.ResourceNotFoundException
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: secret %q not found", ErrUnavailable, s.name)
		}
		return nil, fmt.Errorf("%w: read secret %q: %v", ErrUnavailable, s.name, err)
	}

	var material []byte
	switch {
	case out.SecretString != nil && *out.SecretString != "":
		material = []byte(*out.SecretString)
	case len(out.SecretBinary) > 0:
		material = out.SecretBinary
	default:
		return nil, fmt.Errorf("%w: secret %q is empty", ErrUnavailable, s.name)
	}

	if len(s.keys) == 0 {
		return material, nil
	}
	return s.selectKey(material)
}

func (s *SecretsManagerSource) selectKey(material []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(material, &doc); err != nil {
		return material, nil
	}
	for _, k := range s.keys {
		if v, ok := doc[k].(string); ok && v != "" {
			return []byte(v), nil
		}
	}
	return nil, fmt.Errorf("%w: secret %q has none of the keys %v", ErrUnavailable, s.name, s.keys)
}

func isUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
