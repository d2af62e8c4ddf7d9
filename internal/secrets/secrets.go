// Package secrets reads bot credentials from AWS SSM Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Parameter names under the configured prefix.
const (
	TelegramTokenParam = "telegram-token"
	APIKeyParam        = "api-key"
)

// ssmAPI is the subset of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter resolves one named secret.
type Getter interface {
	Get(ctx context.Context, name string) (string, error)
}

// ParamStore reads SecureString parameters at "{prefix}/{name}".
type ParamStore struct {
	api    ssmAPI
	prefix string
}

func New(api ssmAPI, prefix string) (*ParamStore, error) {
	if api == nil {
		return nil, errors.New("secrets: ssm api must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("secrets: prefix is required")
	}
	return &ParamStore{api: api, prefix: prefix}, nil
}

// NewFromEnvironment builds a ParamStore with the default AWS credential
// chain and region resolution.
func NewFromEnvironment(ctx context.Context, prefix string) (*ParamStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}
	return New(ssm.NewFromConfig(cfg), prefix)
}

func (p *ParamStore) Get(ctx context.Context, name string) (string, error) {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return "", errors.New("secrets: name is required")
	}
	full := p.prefix + "/" + name
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(full),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get parameter %q: %w", full, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %q has no value", full)
	}
	return strings.TrimSpace(*out.Parameter.Value), nil
}
