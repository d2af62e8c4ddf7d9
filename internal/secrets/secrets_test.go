package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	gotName    string
	gotDecrypt bool
	out        *ssm.GetParameterOutput
	err        error
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.gotName = *in.Name
	f.gotDecrypt = in.WithDecryption != nil && *in.WithDecryption
	return f.out, f.err
}

func strPtr(s string) *string { return &s }

func TestGet_JoinsPrefixAndDecrypts(t *testing.T) {
	api := &fakeSSM{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: strPtr(" 123:abc \n")}}}
	store, err := New(api, "/longrelay/prod/")
	require.NoError(t, err)

	v, err := store.Get(context.Background(), TelegramTokenParam)
	require.NoError(t, err)
	require.Equal(t, "123:abc", v)
	require.Equal(t, "/longrelay/prod/telegram-token", api.gotName)
	require.True(t, api.gotDecrypt)
}

func TestGet_MissingValue(t *testing.T) {
	api := &fakeSSM{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{}}}
	store, err := New(api, "/p")
	require.NoError(t, err)

	_, err = store.Get(context.Background(), APIKeyParam)
	require.ErrorContains(t, err, "no value")
}

func TestGet_APIError(t *testing.T) {
	api := &fakeSSM{err: errors.New("AccessDeniedException")}
	store, err := New(api, "/p")
	require.NoError(t, err)

	_, err = store.Get(context.Background(), APIKeyParam)
	require.ErrorContains(t, err, "AccessDeniedException")
	require.ErrorContains(t, err, "/p/api-key")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "/p")
	require.Error(t, err)
	_, err = New(&fakeSSM{}, "  ")
	require.Error(t, err)

	store, err := New(&fakeSSM{}, "/p")
	require.NoError(t, err)
	_, err = store.Get(context.Background(), " ")
	require.ErrorContains(t, err, "required")
}
