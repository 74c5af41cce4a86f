package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut  *ssm.GetParameterOutput
	getErr  error
	lastIn  *ssm.GetParameterInput
	callCnt int
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	f.callCnt++
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestLookup_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("/echochat/config/sagemaker_endpoint"), Value: strPtr("flan-t5-sft"),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, found, err := client.Lookup(context.Background(), " /echochat/config/sagemaker_endpoint ")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "flan-t5-sft", v)
	require.Equal(t, "/echochat/config/sagemaker_endpoint", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestLookup_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, _, err = client.Lookup(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestLookup_NotFoundIsNotAnError(t *testing.T) {
	api := &fakeAPI{getErr: &types.ParameterNotFound{Message: strPtr("nope")}}
	client, err := New(api)
	require.NoError(t, err)
	v, found, err := client.Lookup(context.Background(), "p")
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, v)
}

func TestLookup_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api)
	require.NoError(t, err)
	_, found, err := client.Lookup(context.Background(), "p")
	require.Error(t, err)
	require.False(t, found)
	require.ErrorContains(t, err, "boom")
}

func TestLookup_ClientNotInitialized(t *testing.T) {
	_, _, err := (&Client{}).Lookup(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestLookup_EmptyName(t *testing.T) {
	api := &fakeAPI{}
	client, err := New(api)
	require.NoError(t, err)
	_, _, err = client.Lookup(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
	require.Zero(t, api.callCnt)
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}
