package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"echochat/internal/domain"
	"echochat/internal/integrations/sagemaker"
)

type mockVerifier struct {
	ident domain.Identity
	err   error
	token string
	calls int
}

func (m *mockVerifier) VerifyIDToken(_ context.Context, token string) (domain.Identity, error) {
	m.calls++
	m.token = token
	return m.ident, m.err
}

type mockInference struct {
	reply  string
	err    error
	calls  int
	prompt string
	params map[string]any
}

func (m *mockInference) Invoke(_ context.Context, prompt string, params map[string]any, _ string) (string, error) {
	m.calls++
	m.prompt = prompt
	m.params = params
	return m.reply, m.err
}

type mockStore struct {
	saved []domain.ChatMessage
	errAt map[int]error
}

func (m *mockStore) AppendMessage(_ context.Context, msg domain.ChatMessage) (string, error) {
	n := len(m.saved)
	if err := m.errAt[n]; err != nil {
		return "", err
	}
	m.saved = append(m.saved, msg)
	return []string{"msg-user", "msg-reply"}[n], nil
}

type fixture struct {
	verifier  *mockVerifier
	inference *mockInference
	store     *mockStore
	svc       *ChatService
}

func newFixture(t *testing.T, opts ...ChatOption) *fixture {
	t.Helper()
	f := &fixture{
		verifier:  &mockVerifier{ident: domain.Identity{Subject: "uid-1"}},
		inference: &mockInference{reply: "Hi there"},
		store:     &mockStore{},
	}
	svc, err := NewChatService(f.verifier, f.inference, f.store, opts...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func expectChatError(t *testing.T, err error, code ErrorCode, reason, detail string) *Error {
	t.Helper()
	require.Error(t, err)
	var ucErr *Error
	require.True(t, errors.As(err, &ucErr))
	require.Equal(t, code, ucErr.Code)
	require.Equal(t, reason, ucErr.Reason)
	require.Equal(t, detail, ucErr.Detail)
	return ucErr
}

func TestNewChatService_ValidatesDependencies(t *testing.T) {
	_, err := NewChatService(nil, &mockInference{}, &mockStore{})
	require.Error(t, err)
	_, err = NewChatService(&mockVerifier{}, nil, &mockStore{})
	require.Error(t, err)
	_, err = NewChatService(&mockVerifier{}, &mockInference{}, nil)
	require.Error(t, err)
}

func TestChat_HappyPath(t *testing.T) {
	params := map[string]any{"max_new_tokens": 64}
	f := newFixture(t, WithInferenceParameters(params))

	out, err := f.svc.Chat(context.Background(), ChatInput{Authorization: "Bearer tok-1", Text: "  Hello  "})
	require.NoError(t, err)
	require.Equal(t, ChatOutput{Reply: "Hi there", UserMessageID: "msg-user", ReplyMessageID: "msg-reply"}, out)

	require.Equal(t, "tok-1", f.verifier.token)
	require.Equal(t, "Hello", f.inference.prompt)
	require.Equal(t, params, f.inference.params)

	require.Len(t, f.store.saved, 2)
	user, reply := f.store.saved[0], f.store.saved[1]
	require.Equal(t, domain.ChatMessage{Subject: "uid-1", Role: domain.RoleUser, Text: "Hello", Source: SourceClient}, user)
	require.Equal(t, domain.ChatMessage{Subject: "uid-1", Role: domain.RoleAssistant, Text: "Hi there", ReplyTo: "msg-user", Source: SourceEchoChat}, reply)
}

func TestChat_MissingAuthorization(t *testing.T) {
	for _, header := range []string{"", "Bearer", "Bearer   ", "Basic abc", "tok-1"} {
		t.Run(header, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Chat(context.Background(), ChatInput{Authorization: header, Text: "Hello"})
			expectChatError(t, err, ErrorAuthMissing, "missing_bearer", "Missing Authorization: Bearer <token>")
			require.Zero(t, f.verifier.calls)
			require.Zero(t, f.inference.calls)
			require.Empty(t, f.store.saved)
		})
	}
}

func TestChat_BearerSchemeCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Chat(context.Background(), ChatInput{Authorization: "bEaReR tok-2", Text: "Hello"})
	require.NoError(t, err)
	require.Equal(t, "tok-2", f.verifier.token)
}

func TestChat_InvalidToken(t *testing.T) {
	f := newFixture(t)
	f.verifier.err = errors.New("token expired")

	_, err := f.svc.Chat(context.Background(), ChatInput{Authorization: "Bearer tok-1", Text: "Hello"})
	expectChatError(t, err, ErrorAuthInvalid, "token_rejected", "Invalid Firebase ID token")
	require.Zero(t, f.inference.calls)
	require.Empty(t, f.store.saved)
}

func TestChat_TokenMissingSubject(t *testing.T) {
	f := newFixture(t)
	f.verifier.ident = domain.Identity{}

	_, err := f.svc.Chat(context.Background(), ChatInput{Authorization: "Bearer tok-1", Text: "Hello"})
	expectChatError(t, err, ErrorAuthInvalid, "missing_subject", "Token missing uid")
	require.Empty(t, f.store.saved)
}

func TestChat_EmptyText(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Chat(context.Background(), ChatInput{Authorization: "Bearer tok-1", Text: " \t\n "})
	expectChatError(t, err, ErrorInvalidInput, "empty_text", "text required")
	require.Zero(t, f.inference.calls)
	require.Empty(t, f.store.saved)
}

func TestChat_TextTooLong(t *testing.T) {
	f := newFixture(t, WithMaxTextLength(5))

	_, err := f.svc.Chat(context.Background(), ChatInput{Authorization: "Bearer tok-1", Text: "héllo"})
	require.NoError(t, err)

	_, err = f.svc.Chat(context.Background(), ChatInput{Authorization: "Bearer tok-1", Text: strings.Repeat("x", 6)})
	expectChatError(t, err, ErrorInvalidInput, "text_too_long", "text too long")
}

func TestChat_InferenceFailureKeepsUserMessage(t *testing.T) {
	f := newFixture(t)
	f.inference.err = &sagemaker.InferenceError{Message: "SageMaker invoke failed: Endpoint x not found", Err: errors.New("raw")}

	_, err := f.svc.Chat(context.Background(), ChatInput{Authorization: "Bearer tok-1", Text: "Hello"})
	ucErr := expectChatError(t, err, ErrorUpstream, "inference_error", "SageMaker invoke failed: Endpoint x not found")
	require.ErrorContains(t, ucErr.Err, "Endpoint x not found")

	require.Len(t, f.store.saved, 1)
	require.Equal(t, domain.RoleUser, f.store.saved[0].Role)
}

func TestChat_InferenceNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.inference.err = &sagemaker.ConfigurationError{Setting: sagemaker.EnvEndpointName}

	_, err := f.svc.Chat(context.Background(), ChatInput{Authorization: "Bearer tok-1", Text: "Hello"})
	expectChatError(t, err, ErrorConfiguration, "inference_config_error", "inference endpoint not configured")
	require.Len(t, f.store.saved, 1)
}

func TestChat_UnexpectedInferenceError(t *testing.T) {
	f := newFixture(t)
	f.inference.err = errors.New("context deadline exceeded")

	_, err := f.svc.Chat(context.Background(), ChatInput{Authorization: "Bearer tok-1", Text: "Hello"})
	expectChatError(t, err, ErrorUpstream, "inference_error", "context deadline exceeded")
}

func TestChat_StoreUserMessageFails(t *testing.T) {
	f := newFixture(t)
	f.store.errAt = map[int]error{0: errors.New("throttled")}

	_, err := f.svc.Chat(context.Background(), ChatInput{Authorization: "Bearer tok-1", Text: "Hello"})
	expectChatError(t, err, ErrorInternal, "store_message_error", "failed to store message")
	require.Zero(t, f.inference.calls)
}

func TestChat_StoreReplyFails(t *testing.T) {
	f := newFixture(t)
	f.store.errAt = map[int]error{1: errors.New("throttled")}

	_, err := f.svc.Chat(context.Background(), ChatInput{Authorization: "Bearer tok-1", Text: "Hello"})
	expectChatError(t, err, ErrorInternal, "store_reply_error", "failed to store reply")
	require.Equal(t, 1, f.inference.calls)
	require.Len(t, f.store.saved, 1)
}

func TestExtractBearer(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{header: "Bearer abc", token: "abc", ok: true},
		{header: "  bearer   abc  ", token: "abc", ok: true},
		{header: "BEARER abc.def.ghi", token: "abc.def.ghi", ok: true},
		{header: "Bearer", ok: false},
		{header: "Token abc", ok: false},
		{header: "", ok: false},
	}
	for _, tc := range cases {
		token, ok := extractBearer(tc.header)
		require.Equal(t, tc.ok, ok, tc.header)
		require.Equal(t, tc.token, token, tc.header)
	}
}
