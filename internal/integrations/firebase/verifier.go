// Package firebase verifies Firebase ID tokens with the Firebase Admin SDK.
package firebase

import (
	"context"
	"strings"

	fb "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"echochat/internal/domain"
)

// authAPI is the slice of *auth.Client we use.
type authAPI interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// Verifier checks Firebase ID tokens for a single project.
type Verifier struct {
	api authAPI
}

// NewVerifier builds an Admin SDK auth client for projectID. ID token checks
// only need Google's public signing keys, so no service account is required.
// Keys are fetched on the first verification and cached by the SDK.
func NewVerifier(ctx context.Context, projectID string, opts ...option.ClientOption) (*Verifier, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("firebase: project id must not be empty")
	}
	opts = append([]option.ClientOption{option.WithoutAuthentication()}, opts...)
	app, err := fb.NewApp(ctx, &fb.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "firebase: create app")
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "firebase: create auth client")
	}
	return newVerifier(client)
}

func newVerifier(api authAPI) (*Verifier, error) {
	if api == nil {
		return nil, errors.New("firebase: auth client must not be nil")
	}
	return &Verifier{api: api}, nil
}

// VerifyIDToken validates signature, issuer, audience and timestamps. A token
// without a subject is returned as-is; the caller decides what that means.
func (v *Verifier) VerifyIDToken(ctx context.Context, token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, errors.New("firebase: token is empty")
	}
	tok, err := v.api.VerifyIDToken(ctx, token)
	if err != nil {
		return domain.Identity{}, errors.Wrap(err, "firebase: verify ID token")
	}
	if tok == nil {
		return domain.Identity{}, errors.New("firebase: verify ID token: no token returned")
	}
	email, _ := tok.Claims["email"].(string)
	return domain.Identity{Subject: tok.UID, Email: email}, nil
}
