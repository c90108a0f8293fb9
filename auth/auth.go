// Package auth exposes the authenticated actor to the engines and wraps the
// Supabase GoTrue session flow.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/supabase-community/gotrue-go/types"
	supa "github.com/supabase-community/supabase-go"

	"videothingy/client-engine/models"
)

// SessionProvider exposes the signed-in actor. Implementations return a
// *models.AuthError when no session is active.
type SessionProvider interface {
	CurrentUserID() (string, error)
}

// UserProfile mirrors a row of the users table.
type UserProfile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Bio       *string   `json:"bio,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

const usersTable = "users"

// Supabase implements SessionProvider over the GoTrue auth API, holding the
// current session as explicit instance state.
type Supabase struct {
	client *supa.Client
	logger *logrus.Logger

	mu      sync.Mutex
	session *types.Session
}

// NewSupabase wraps an initialized Supabase client.
func NewSupabase(client *supa.Client, logger *logrus.Logger) *Supabase {
	return &Supabase{client: client, logger: logger}
}

// SignIn authenticates with email and password and installs the session.
func (a *Supabase) SignIn(email, password string) error {
	session, err := a.client.SignInWithEmailPassword(email, password)
	if err != nil {
		a.logger.WithError(err).WithField("email", email).Warn("sign-in failed")
		return &models.AuthError{Reason: "sign-in failed: " + err.Error()}
	}

	a.mu.Lock()
	a.session = &session
	a.mu.Unlock()
	a.client.UpdateAuthSession(session)

	a.logger.WithField("user_id", session.User.ID.String()).Info("user signed in")
	return nil
}

// SignUp creates an account, stores the profile row, and signs the new user
// in. A profile-row failure leaves the account usable; the profile can be
// completed later.
func (a *Supabase) SignUp(email, password, username string) error {
	if email == "" || password == "" || username == "" {
		return &models.ValidationError{Reason: "all fields are required"}
	}
	if len(password) < 6 {
		return &models.ValidationError{Field: "password", Reason: "must be at least 6 characters"}
	}

	resp, err := a.client.Auth.Signup(types.SignupRequest{
		Email:    email,
		Password: password,
		Data:     map[string]interface{}{"username": username},
	})
	if err != nil {
		a.logger.WithError(err).WithField("email", email).Warn("sign-up failed")
		return &models.AuthError{Reason: "sign-up failed: " + err.Error()}
	}

	profile := map[string]interface{}{
		"id":       resp.ID.String(),
		"username": username,
		"email":    email,
	}
	if _, _, err := a.client.From(usersTable).Insert(profile, false, "", "", "").Execute(); err != nil {
		a.logger.WithError(err).WithField("user_id", resp.ID.String()).
			Warn("account created but profile row insert failed")
	}

	return a.SignIn(email, password)
}

// SignOut drops the local session. The server-side token revocation is best
// effort.
func (a *Supabase) SignOut() {
	a.mu.Lock()
	active := a.session != nil
	a.session = nil
	a.mu.Unlock()

	if !active {
		return
	}
	if err := a.client.Auth.Logout(); err != nil {
		a.logger.WithError(err).Warn("sign-out token revocation failed")
	}
	a.logger.Info("user signed out")
}

// CurrentUserID returns the signed-in user's id.
func (a *Supabase) CurrentUserID() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return "", &models.AuthError{Reason: "no active session"}
	}
	return a.session.User.ID.String(), nil
}

// Profile fetches the signed-in user's profile row.
func (a *Supabase) Profile(ctx context.Context) (*UserProfile, error) {
	userID, err := a.CurrentUserID()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var profile UserProfile
	_, err = a.client.From(usersTable).
		Select("*", "", false).
		Eq("id", userID).
		Single().
		ExecuteTo(&profile)
	if err != nil {
		return nil, models.ErrRecordNotFound
	}
	return &profile, nil
}
