package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session-sync/core"
	"github.com/goliatone/go-session-sync/session"
)

type stubSessionService struct {
	loginFn           func(context.Context) (session.LoginResult, error)
	logoutFn          func(context.Context) error
	refreshIdentityFn func(context.Context) (core.Identity, error)
	acknowledgeFn     func(context.Context, string) error
	refreshes         int
}

func (s *stubSessionService) Login(ctx context.Context) (session.LoginResult, error) {
	if s.loginFn == nil {
		return session.LoginResult{}, nil
	}
	return s.loginFn(ctx)
}

func (s *stubSessionService) Logout(ctx context.Context) error {
	if s.logoutFn == nil {
		return nil
	}
	return s.logoutFn(ctx)
}

func (s *stubSessionService) RefreshIdentity(ctx context.Context) (core.Identity, error) {
	if s.refreshIdentityFn == nil {
		return core.Identity{}, nil
	}
	return s.refreshIdentityFn(ctx)
}

func (s *stubSessionService) AcknowledgeNotification(ctx context.Context, id string) error {
	if s.acknowledgeFn == nil {
		return nil
	}
	return s.acknowledgeFn(ctx, id)
}

func (s *stubSessionService) Refresh(context.Context) {
	s.refreshes++
}

var _ SessionService = (*stubSessionService)(nil)

func TestLoginCommand_StoresLoginResult(t *testing.T) {
	svc := &stubSessionService{
		loginFn: func(context.Context) (session.LoginResult, error) {
			return session.LoginResult{
				Identity: core.Identity{Email: "user@example.com"},
				Outcome:  session.LoginNewUser,
			}, nil
		},
	}
	collector := gocmd.NewResult[session.LoginResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := NewLoginCommand(svc).Execute(ctx, LoginMessage{}); err != nil {
		t.Fatalf("execute login: %v", err)
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected login result to be stored")
	}
	if result.Outcome != session.LoginNewUser || result.Identity.Email != "user@example.com" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestLoginCommand_PropagatesError(t *testing.T) {
	want := core.ProviderError(errors.New("popup closed"), "connect")
	svc := &stubSessionService{
		loginFn: func(context.Context) (session.LoginResult, error) {
			return session.LoginResult{}, want
		},
	}
	err := NewLoginCommand(svc).Execute(context.Background(), LoginMessage{})
	if !core.HasTextCode(err, core.ErrorProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestRefreshIdentityCommand_StoresIdentity(t *testing.T) {
	svc := &stubSessionService{
		refreshIdentityFn: func(context.Context) (core.Identity, error) {
			return core.Identity{Email: "new@example.com"}, nil
		},
	}
	collector := gocmd.NewResult[core.Identity]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := NewRefreshIdentityCommand(svc).Execute(ctx, RefreshIdentityMessage{}); err != nil {
		t.Fatalf("execute refresh identity: %v", err)
	}
	identity, ok := collector.Load()
	if !ok || identity.Email != "new@example.com" {
		t.Fatalf("unexpected stored identity %+v (stored=%v)", identity, ok)
	}
}

func TestAcknowledgeNotificationCommand_TrimsAndDelegates(t *testing.T) {
	var got string
	svc := &stubSessionService{
		acknowledgeFn: func(_ context.Context, id string) error {
			got = id
			return nil
		},
	}
	err := NewAcknowledgeNotificationCommand(svc).Execute(context.Background(), AcknowledgeNotificationMessage{NotificationID: " n-1 "})
	if err != nil {
		t.Fatalf("execute acknowledge: %v", err)
	}
	if got != "n-1" {
		t.Fatalf("expected trimmed id, got %q", got)
	}
}

func TestAcknowledgeNotificationMessage_ValidationEnvelope(t *testing.T) {
	called := false
	svc := &stubSessionService{
		acknowledgeFn: func(context.Context, string) error {
			called = true
			return nil
		},
	}
	err := NewAcknowledgeNotificationCommand(svc).Execute(context.Background(), AcknowledgeNotificationMessage{NotificationID: "  "})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if called {
		t.Fatalf("expected service not to be called")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.ErrorBadInput, rich.TextCode)
	}
	if len(rich.ValidationErrors) != 1 || rich.ValidationErrors[0].Field != "notification_id" {
		t.Fatalf("expected notification_id field error, got %+v", rich.ValidationErrors)
	}
}

func TestRefreshSyncCommand_RequestsRefresh(t *testing.T) {
	svc := &stubSessionService{}
	if err := NewRefreshSyncCommand(svc).Execute(context.Background(), RefreshSyncMessage{}); err != nil {
		t.Fatalf("execute refresh sync: %v", err)
	}
	if svc.refreshes != 1 {
		t.Fatalf("expected one refresh, got %d", svc.refreshes)
	}
}

func TestCommands_RequireService(t *testing.T) {
	checks := map[string]error{
		"login":       NewLoginCommand(nil).Execute(context.Background(), LoginMessage{}),
		"logout":      NewLogoutCommand(nil).Execute(context.Background(), LogoutMessage{}),
		"identity":    NewRefreshIdentityCommand(nil).Execute(context.Background(), RefreshIdentityMessage{}),
		"acknowledge": NewAcknowledgeNotificationCommand(nil).Execute(context.Background(), AcknowledgeNotificationMessage{NotificationID: "n"}),
		"refresh":     NewRefreshSyncCommand(nil).Execute(context.Background(), RefreshSyncMessage{}),
	}
	for name, err := range checks {
		if !core.HasTextCode(err, core.ErrorInternal) {
			t.Fatalf("%s: expected dependency error, got %v", name, err)
		}
	}
}

func TestMessageTypes(t *testing.T) {
	types := []string{
		LoginMessage{}.Type(),
		LogoutMessage{}.Type(),
		RefreshIdentityMessage{}.Type(),
		AcknowledgeNotificationMessage{}.Type(),
		RefreshSyncMessage{}.Type(),
	}
	seen := map[string]bool{}
	for _, typ := range types {
		if seen[typ] {
			t.Fatalf("duplicate message type %q", typ)
		}
		seen[typ] = true
	}
}
