package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatedesk.io/dashboard/internal/domain"
	apperrors "estatedesk.io/dashboard/internal/pkg/errors"
	"estatedesk.io/dashboard/internal/pkg/validator"
)

func newUserService() *UserService {
	return NewUserService(validator.New())
}

func validNewUser(role domain.Role) domain.NewUser {
	return domain.NewUser{
		Username: "jdoe",
		Email:    "jdoe@example.com",
		Password: "s3cret-pass",
		Role:     role,
	}
}

func requireAccessDenied(t *testing.T, err error, msg string) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok, "want AppError, got %T", err)
	assert.Equal(t, apperrors.CodeAccessDenied, appErr.Code)
	if msg != "" {
		assert.Equal(t, msg, appErr.Message)
	}
}

func TestUsers_AgentIsDeniedEverything(t *testing.T) {
	crm := newFakeCRM(t)
	svc := newUserService()
	agent := crm.actor(domain.RoleAgent)
	ctx := context.Background()

	_, err := svc.List(ctx, agent)
	requireAccessDenied(t, err, "You are not authorized to view users. Please contact your administrator.")

	_, err = svc.Create(ctx, agent, domain.NewUser{})
	requireAccessDenied(t, err, "You are not authorized to add users. Please contact your administrator.")

	_, err = svc.Update(ctx, agent, 5, domain.UserUpdate{})
	requireAccessDenied(t, err, "You are not authorized to edit users. Please contact your administrator.")

	err = svc.Delete(ctx, agent, 5)
	requireAccessDenied(t, err, "You are not authorized to delete users. Please contact your administrator.")

	assert.Zero(t, crm.total())
}

func TestUsers_ManagerCannotCreateAdmin(t *testing.T) {
	crm := newFakeCRM(t)

	_, err := newUserService().Create(context.Background(), crm.actor(domain.RoleManager), validNewUser(domain.RoleAdmin))
	requireAccessDenied(t, err, "Only Admin users can create other Admin users.")
	assert.Zero(t, crm.total())
}

func TestUsers_CreateNormalizesRole(t *testing.T) {
	crm := newFakeCRM(t)
	var sent map[string]any
	crm.mux.HandleFunc("POST /users/users/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		writeJSON(w, http.StatusCreated, map[string]any{"id": 9, "username": "jdoe", "role": sent["role"]})
	})

	user, err := newUserService().Create(context.Background(), crm.actor(domain.RoleManager), validNewUser("manager"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), user.ID)
	assert.Equal(t, "MANAGER", sent["role"])
	assert.Equal(t, domain.RoleManager, user.Role)
}

func TestUsers_CreateValidatesBeforeCRM(t *testing.T) {
	crm := newFakeCRM(t)
	in := validNewUser(domain.RoleAgent)
	in.Email = "not-an-email"
	in.Password = "short"

	_, err := newUserService().Create(context.Background(), crm.actor(domain.RoleAdmin), in)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeValidationFailed, appErr.Code)
	fields := map[string]string{}
	for _, fe := range appErr.FieldErrors {
		fields[fe.Field] = fe.Code
	}
	assert.Equal(t, map[string]string{"email": "email", "password": "min"}, fields)
	assert.Zero(t, crm.total())
}

func TestUsers_CRMValidationReachesForm(t *testing.T) {
	crm := newFakeCRM(t)
	crm.handle("POST /users/users/", http.StatusBadRequest, map[string]any{
		"username":         []string{"A user with that username already exists."},
		"non_field_errors": []string{"Check the form."},
	})

	_, err := newUserService().Create(context.Background(), crm.actor(domain.RoleAdmin), validNewUser(domain.RoleAgent))
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeValidationFailed, appErr.Code)
	assert.Equal(t, []apperrors.FieldError{
		{Field: "username", Code: "rejected", Message: "A user with that username already exists."},
		{Field: "non_field_errors", Code: "rejected", Message: "Check the form."},
	}, appErr.FieldErrors)
}

func TestUsers_UpdateChecksExistingRole(t *testing.T) {
	crm := newFakeCRM(t)
	crm.handle("GET /users/users/1/", http.StatusOK, map[string]any{"id": 1, "username": "root", "role": "ADMIN"})
	crm.handle("GET /users/users/2/", http.StatusOK, map[string]any{"id": 2, "username": "amy", "role": "AGENT"})
	crm.mux.HandleFunc("PUT /users/users/2/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotContains(t, body, "username")
		writeJSON(w, http.StatusOK, map[string]any{"id": 2, "username": "amy", "role": body["role"]})
	})
	svc := newUserService()
	manager := crm.actor(domain.RoleManager)
	update := domain.UserUpdate{Email: "x@example.com", Role: domain.RoleAgent}

	_, err := svc.Update(context.Background(), manager, 1, update)
	requireAccessDenied(t, err, "Only Admin users can edit other Admin users.")
	assert.Zero(t, crm.count("PUT /users/users/1/"))

	promote := update
	promote.Role = domain.RoleAdmin
	_, err = svc.Update(context.Background(), manager, 2, promote)
	requireAccessDenied(t, err, "Only Admin users can create or promote users to Admin.")

	promote.Role = domain.RoleManager
	user, err := svc.Update(context.Background(), manager, 2, promote)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleManager, user.Role)
	assert.Equal(t, 1, crm.count("PUT /users/users/2/"))
}

func TestUsers_Delete(t *testing.T) {
	crm := newFakeCRM(t)
	crm.handle("GET /users/users/1/", http.StatusOK, map[string]any{"id": 1, "username": "root", "role": "ADMIN"})
	crm.handle("GET /users/users/2/", http.StatusOK, map[string]any{"id": 2, "username": "amy", "role": "AGENT"})
	crm.handle("DELETE /users/users/1/", http.StatusNoContent, nil)
	crm.handle("DELETE /users/users/2/", http.StatusNoContent, nil)
	svc := newUserService()

	requireAccessDenied(t, svc.Delete(context.Background(), crm.actor(domain.RoleManager), 1), "")
	assert.Zero(t, crm.count("DELETE /users/users/1/"))

	require.NoError(t, svc.Delete(context.Background(), crm.actor(domain.RoleManager), 2))
	require.NoError(t, svc.Delete(context.Background(), crm.actor(domain.RoleAdmin), 1))
}

func TestUsers_MissingAccount(t *testing.T) {
	crm := newFakeCRM(t)
	crm.handle("GET /users/users/7/", http.StatusNotFound, map[string]string{"detail": "Not found."})

	err := newUserService().Delete(context.Background(), crm.actor(domain.RoleAdmin), 7)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeCRMNotFound, appErr.Code)
	assert.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
}

func TestUsers_UnknownRoleIsDenied(t *testing.T) {
	crm := newFakeCRM(t)
	_, err := newUserService().List(context.Background(), crm.actor("SUPERUSER"))
	requireAccessDenied(t, err, "Your account has no recognised role. Please contact your administrator.")
	assert.Zero(t, crm.total())
}
