package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dsemenov/market/internal/models"
	"github.com/dsemenov/market/internal/session"
)

func TestSignup(t *testing.T) {
	env := newTestEnv(t)

	payload := map[string]string{
		"email":    "Test@Example.COM",
		"name":     "Test User",
		"password": "password",
	}
	rec, c := env.doJSONRequest(t, http.MethodPost, "/signup", payload)
	require.NoError(t, env.Auth.Signup(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var user models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	require.Equal(t, "test@example.com", user.Email)
	require.Equal(t, []string{models.PermUser}, []string(user.Permissions))
	require.NotEmpty(t, user.ID)

	// Session cookie is set on signup.
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, session.CookieName, cookies[0].Name)
	userID, err := env.Sessions.Verify(cookies[0].Value)
	require.NoError(t, err)
	require.Equal(t, user.ID, userID)

	// Duplicate signup is rejected.
	recDup, cDup := env.doJSONRequest(t, http.MethodPost, "/signup", payload)
	err = env.Auth.Signup(cDup)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusConflict, he.Code)
	_ = recDup
}

func TestSignupConcurrentDuplicate(t *testing.T) {
	env := newTestEnv(t)

	// A rival signup lands between the existence check and the insert. The
	// unique index on email decides; the loser gets a conflict, not a 500.
	raced := false
	require.NoError(t, env.DB.Callback().Create().Before("gorm:create").Register("rival_signup", func(tx *gorm.DB) {
		if raced {
			return
		}
		if _, ok := tx.Statement.Dest.(*models.User); !ok {
			return
		}
		raced = true
		rival := models.User{Email: "race@example.com", PasswordHash: "x"}
		if err := env.DB.Create(&rival).Error; err != nil {
			t.Errorf("rival create failed: %v", err)
		}
	}))
	defer env.DB.Callback().Create().Remove("rival_signup")

	_, c := env.doJSONRequest(t, http.MethodPost, "/signup", map[string]string{
		"email":    "race@example.com",
		"password": "password",
	})
	err := env.Auth.Signup(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusConflict, he.Code)

	var count int64
	require.NoError(t, env.DB.Model(&models.User{}).Where("email = ?", "race@example.com").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestSignIn(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "test@example.com")

	rec, c := env.doJSONRequest(t, http.MethodPost, "/signin", map[string]string{
		"email":    "test@example.com",
		"password": "password",
	})
	require.NoError(t, env.Auth.SignIn(c))
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	userID, err := env.Sessions.Verify(cookies[0].Value)
	require.NoError(t, err)
	require.Equal(t, user.ID, userID)

	_, cBad := env.doJSONRequest(t, http.MethodPost, "/signin", map[string]string{
		"email":    "test@example.com",
		"password": "wrong",
	})
	err = env.Auth.SignIn(cBad)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestSignOut(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "test@example.com")

	rec, c := env.doJSONRequest(t, http.MethodPost, "/signout", nil, env.sessionCookie(t, user.ID))
	require.NoError(t, env.Auth.SignOut(c))
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, session.CookieName, cookies[0].Name)
	require.Empty(t, cookies[0].Value)
	require.Negative(t, cookies[0].MaxAge)
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "test@example.com")

	rec, c := env.doJSONRequest(t, http.MethodGet, "/me", nil, env.sessionCookie(t, user.ID))
	require.NoError(t, env.User.Me(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, user.ID, got.ID)

	// No session: null, not an error.
	recAnon, cAnon := env.doJSONRequest(t, http.MethodGet, "/me", nil)
	require.NoError(t, env.User.Me(cAnon))
	require.Equal(t, http.StatusOK, recAnon.Code)
	require.Equal(t, "null\n", recAnon.Body.String())
}

func TestResetPasswordHandler(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "test@example.com")

	// Mismatched confirmation fails before any token logic.
	_, cBad := env.doJSONRequest(t, http.MethodPost, "/password/reset", map[string]string{
		"resetToken":      "whatever",
		"password":        "new-password",
		"confirmPassword": "different",
	})
	err := env.Auth.ResetPassword(cBad)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusBadRequest, he.Code)

	// Full round trip: request a token, then consume it.
	recReq, cReq := env.doJSONRequest(t, http.MethodPost, "/password/request-reset", map[string]string{
		"email": "test@example.com",
	})
	require.NoError(t, env.Auth.RequestReset(cReq))
	require.Equal(t, http.StatusOK, recReq.Code)

	var stored models.User
	require.NoError(t, env.DB.Where("email = ?", "test@example.com").First(&stored).Error)
	require.NotNil(t, stored.ResetToken)

	rec, c := env.doJSONRequest(t, http.MethodPost, "/password/reset", map[string]string{
		"resetToken":      *stored.ResetToken,
		"password":        "new-password",
		"confirmPassword": "new-password",
	})
	require.NoError(t, env.Auth.ResetPassword(c))
	require.Equal(t, http.StatusOK, rec.Code)

	// A fresh session is issued with the new password in place.
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.NotEmpty(t, cookies[0].Value)
}

func TestUpdatePermissions(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "admin@example.com", models.PermAdmin)
	target := env.seedUser(t, "user@example.com")
	plain := env.seedUser(t, "plain@example.com")

	// A plain user is denied.
	_, cDenied := env.doJSONRequest(t, http.MethodPatch, "/users/1/permissions",
		map[string]any{"permissions": []string{models.PermAdmin}},
		env.sessionCookie(t, plain.ID))
	cDenied.SetParamNames("id")
	cDenied.SetParamValues("1")
	err := env.User.UpdatePermissions(cDenied)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusForbidden, he.Code)

	// An admin can grant.
	rec, c := env.doJSONRequest(t, http.MethodPatch, "/users/2/permissions",
		map[string]any{"permissions": []string{models.PermUser, models.PermItemDelete}},
		env.sessionCookie(t, admin.ID))
	c.SetParamNames("id")
	c.SetParamValues("2")
	require.NoError(t, env.User.UpdatePermissions(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var updated models.User
	require.NoError(t, env.DB.First(&updated, target.ID).Error)
	require.Equal(t, []string{models.PermUser, models.PermItemDelete}, []string(updated.Permissions))

	// Unknown permission names are rejected.
	_, cBad := env.doJSONRequest(t, http.MethodPatch, "/users/2/permissions",
		map[string]any{"permissions": []string{"SUPERUSER"}},
		env.sessionCookie(t, admin.ID))
	cBad.SetParamNames("id")
	cBad.SetParamValues("2")
	err = env.User.UpdatePermissions(cBad)
	he, ok = err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusBadRequest, he.Code)
}
