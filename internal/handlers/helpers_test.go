package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/dsemenov/market/internal/cartstore"
	"github.com/dsemenov/market/internal/checkout"
	"github.com/dsemenov/market/internal/hash"
	"github.com/dsemenov/market/internal/mailer"
	"github.com/dsemenov/market/internal/models"
	"github.com/dsemenov/market/internal/payment"
	"github.com/dsemenov/market/internal/reset"
	"github.com/dsemenov/market/internal/session"
)

type fakeGateway struct {
	chargeCalls int
	lastAmount  int64
}

func (g *fakeGateway) Charge(ctx context.Context, amount int64, currency, source, idempotencyKey string) (*payment.Charge, error) {
	g.chargeCalls++
	g.lastAmount = amount
	return &payment.Charge{ChargeID: "ch_test", Amount: amount, Status: payment.StatusSucceeded}, nil
}

func (g *fakeGateway) Status(ctx context.Context, idempotencyKey string) (*payment.Charge, error) {
	return &payment.Charge{Status: payment.StatusNotFound}, nil
}

type testEnv struct {
	E        *echo.Echo
	DB       *gorm.DB
	Sessions *session.Manager
	Gateway  *fakeGateway

	Auth     *AuthHandler
	User     *UserHandler
	Item     *ItemHandler
	Cart     *CartHandler
	Checkout *CheckoutHandler
}

func newTestEnv(t *testing.T) *testEnv {
	// A file-backed database keeps every pooled connection on the same
	// tables; a :memory: DSN capped at one connection deadlocks tests whose
	// callbacks open a second transaction mid-create.
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to connect to test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Item{}, &models.CartItem{},
		&models.Order{}, &models.OrderLineItem{}, &models.PendingReconciliation{},
	); err != nil {
		t.Fatalf("failed to migrate tables: %v", err)
	}

	sessions := session.NewManager([]byte("test-secret"))
	cart := cartstore.New(db)
	gw := &fakeGateway{}

	orchestrator := &checkout.Orchestrator{DB: db, Cart: cart, Gateway: gw, Currency: "USD"}
	resetFlow := &reset.Flow{DB: db, Mailer: &mailer.Nop{}, AppURL: "https://shop.example"}

	return &testEnv{
		E:        echo.New(),
		DB:       db,
		Sessions: sessions,
		Gateway:  gw,
		Auth:     &AuthHandler{DB: db, Sessions: sessions, Reset: resetFlow},
		User:     &UserHandler{DB: db, Sessions: sessions},
		Item:     &ItemHandler{DB: db, Sessions: sessions},
		Cart:     &CartHandler{DB: db, Cart: cart, Sessions: sessions},
		Checkout: &CheckoutHandler{DB: db, Orchestrator: orchestrator, Sessions: sessions},
	}
}

func (env *testEnv) seedUser(t *testing.T, email string, perms ...string) models.User {
	pwHash, err := hash.HashPassword("password")
	require.NoError(t, err)
	if len(perms) == 0 {
		perms = []string{models.PermUser}
	}
	user := models.User{
		Email:        email,
		PasswordHash: pwHash,
		Permissions:  datatypes.NewJSONSlice(perms),
	}
	require.NoError(t, env.DB.Create(&user).Error)
	return user
}

func (env *testEnv) sessionCookie(t *testing.T, userID uint) *http.Cookie {
	token, exp, err := env.Sessions.Issue(userID)
	require.NoError(t, err)
	return session.CreateCookie(token, exp)
}

func (env *testEnv) doJSONRequest(t *testing.T, method, path string, body any, cookies ...*http.Cookie) (*httptest.ResponseRecorder, echo.Context) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	c := env.E.NewContext(req, rec)
	return rec, c
}
