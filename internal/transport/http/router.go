package httpserver

import (
	"github.com/labstack/echo/v4"

	"github.com/dsemenov/market/internal/handlers"
)

type Deps struct {
	AuthHandler     *handlers.AuthHandler
	UserHandler     *handlers.UserHandler
	ItemHandler     *handlers.ItemHandler
	CartHandler     *handlers.CartHandler
	CheckoutHandler *handlers.CheckoutHandler
	SearchHandler   *handlers.SearchHandler
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	v1 := e.Group("/api/v1")

	v1.POST("/signup", d.AuthHandler.Signup)
	v1.POST("/signin", d.AuthHandler.SignIn)
	v1.POST("/signout", d.AuthHandler.SignOut)
	v1.POST("/password/request-reset", d.AuthHandler.RequestReset)
	v1.POST("/password/reset", d.AuthHandler.ResetPassword)

	v1.GET("/me", d.UserHandler.Me)
	v1.GET("/users", d.UserHandler.Users)
	v1.PATCH("/users/:id/permissions", d.UserHandler.UpdatePermissions)

	items := v1.Group("/items")
	items.GET("", d.ItemHandler.GetItems)
	items.GET("/:id", d.ItemHandler.GetItem)
	items.POST("", d.ItemHandler.CreateItem)
	items.PATCH("/:id", d.ItemHandler.PatchItem)
	items.DELETE("/:id", d.ItemHandler.DeleteItem)

	if d.SearchHandler != nil {
		v1.GET("/search", d.SearchHandler.Search)
	}

	cart := v1.Group("/cart")
	cart.GET("", d.CartHandler.GetCart)
	cart.POST("", d.CartHandler.AddToCart)
	cart.DELETE("/:id", d.CartHandler.RemoveFromCart)

	v1.POST("/checkout", d.CheckoutHandler.Checkout)
	v1.GET("/orders", d.CheckoutHandler.Orders)
	v1.GET("/orders/:id", d.CheckoutHandler.Order)

	admin := v1.Group("/admin")
	admin.GET("/reconciliations", d.CheckoutHandler.PendingReconciliations)
	admin.POST("/reconciliations/:chargeID", d.CheckoutHandler.Reconcile)
}
