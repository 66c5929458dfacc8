package webserver

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/frontend"
	"github.com/mdouchement/rekbox/internal/identity"
	"github.com/mdouchement/rekbox/internal/policy"
	"github.com/mdouchement/rekbox/internal/service"
	"github.com/mdouchement/rekbox/internal/storage"
	middlewarepkg "github.com/mdouchement/rekbox/internal/webserver/middleware"
	"github.com/pkg/errors"
)

// A Controller is an Iversion Of Control pattern used to init the server package.
type Controller struct {
	Version  string
	Logger   logger.Logger
	Database database.Client
	Storage  storage.Backend
	Frontend *frontend.Function
	Verifier identity.Verifier
	// Pool is the built-in user pool, nil when an external provider is used.
	Pool *identity.Pool
	// IdentityRole is the role assumed by the authenticated identities.
	IdentityRole *policy.Role
	Notifier     service.Notifier
	//
	SiteRole      *policy.Role
	WebsiteBucket string
	AllowedCIDRs  []string
}

// EchoEngine instantiates the wep server.
func EchoEngine(ctrl Controller) (*echo.Echo, error) {
	engine := echo.New()
	engine.Use(middleware.Recover())
	engine.Use(middleware.Gzip())
	engine.Use(middlewarepkg.Logger(ctrl.Logger))
	engine.Use(middlewarepkg.AllowOrigin())
	engine.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPut,
			http.MethodPatch,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
	}))

	engine.HTTPErrorHandler = middlewarepkg.NewHTTPErrorHandler(ctrl.Logger)

	engine.Pre(middleware.Rewrite(map[string]string{
		"/": "/version",
	}))

	//
	//
	//

	router := engine.Group("")
	authenticate := middlewarepkg.Authenticate(ctrl.Verifier)

	// Generic handlers
	//
	router.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"version": ctrl.Version,
		})
	})

	// Front-End API
	//
	images := images{
		logger:   ctrl.Logger,
		function: ctrl.Frontend,
	}
	params := middlewarepkg.RequireParams("action", "key")
	router.GET("/images", images.Handle, authenticate, params)
	router.DELETE("/images", images.Handle, authenticate, params)

	// Identity
	//
	if ctrl.Pool != nil {
		h := auth{
			logger: ctrl.Logger,
			pool:   ctrl.Pool,
		}
		router.POST("/auth/signup", h.SignUp)
		router.POST("/auth/confirm", h.Confirm)
		router.POST("/auth/resend", h.Resend)
		router.POST("/auth/signin", h.SignIn)
	}

	// Per-identity storage
	//
	objects := objects{
		logger:   ctrl.Logger,
		db:       ctrl.Database,
		storage:  ctrl.Storage,
		role:     ctrl.IdentityRole,
		notifier: ctrl.Notifier,
	}
	router.GET("/storage/:bucket", objects.List, authenticate)
	router.GET("/storage/:bucket/*", objects.Download, authenticate)
	router.PUT("/storage/:bucket/*", objects.Upload, authenticate)

	// Static site
	//
	allowlist, err := middlewarepkg.AllowCIDRs(ctrl.AllowedCIDRs)
	if err != nil {
		return nil, errors.Wrap(err, "site")
	}
	site := site{
		logger:    ctrl.Logger,
		db:        ctrl.Database,
		storage:   ctrl.Storage,
		principal: ctrl.SiteRole.Assume(""),
		bucket:    ctrl.WebsiteBucket,
	}
	router.GET("/site", site.Serve, allowlist)
	router.GET("/site/*", site.Serve, allowlist)

	return engine, nil
}

// PrintRoutes prints the Echo engin exposed routes.
func PrintRoutes(e *echo.Echo) {
	ignored := map[string]bool{
		"":   true,
		".":  true,
		"/*": true,
	}

	routes := e.Routes()
	sort.Slice(routes, func(i int, j int) bool {
		return routes[i].Path < routes[j].Path
	})

	fmt.Println("Routes:")
	for _, route := range routes {
		if ignored[route.Path] {
			continue
		}
		fmt.Printf("%6s %s\n", route.Method, route.Path)
	}
}
