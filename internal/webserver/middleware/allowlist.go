package middleware

import (
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/rekbox/internal/webserver/weberror"
	"github.com/pkg/errors"
)

// AllowCIDRs rejects the requests whose source address is outside of the given networks.
// An empty list rejects everything.
func AllowCIDRs(cidrs []string) (echo.MiddlewareFunc, error) {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid CIDR %s", cidr)
		}
		networks = append(networks, network)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
			if err != nil {
				host = c.Request().RemoteAddr
			}

			ip := net.ParseIP(host)
			for _, network := range networks {
				if ip != nil && network.Contains(ip) {
					return next(c)
				}
			}
			return weberror.NewWithReason(http.StatusForbidden, "AccessDenied", "source address not allowed")
		}
	}, nil
}
