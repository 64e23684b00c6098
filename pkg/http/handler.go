package http

import "github.com/labstack/echo/v4"

// Handler is implemented by anything that mounts routes on the admin
// server, such as the node status API.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}
