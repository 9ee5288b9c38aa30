package controllers

import (
	"github.com/gin-gonic/gin"

	"playmate-chat/middlewares"
	"playmate-chat/ws"
)

// WSController upgrades to the realtime gateway. Authentication has already
// run, so a bad token gets a 401 before any upgrade.
func WSController(hub *ws.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		hub.Serve(c.Writer, c.Request, middlewares.UserID(c))
	}
}
