// @title           social_backend chat API
// @version         1.0
// @description     Direct and group chats with realtime delivery over websockets.
// @host            localhost:4000
// @BasePath        /api/v1
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 Type "Bearer" followed by a space and the JWT.

package main

import "social_backend/internal/app"

func main() {
	app.Run()
}
