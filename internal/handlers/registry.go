package handlers

// AppHandlers holds every HTTP handler of the application.
type AppHandlers struct {
	ChatHandler     *ChatHandler
	PresenceHandler *PresenceHandler
	HealthHandler   *HealthHandler
}
