package services

// ServiceContainer holds every service the HTTP and realtime layers use.
type ServiceContainer struct {
	ChatService   ChatService
	UploadService UploadService
}
