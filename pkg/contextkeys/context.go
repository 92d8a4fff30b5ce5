package contextkeys

type contextKey string

// DBContextKey stores the request's *gorm.DB, either the pool or a
// transaction opened by a caller (tests wrap requests this way).
const DBContextKey = contextKey("db")
