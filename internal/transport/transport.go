package transport

// Constants for default server configuration.
const (
	// DefaultServerAddr is the address dm-server listens on.
	DefaultServerAddr = ":8082"
	// DefaultServerURL is where dmctl looks for the server.
	DefaultServerURL = "http://localhost:8082"

	// APIPrefix is the path prefix of authenticated endpoints.
	APIPrefix = "/api"
	// InternalPrefix is the path prefix of account-service endpoints.
	InternalPrefix = "/internal"
	// RegistrationTokenHeader guards the internal endpoints.
	RegistrationTokenHeader = "X-Registration-Token"
)
