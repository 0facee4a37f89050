package httpapi

// Config controls the HTTP façade.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}
