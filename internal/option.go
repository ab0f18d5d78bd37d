package internal

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	openStores []string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithOpenStores lists store directories to open at startup.
func WithOpenStores(paths ...string) Option {
	return func(a *application) {
		a.openStores = append(a.openStores, paths...)
	}
}
