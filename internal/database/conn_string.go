package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/oi-gatherer/internal/config"
)

// ApplicationName is reported to the server in pg_stat_activity.
const ApplicationName = "oi-gatherer"

// BuildConnString builds a PostgreSQL connection URL from config.
// Credentials are escaped so any character is allowed.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Name,
		RawQuery: url.Values{
			"sslmode":          {sslMode},
			"application_name": {ApplicationName},
		}.Encode(),
	}
	return u.String()
}
