package database

import (
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ConstructDatabaseURL points baseURL at databaseName and defaults sslmode to
// disable. An empty name returns baseURL unchanged.
func ConstructDatabaseURL(baseURL, databaseName string) string {
	if databaseName == "" {
		return baseURL
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		log.WithError(err).Warn("Database URL is not a URL, using it as is")
		return baseURL
	}
	u.Path = "/" + strings.Trim(databaseName, "/")

	query := u.Query()
	if query.Get("sslmode") == "" {
		query.Set("sslmode", "disable")
	}
	u.RawQuery = query.Encode()
	return u.String()
}
