package archive

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	// File is the path of the local sqlite database.
	File string `json:"file"`
	// Url of a remote libsql database (libsql:// or https://), takes
	// precedence over File.
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (config Config) remote() bool {
	return config.Url != ""
}

func (config Config) OpenDB() (*sql.DB, error) {
	if config.remote() {
		return config.openRemote()
	}
	if config.File == "" {
		return nil, fmt.Errorf("a path was not specified")
	}
	if config.File == ":memory:" {
		db, err := sql.Open("sqlite", ":memory:")
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		return db, nil
	}

	dir := filepath.Dir(config.File)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", config.File)
	if err != nil {
		return nil, err
	}
	// a single connection serialises writers, sqlite would otherwise
	// return SQLITE_BUSY under concurrent batch writes
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (config Config) openRemote() (*sql.DB, error) {
	if !strings.HasPrefix(config.Url, "libsql://") &&
		!strings.HasPrefix(config.Url, "https://") &&
		!strings.HasPrefix(config.Url, "http://") {
		return nil, fmt.Errorf("unsupported database url '%s'", config.Url)
	}
	dsn := config.Url
	if config.AuthToken != "" {
		parsed, err := url.Parse(config.Url)
		if err != nil {
			return nil, err
		}
		query := parsed.Query()
		query.Set("authToken", config.AuthToken)
		parsed.RawQuery = query.Encode()
		dsn = parsed.String()
	}
	return sql.Open("libsql", dsn)
}
