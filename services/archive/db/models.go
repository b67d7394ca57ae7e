package db

import (
	"database/sql"
)

type Channel struct {
	ChannelID     string
	ServerID      string
	ChannelName   string
	LastCrawledAt sql.NullInt64
}

type Message struct {
	MessageID      string
	ChannelID      string
	UserID         sql.NullString
	Timestamp      string
	Content        string
	HasAttachments bool
	Reactions      string
}

type Server struct {
	ServerID   string
	ServerName string
}

type User struct {
	UserID    string
	Username  string
	AvatarUrl string
}
