package db

import (
	"context"
	"database/sql"
)

const getChannelIdByUrl = `-- name: GetChannelIdByUrl :one
select id from channels where url = ?
`

func (q *Queries) GetChannelIdByUrl(ctx context.Context, url string) (int64, error) {
	row := q.db.QueryRowContext(ctx, getChannelIdByUrl, url)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const insertChannel = `-- name: InsertChannel :exec
insert into channels(name, url) values (?, ?)
on conflict (url) do update set name = excluded.name
`

type InsertChannelParams struct {
	Name string
	Url  string
}

func (q *Queries) InsertChannel(ctx context.Context, arg InsertChannelParams) error {
	_, err := q.db.ExecContext(ctx, insertChannel, arg.Name, arg.Url)
	return err
}

const insertMessage = `-- name: InsertMessage :exec
insert into messages(channel_id, message_id, user_id, content, timestamp, attachments, reactions)
values (?, ?, ?, ?, ?, ?, ?)
`

type InsertMessageParams struct {
	ChannelID   int64
	MessageID   string
	UserID      sql.NullString
	Content     string
	Timestamp   sql.NullString
	Attachments string
	Reactions   string
}

func (q *Queries) InsertMessage(ctx context.Context, arg InsertMessageParams) error {
	_, err := q.db.ExecContext(ctx, insertMessage,
		arg.ChannelID,
		arg.MessageID,
		arg.UserID,
		arg.Content,
		arg.Timestamp,
		arg.Attachments,
		arg.Reactions,
	)
	return err
}

const insertUser = `-- name: InsertUser :exec
insert into users(user_id, username) values (?, ?)
on conflict (user_id) do update set username = excluded.username
`

type InsertUserParams struct {
	UserID   string
	Username string
}

func (q *Queries) InsertUser(ctx context.Context, arg InsertUserParams) error {
	_, err := q.db.ExecContext(ctx, insertUser, arg.UserID, arg.Username)
	return err
}

const listRecords = `-- name: ListRecords :many
select
    coalesce(c.name, 'Unknown') as channel_name,
    coalesce(u.username, 'Unknown') as username,
    coalesce(m.timestamp, '') as timestamp,
    coalesce(m.content, '') as content
from messages m
left join channels c on m.channel_id = c.id
left join users u on m.user_id = u.user_id
order by m.timestamp asc, m.id asc
`

type ListRecordsRow struct {
	ChannelName string
	Username    string
	Timestamp   string
	Content     string
}

func (q *Queries) ListRecords(ctx context.Context) ([]ListRecordsRow, error) {
	rows, err := q.db.QueryContext(ctx, listRecords)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListRecordsRow
	for rows.Next() {
		var i ListRecordsRow
		if err := rows.Scan(
			&i.ChannelName,
			&i.Username,
			&i.Timestamp,
			&i.Content,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
