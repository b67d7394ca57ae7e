package db

import (
	"context"
	"database/sql"
)

const countChannels = `-- name: CountChannels :one
select count(*) from channels
`

func (q *Queries) CountChannels(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countChannels)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const countMessages = `-- name: CountMessages :one
select count(*) from messages
`

func (q *Queries) CountMessages(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countMessages)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const countMessagesInChannel = `-- name: CountMessagesInChannel :one
select count(*) from messages where channel_id = ?
`

func (q *Queries) CountMessagesInChannel(ctx context.Context, channelID string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countMessagesInChannel, channelID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const deleteChannels = `-- name: DeleteChannels :exec
delete from channels
`

func (q *Queries) DeleteChannels(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteChannels)
	return err
}

const deleteMessages = `-- name: DeleteMessages :exec
delete from messages
`

func (q *Queries) DeleteMessages(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteMessages)
	return err
}

const deleteServers = `-- name: DeleteServers :exec
delete from servers
`

func (q *Queries) DeleteServers(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteServers)
	return err
}

const deleteUsers = `-- name: DeleteUsers :exec
delete from users
`

func (q *Queries) DeleteUsers(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteUsers)
	return err
}

const getChannel = `-- name: GetChannel :one
select * from channels where channel_id = ?
`

func (q *Queries) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	row := q.db.QueryRowContext(ctx, getChannel, channelID)
	var i Channel
	err := row.Scan(
		&i.ChannelID,
		&i.ServerID,
		&i.ChannelName,
		&i.LastCrawledAt,
	)
	return i, err
}

const getMessage = `-- name: GetMessage :one
select * from messages where message_id = ?
`

func (q *Queries) GetMessage(ctx context.Context, messageID string) (Message, error) {
	row := q.db.QueryRowContext(ctx, getMessage, messageID)
	var i Message
	err := row.Scan(
		&i.MessageID,
		&i.ChannelID,
		&i.UserID,
		&i.Timestamp,
		&i.Content,
		&i.HasAttachments,
		&i.Reactions,
	)
	return i, err
}

const getServer = `-- name: GetServer :one
select * from servers where server_id = ?
`

func (q *Queries) GetServer(ctx context.Context, serverID string) (Server, error) {
	row := q.db.QueryRowContext(ctx, getServer, serverID)
	var i Server
	err := row.Scan(
		&i.ServerID,
		&i.ServerName,
	)
	return i, err
}

const getUser = `-- name: GetUser :one
select * from users where user_id = ?
`

func (q *Queries) GetUser(ctx context.Context, userID string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUser, userID)
	var i User
	err := row.Scan(
		&i.UserID,
		&i.Username,
		&i.AvatarUrl,
	)
	return i, err
}

const listChannels = `-- name: ListChannels :many
select * from channels order by server_id, channel_name
`

func (q *Queries) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := q.db.QueryContext(ctx, listChannels)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Channel
	for rows.Next() {
		var i Channel
		if err := rows.Scan(
			&i.ChannelID,
			&i.ServerID,
			&i.ChannelName,
			&i.LastCrawledAt,
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

const listMessages = `-- name: ListMessages :many
select * from messages order by timestamp, message_id limit ?
`

func (q *Queries) ListMessages(ctx context.Context, limit int64) ([]Message, error) {
	rows, err := q.db.QueryContext(ctx, listMessages, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Message
	for rows.Next() {
		var i Message
		if err := rows.Scan(
			&i.MessageID,
			&i.ChannelID,
			&i.UserID,
			&i.Timestamp,
			&i.Content,
			&i.HasAttachments,
			&i.Reactions,
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

const listMessagesByChannel = `-- name: ListMessagesByChannel :many
select * from messages where channel_id = ? order by timestamp, message_id limit ?
`

type ListMessagesByChannelParams struct {
	ChannelID string
	Limit     int64
}

func (q *Queries) ListMessagesByChannel(ctx context.Context, arg ListMessagesByChannelParams) ([]Message, error) {
	rows, err := q.db.QueryContext(ctx, listMessagesByChannel, arg.ChannelID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Message
	for rows.Next() {
		var i Message
		if err := rows.Scan(
			&i.MessageID,
			&i.ChannelID,
			&i.UserID,
			&i.Timestamp,
			&i.Content,
			&i.HasAttachments,
			&i.Reactions,
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

const listServers = `-- name: ListServers :many
select * from servers order by server_id
`

func (q *Queries) ListServers(ctx context.Context) ([]Server, error) {
	rows, err := q.db.QueryContext(ctx, listServers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Server
	for rows.Next() {
		var i Server
		if err := rows.Scan(
			&i.ServerID,
			&i.ServerName,
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

const listUsers = `-- name: ListUsers :many
select * from users order by user_id
`

func (q *Queries) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := q.db.QueryContext(ctx, listUsers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []User
	for rows.Next() {
		var i User
		if err := rows.Scan(
			&i.UserID,
			&i.Username,
			&i.AvatarUrl,
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

const putChannel = `-- name: PutChannel :exec
insert or replace into channels(channel_id, server_id, channel_name, last_crawled_at)
values (?, ?, ?, ?)
`

type PutChannelParams struct {
	ChannelID     string
	ServerID      string
	ChannelName   string
	LastCrawledAt sql.NullInt64
}

func (q *Queries) PutChannel(ctx context.Context, arg PutChannelParams) error {
	_, err := q.db.ExecContext(ctx, putChannel,
		arg.ChannelID,
		arg.ServerID,
		arg.ChannelName,
		arg.LastCrawledAt,
	)
	return err
}

const upsertMessage = `-- name: UpsertMessage :exec
insert into messages(message_id, channel_id, user_id, timestamp, content, has_attachments, reactions)
values (?, ?, ?, ?, ?, ?, ?)
on conflict (message_id) do update set
    channel_id = excluded.channel_id,
    user_id = excluded.user_id,
    timestamp = excluded.timestamp,
    content = excluded.content,
    has_attachments = excluded.has_attachments,
    reactions = excluded.reactions
`

type UpsertMessageParams struct {
	MessageID      string
	ChannelID      string
	UserID         sql.NullString
	Timestamp      string
	Content        string
	HasAttachments bool
	Reactions      string
}

func (q *Queries) UpsertMessage(ctx context.Context, arg UpsertMessageParams) error {
	_, err := q.db.ExecContext(ctx, upsertMessage,
		arg.MessageID,
		arg.ChannelID,
		arg.UserID,
		arg.Timestamp,
		arg.Content,
		arg.HasAttachments,
		arg.Reactions,
	)
	return err
}

const upsertServer = `-- name: UpsertServer :exec
insert into servers(server_id, server_name) values (?, ?)
on conflict (server_id) do update set
    server_name = case when excluded.server_name != '' then excluded.server_name else servers.server_name end
`

type UpsertServerParams struct {
	ServerID   string
	ServerName string
}

func (q *Queries) UpsertServer(ctx context.Context, arg UpsertServerParams) error {
	_, err := q.db.ExecContext(ctx, upsertServer,
		arg.ServerID,
		arg.ServerName,
	)
	return err
}

const upsertUser = `-- name: UpsertUser :exec
insert into users(user_id, username, avatar_url) values (?, ?, ?)
on conflict (user_id) do update set
    username = case when excluded.username != '' then excluded.username else users.username end,
    avatar_url = case when excluded.avatar_url != '' then excluded.avatar_url else users.avatar_url end
`

type UpsertUserParams struct {
	UserID    string
	Username  string
	AvatarUrl string
}

func (q *Queries) UpsertUser(ctx context.Context, arg UpsertUserParams) error {
	_, err := q.db.ExecContext(ctx, upsertUser,
		arg.UserID,
		arg.Username,
		arg.AvatarUrl,
	)
	return err
}
