package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBCredentials is the persisted form of a user account.
type DBCredentials struct {
	ID           string `msgpack:"id"`
	Username     string `msgpack:"username"`
	PasswordHash string `msgpack:"passwordHash"`
	CreatedAt    int64  `msgpack:"createdAt"`
}

func (c *DBCredentials) Key() []byte {
	return []byte(c.Username)
}

func (c *DBCredentials) MarshalBinary() (data []byte, err error) {
	type alias DBCredentials
	return msgpack.Marshal((*alias)(c))
}

func (c *DBCredentials) UnmarshalBinary(data []byte) error {
	type alias DBCredentials
	return msgpack.Unmarshal(data, (*alias)(c))
}

// DBMessage is the persisted form of a chat message. Its key orders
// messages chronologically within a scope bucket: 8 bytes of big-endian
// creation time in nanoseconds followed by 8 bytes of store sequence,
// which also makes keys unique under concurrent appends.
type DBMessage struct {
	TimestampNano int64          `msgpack:"ts"`
	Seq           uint64         `msgpack:"seq"`
	Kind          string         `msgpack:"kind"`
	Body          string         `msgpack:"message"`
	Sender        string         `msgpack:"sender"`
	SenderID      string         `msgpack:"senderId"`
	Room          string         `msgpack:"room"`
	ToUsername    string         `msgpack:"toUsername"`
	ToUserID      string         `msgpack:"toUserId"`
	Attachments   []DBAttachment `msgpack:"attachments"`
	ReadBy        []string       `msgpack:"readBy"`
	Reactions     []DBReaction   `msgpack:"reactions"`
}

type DBAttachment struct {
	URL      string `msgpack:"url"`
	Name     string `msgpack:"name"`
	MimeType string `msgpack:"mimeType"`
	Size     int64  `msgpack:"size"`
}

type DBReaction struct {
	Type   string `msgpack:"type"`
	UserID string `msgpack:"userId"`
}

func messageKey(tsNano int64, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(tsNano))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

func (m *DBMessage) Key() []byte {
	return messageKey(m.TimestampNano, m.Seq)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBMessageRef locates a message from its id: the scope bucket it lives
// in plus its key within that bucket.
type DBMessageRef struct {
	Scope string `msgpack:"scope"`
	Key   []byte `msgpack:"key"`
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}
