package storage

import (
	"encoding/hex"
	"fmt"
	"time"

	"palaver/internal/auth"
	"palaver/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers        = []byte("users")
	bucketMessages     = []byte("messages")
	bucketMessageIndex = []byte("message_index")
)

// BboltStorage is the durable MessageStore backend. Messages live in
// per-scope nested buckets under "messages", keyed by timestamp+sequence,
// with a flat id index for read/reaction updates.
type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketUsers); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMessageIndex); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// Append stores the draft in its scope bucket. The id is the hex form of
// the message key; the sequence half comes from the messages bucket
// counter inside the write transaction, so concurrent appends always get
// distinct ids.
func (s *BboltStorage) Append(draft models.MessageDraft) (models.Message, error) {
	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketMessages)
		scope := draftScope(draft)
		b, err := root.CreateBucketIfNotExists([]byte(scope))
		if err != nil {
			return fmt.Errorf("failed to create scope bucket %s: %w", scope, err)
		}

		seq, err := root.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		ts := s.now()
		dbMsg := DBMessage{
			TimestampNano: ts.UnixNano(),
			Seq:           seq,
			Kind:          string(draft.Kind),
			Body:          draft.Body,
			Sender:        draft.Sender,
			SenderID:      draft.SenderID,
			Room:          draft.Room,
			ToUsername:    draft.ToUsername,
			ToUserID:      draft.ToUserID,
			Attachments:   toDBAttachments(draft.Attachments),
		}

		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := b.Put(dbMsg.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		id := hex.EncodeToString(dbMsg.Key())
		ref := DBMessageRef{Scope: scope, Key: dbMsg.Key()}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message ref: %w", err)
		}
		if err := tx.Bucket(bucketMessageIndex).Put([]byte(id), refData); err != nil {
			return fmt.Errorf("failed to index message: %w", err)
		}

		msg = dbMsg.toModel(id)
		return nil
	})
	return msg, err
}

// Page walks the scope bucket backwards from the cursor position and
// returns the collected window oldest-first.
func (s *BboltStorage) Page(filter Filter, before time.Time, limit int) ([]models.Message, error) {
	limit = ClampLimit(limit)
	var out []models.Message

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages).Bucket([]byte(filter.scope()))
		if b == nil {
			return nil
		}

		c := b.Cursor()
		var k, v []byte
		if before.IsZero() {
			k, v = c.Last()
		} else {
			// Seek to the first key at or after the boundary, then step
			// back so iteration only visits strictly older messages.
			k, _ = c.Seek(messageKey(before.UnixNano(), 0))
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		}

		for ; k != nil && len(out) < limit; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			out = append(out, dbMsg.toModel(hex.EncodeToString(k)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	reverseMessages(out)
	return out, nil
}

func (s *BboltStorage) Search(room, query string) ([]models.Message, error) {
	var out []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages).Bucket([]byte(roomScope(room)))
		if b == nil {
			return nil
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < SearchLimit; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			msg := dbMsg.toModel(hex.EncodeToString(k))
			if matchesQuery(msg, query) {
				out = append(out, msg)
			}
		}
		return nil
	})
	return out, err
}

func (s *BboltStorage) UpdateReadBy(id, userID string) (bool, error) {
	changed := false
	err := s.updateMessage(id, func(dbMsg *DBMessage) {
		for _, existing := range dbMsg.ReadBy {
			if existing == userID {
				return
			}
		}
		dbMsg.ReadBy = append(dbMsg.ReadBy, userID)
		changed = true
	})
	return changed, err
}

func (s *BboltStorage) UpdateReaction(id, userID, reaction string) ([]models.Reaction, error) {
	var snapshot []models.Reaction
	err := s.updateMessage(id, func(dbMsg *DBMessage) {
		kept := dbMsg.Reactions[:0]
		removed := false
		for _, r := range dbMsg.Reactions {
			if r.UserID == userID && r.Type == reaction {
				removed = true
				continue
			}
			kept = append(kept, r)
		}
		dbMsg.Reactions = kept
		if !removed {
			dbMsg.Reactions = append(dbMsg.Reactions, DBReaction{Type: reaction, UserID: userID})
		}
		snapshot = toReactions(dbMsg.Reactions)
	})
	return snapshot, err
}

// updateMessage loads a message by id, applies mutate and writes it back
// within a single transaction. Returns models.ErrNotFound for unknown or
// malformed ids.
func (s *BboltStorage) updateMessage(id string, mutate func(*DBMessage)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		refData := tx.Bucket(bucketMessageIndex).Get([]byte(id))
		if refData == nil {
			return models.ErrNotFound
		}

		var ref DBMessageRef
		if err := ref.UnmarshalBinary(refData); err != nil {
			return fmt.Errorf("failed to unmarshal message ref: %w", err)
		}

		b := tx.Bucket(bucketMessages).Bucket([]byte(ref.Scope))
		if b == nil {
			return models.ErrNotFound
		}
		data := b.Get(ref.Key)
		if data == nil {
			return models.ErrNotFound
		}

		var dbMsg DBMessage
		if err := dbMsg.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal message: %w", err)
		}

		mutate(&dbMsg)

		newData, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return b.Put(ref.Key, newData)
	})
}

// UpsertCredentials stores new or updated user credentials.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbCreds := &DBCredentials{
			ID:           credentials.UserID,
			Username:     credentials.Username,
			PasswordHash: credentials.PasswordHash,
			CreatedAt:    credentials.CreatedAt,
		}

		data, err := dbCreds.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbCreds.Key(), data)
	})
}

// ListCredentials returns all user credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbCreds DBCredentials
			if err := dbCreds.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, auth.UserCredentials{
				Identity: models.Identity{
					Username: dbCreds.Username,
					UserID:   dbCreds.ID,
				},
				PasswordHash: dbCreds.PasswordHash,
				CreatedAt:    dbCreds.CreatedAt,
			})
			return nil
		})
	})
	return credentials, err
}

func (m *DBMessage) toModel(id string) models.Message {
	return models.Message{
		ID:          id,
		Kind:        models.MessageKind(m.Kind),
		Body:        m.Body,
		Sender:      m.Sender,
		SenderID:    m.SenderID,
		Timestamp:   time.Unix(0, m.TimestampNano).UTC(),
		Room:        m.Room,
		ToUsername:  m.ToUsername,
		ToUserID:    m.ToUserID,
		Attachments: toAttachments(m.Attachments),
		ReadBy:      append([]string(nil), m.ReadBy...),
		Reactions:   toReactions(m.Reactions),
	}
}

func toDBAttachments(attachments []models.Attachment) []DBAttachment {
	if len(attachments) == 0 {
		return nil
	}
	out := make([]DBAttachment, len(attachments))
	for i, a := range attachments {
		out[i] = DBAttachment{URL: a.URL, Name: a.Name, MimeType: a.MimeType, Size: a.Size}
	}
	return out
}

func toAttachments(attachments []DBAttachment) []models.Attachment {
	if len(attachments) == 0 {
		return nil
	}
	out := make([]models.Attachment, len(attachments))
	for i, a := range attachments {
		out[i] = models.Attachment{URL: a.URL, Name: a.Name, MimeType: a.MimeType, Size: a.Size}
	}
	return out
}

func toReactions(reactions []DBReaction) []models.Reaction {
	out := make([]models.Reaction, len(reactions))
	for i, r := range reactions {
		out[i] = models.Reaction{Type: r.Type, UserID: r.UserID}
	}
	return out
}

func reverseMessages(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
