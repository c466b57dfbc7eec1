package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChangeReason(t *testing.T) {
	t.Run("every member is valid", func(t *testing.T) {
		for _, reason := range ChangeReasons {
			assert.True(t, reason.Valid(), "reason %q should be valid", reason)
		}
	})

	t.Run("unknown reason is invalid", func(t *testing.T) {
		assert.False(t, ChangeReason("bogus").Valid())
		assert.False(t, ChangeReason("").Valid())
	})

	t.Run("only lifecycle reasons are reserved", func(t *testing.T) {
		reserved := map[ChangeReason]bool{
			ReasonCreated:           true,
			ReasonRollback:          true,
			ReasonRollbackCompleted: true,
		}

		for _, reason := range ChangeReasons {
			assert.Equal(t, reserved[reason], reason.Reserved(), "reason %q", reason)
		}
	})

	t.Run("every member has a deliberate label", func(t *testing.T) {
		for _, reason := range ChangeReasons {
			label := reason.Label()

			assert.NotEmpty(t, label)
			assert.NotEqual(t, string(reason), label, "reason %q fell through to its raw tag", reason)
		}
	})

	t.Run("unknown reason falls through to raw tag", func(t *testing.T) {
		assert.Equal(t, "bogus", ChangeReason("bogus").Label())
	})
}

func TestNewSnapshot(t *testing.T) {
	t.Run("captures full mutable state", func(t *testing.T) {
		name := "My Link"
		expiresAt := time.Now().Add(time.Hour)

		link := &Link{
			OriginalURL: "https://example.com",
			CustomName:  &name,
			ExpiresAt:   &expiresAt,
			Active:      true,
			Restricted:  false,
			Settings: LinkSettings{
				QRCodeEnabled: true,
			},
		}

		s := NewSnapshot(link)

		assert.Equal(t, "https://example.com", s.OriginalURL)
		assert.Equal(t, &name, s.CustomName)
		assert.Equal(t, &expiresAt, s.ExpiresAt)
		assert.NotNil(t, s.Active)
		assert.True(t, *s.Active)
		assert.NotNil(t, s.Restricted)
		assert.False(t, *s.Restricted)
		assert.NotNil(t, s.Settings)
		assert.True(t, s.Settings.QRCodeEnabled)
		assert.Nil(t, s.Password)
	})

	t.Run("redacts password hash", func(t *testing.T) {
		hash := "$2a$10$abcdefghijklmnopqrstuv"

		link := &Link{
			OriginalURL:  "https://example.com",
			PasswordHash: &hash,
		}

		s := NewSnapshot(link)

		assert.NotNil(t, s.Password)
		assert.Equal(t, PasswordRedacted, *s.Password)

		data, err := json.Marshal(s)

		assert.NoError(t, err)
		assert.NotContains(t, string(data), hash)
	})
}

func TestSnapshotApplyTo(t *testing.T) {
	t.Run("overwrites mutable fields", func(t *testing.T) {
		active := false
		restricted := true

		s := Snapshot{
			OriginalURL: "https://old.example.com",
			Active:      &active,
			Restricted:  &restricted,
			Settings:    &LinkSettings{SmartRoutingEnabled: true},
		}

		link := &Link{
			OriginalURL: "https://new.example.com",
			Active:      true,
		}

		s.ApplyTo(link)

		assert.Equal(t, "https://old.example.com", link.OriginalURL)
		assert.False(t, link.Active)
		assert.True(t, link.Restricted)
		assert.True(t, link.Settings.SmartRoutingEnabled)
	})

	t.Run("redacted password leaves current credential untouched", func(t *testing.T) {
		redacted := PasswordRedacted
		hash := "$2a$10$abcdefghijklmnopqrstuv"

		s := Snapshot{
			OriginalURL: "https://example.com",
			Password:    &redacted,
		}

		link := &Link{PasswordHash: &hash}

		s.ApplyTo(link)

		assert.Equal(t, &hash, link.PasswordHash)
	})

	t.Run("nil password leaves current credential untouched", func(t *testing.T) {
		hash := "$2a$10$abcdefghijklmnopqrstuv"

		s := Snapshot{OriginalURL: "https://example.com"}
		link := &Link{PasswordHash: &hash}

		s.ApplyTo(link)

		assert.Equal(t, &hash, link.PasswordHash)
	})

	t.Run("nil flags from an older snapshot leave fields untouched", func(t *testing.T) {
		s := Snapshot{OriginalURL: "https://example.com"}

		link := &Link{
			Active:     true,
			Restricted: true,
			Settings:   LinkSettings{ABTestingEnabled: true},
		}

		s.ApplyTo(link)

		assert.True(t, link.Active)
		assert.True(t, link.Restricted)
		assert.True(t, link.Settings.ABTestingEnabled)
	})
}

func TestSnapshotDecoding(t *testing.T) {
	t.Run("unknown fields from newer schema versions are ignored", func(t *testing.T) {
		data := []byte(`{"original_url":"https://example.com","active":true,"geo_rules":{"us":"https://us.example.com"}}`)

		var s Snapshot
		err := json.Unmarshal(data, &s)

		assert.NoError(t, err)
		assert.Equal(t, "https://example.com", s.OriginalURL)
		assert.NotNil(t, s.Active)
		assert.True(t, *s.Active)
	})
}

func TestActorDisplayName(t *testing.T) {
	t.Run("named actor", func(t *testing.T) {
		name := "alice"
		actor := Actor{Name: &name}

		assert.Equal(t, "alice", actor.DisplayName())
	})

	t.Run("system actor", func(t *testing.T) {
		assert.Equal(t, "System", SystemActor.DisplayName())

		empty := ""
		assert.Equal(t, "System", Actor{Name: &empty}.DisplayName())
	})
}
