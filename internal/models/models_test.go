package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePairIsOrderIndependent(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	l1, h1 := NormalizePair(a, b)
	l2, h2 := NormalizePair(b, a)
	assert.Equal(t, l1, l2)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, l1, h1)
}

func TestDirectMessageValidate(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	require.NoError(t, NewDirectMessage(a, b).Validate())

	assert.ErrorIs(t, NewDirectMessage(a, a).Validate(), ErrDirectMembers)
	assert.ErrorIs(t, NewDirectMessage(a, uuid.Nil).Validate(), ErrDirectMembers)

	d := NewDirectMessage(a, b)
	d.MemberLow, d.MemberHigh = d.MemberHigh, d.MemberLow
	assert.ErrorIs(t, d.Validate(), ErrDirectMembers)
}

func TestDirectMessageOther(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	d := NewDirectMessage(a, b)
	assert.Equal(t, b, d.Other(a))
	assert.Equal(t, a, d.Other(b))
	assert.True(t, d.HasMember(a))
	assert.False(t, d.HasMember(uuid.New()))
}

func TestMessageValidate(t *testing.T) {
	m := &Message{Content: "   "}
	assert.ErrorIs(t, m.Validate(), ErrEmptyMessage)

	url := "/uploads/general/x_1.png"
	m.AttachmentURL = &url
	assert.NoError(t, m.Validate())

	assert.NoError(t, (&Message{Content: "hello"}).Validate())
}

func TestGroupMembersKeepOrder(t *testing.T) {
	g := &GroupChat{ID: uuid.New()}
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	g.SetMembers(ids)
	assert.Equal(t, ids, g.MemberIDs())
	assert.True(t, g.HasMember(ids[1]))
	assert.Equal(t, 2, g.Members[2].Position)
}

func TestPublicProfile(t *testing.T) {
	pic := "/uploads/profile-pics/a_1.png"
	u := &User{ID: uuid.New(), Username: "kira", Email: "kira@example.com", ProfilePicture: &pic, PasswordHash: "x"}
	p := u.Public()
	assert.Equal(t, pic, p.ProfilePicture)
	assert.Equal(t, "kira", p.Username)

	u.ProfilePicture = nil
	assert.Empty(t, u.Public().ProfilePicture)
}
