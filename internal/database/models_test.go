package database

import (
	"testing"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
)

func TestChatRoom_Participants(t *testing.T) {
	room := ChatRoom{User1Id: 11, User2Id: 8, User1Unread: 3, User2Unread: 5}

	assert.True(t, room.HasParticipant(11))
	assert.True(t, room.HasParticipant(8))
	assert.False(t, room.HasParticipant(9))

	assert.Equal(t, int64(8), room.OtherParticipant(11))
	assert.Equal(t, int64(11), room.OtherParticipant(8))

	assert.Equal(t, 3, room.UnreadFor(11))
	assert.Equal(t, 5, room.UnreadFor(8))
	assert.Equal(t, 0, room.UnreadFor(9))
}

func Test_parseConsistency(t *testing.T) {
	tcases := map[string]gocql.Consistency{
		"one":          gocql.One,
		"QUORUM":       gocql.Quorum,
		"local_one":    gocql.LocalOne,
		"LOCAL_QUORUM": gocql.LocalQuorum,
		"EACH_QUORUM":  gocql.EachQuorum,
		"":             gocql.LocalQuorum,
		"nonsense":     gocql.LocalQuorum,
	}

	for in, expected := range tcases {
		assert.Equal(t, expected, parseConsistency(in), "consistency for %q", in)
	}
}
