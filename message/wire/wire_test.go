package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sig-0/go-qbft/keys"
	"github.com/sig-0/go-qbft/message"
)

func Test_Decode(t *testing.T) {
	t.Parallel()

	key := keys.MustGenerate(1)[0]
	commit := message.NewCommit(key, message.View{Height: 3}, message.BlockHash([]byte("block")))

	msg, err := Decode(Encode(commit))
	require.NoError(t, err)
	assert.Equal(t, message.KindCommit, msg.Kind())
	assert.Equal(t, commit, msg)
}

func Test_Decode_SkipsUnknownFields(t *testing.T) {
	t.Parallel()

	key := keys.MustGenerate(1)[0]
	prepare := message.NewPrepare(key, message.View{Height: 3}, message.BlockHash([]byte("block")))

	data := protowire.AppendTag(nil, 9, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("extension"))
	data = append(data, Encode(prepare)...)

	msg, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, prepare, msg)
}

func Test_Decode_Malformed(t *testing.T) {
	t.Parallel()

	onlyKind := func() []byte {
		b := protowire.AppendTag(nil, fieldKind, protowire.VarintType)

		return protowire.AppendVarint(b, uint64(message.KindPrepare))
	}

	table := []struct {
		name string
		data []byte
		err  error
	}{
		{
			name: "truncated tag",
			data: []byte{0xff},
			err:  ErrMalformedEnvelope,
		},

		{
			name: "missing body",
			data: onlyKind(),
			err:  ErrMalformedEnvelope,
		},

		{
			name: "truncated body",
			data: append(protowire.AppendTag(onlyKind(), fieldBody, protowire.BytesType), 0x10, 0x01),
			err:  ErrMalformedEnvelope,
		},

		{
			name: "garbage body",
			data: protowire.AppendBytes(protowire.AppendTag(onlyKind(), fieldBody, protowire.BytesType), []byte{0x01}),
			err:  message.ErrInvalidMessage,
		},
	}

	for _, tt := range table {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
