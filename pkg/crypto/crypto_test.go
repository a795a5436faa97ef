package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeccak256(t *testing.T) {
	// Keccak-256 of the empty input, as used by Ethereum
	got := hex.EncodeToString(Keccak256())
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", got)

	assert.Equal(t, Keccak256([]byte("ab")), Keccak256([]byte("a"), []byte("b")))
}

func TestHexHelpers(t *testing.T) {
	b, err := DecodeHex("0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)
	assert.Equal(t, "0xdeadbeef", EncodeHex(b))

	_, err = DecodeHash("0xdeadbeef")
	assert.ErrorIs(t, err, ErrInvalidHash)

	h, err := DecodeHash(EncodeHex(Keccak256([]byte("x"))))
	require.NoError(t, err)
	assert.Len(t, h, HashSize)
}

func TestSigner_SignVerify(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)

	msg := Keccak256([]byte("transfer"))
	sig := signer.Sign(msg)

	pub, err := DecodePublicKey(signer.PublicKeyHex())
	require.NoError(t, err)

	t.Run("valid signature", func(t *testing.T) {
		ok, err := Verify(pub, msg, sig)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong message", func(t *testing.T) {
		ok, err := Verify(pub, Keccak256([]byte("other")), sig)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed signature", func(t *testing.T) {
		_, err := Verify(pub, msg, "0x1234")
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("signer from seed is deterministic", func(t *testing.T) {
		seed := "0x" + hex.EncodeToString(make([]byte, 32))
		a, err := NewSigner(seed)
		require.NoError(t, err)
		b, err := NewSigner(seed)
		require.NoError(t, err)
		assert.Equal(t, a.PublicKeyHex(), b.PublicKeyHex())
		assert.Equal(t, a.Sign(msg), b.Sign(msg))
	})

	t.Run("bad public key", func(t *testing.T) {
		_, err := DecodePublicKey("0x00")
		assert.ErrorIs(t, err, ErrInvalidPublicKey)
	})
}
