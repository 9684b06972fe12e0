package room

import "crypto/rand"

// codeAlphabet is the 32-symbol alphabet from spec.md section 3, excluding
// ambiguous glyphs (no I, O, 0, 1).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// codeLength is the number of symbols in a room code.
const codeLength = 6

// GenerateCode draws a fresh random 6-character room code. Each random
// byte is reduced modulo len(alphabet) after rejecting byte values at or
// above the largest multiple of len(alphabet), so no symbol is favoured;
// with the 32-symbol alphabet that multiple is 256 and no byte is
// rejected. This is the same crypto/rand discipline kolabpad's GenerateOTP
// uses for its tokens.
func GenerateCode() (string, error) {
	const maxByte = 256 - (256 % len(codeAlphabet))

	buf := make([]byte, codeLength)
	out := make([]byte, codeLength)
	for i := 0; i < codeLength; {
		if _, err := rand.Read(buf[i : i+1]); err != nil {
			return "", err
		}
		if int(buf[i]) >= maxByte {
			continue
		}
		out[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
		i++
	}
	return string(out), nil
}
