package client

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// The non-SASL authentication mechanisms. Each one is a pure function from
// credentials (and the server's challenge, where there is one) to the
// response string sent back in a PasswordMessage.

// cleartextResponse answers an AuthenticationCleartextPassword request.
// The password travels as-is; whether that is acceptable on a plaintext
// transport is the caller's policy decision.
func cleartextResponse(password string) string {
	return password
}

// md5Response answers an AuthenticationMD5Password request:
//
//	"md5" + hex(md5(hex(md5(password + user)) + salt))
//
// The inner hash matches what the server stores for the role; the outer
// hash binds it to the per-connection salt.
func md5Response(user, password string, salt []byte) (string, error) {
	if len(salt) != 4 {
		return "", fmt.Errorf("md5 auth: expected 4 salt bytes, got %d", len(salt))
	}
	inner := md5.Sum([]byte(password + user))
	outer := md5.New()
	outer.Write([]byte(hex.EncodeToString(inner[:])))
	outer.Write(salt)
	return "md5" + hex.EncodeToString(outer.Sum(nil)), nil
}
