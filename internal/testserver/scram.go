package testserver

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"pgping/pkg/pgwire"
)

// Server-side SCRAM-SHA-256 (RFC 5802/7677). Implemented independently of
// the client package so the two sides cross-check each other in tests.

const scramIterations = 4096

func (s *Server) authenticateSCRAM(reader *pgwire.Reader, writer *pgwire.Writer, user string) bool {
	mechanisms := []byte("SCRAM-SHA-256\x00\x00")
	if err := s.challenge(writer, pgwire.AuthSASL, mechanisms); err != nil {
		return false
	}

	mechanism, clientFirst, ok := s.readSASLInitial(reader)
	if !ok || mechanism != "SCRAM-SHA-256" {
		s.sendFatal(writer, "28000", fmt.Sprintf("unsupported SASL mechanism %q", mechanism))
		return false
	}

	// Strip the gs2 header: "n,," (no channel binding) or "y,," (client
	// supports binding, server did not advertise it). No authzid either way.
	bare, found := strings.CutPrefix(clientFirst, "n,,")
	if !found {
		bare, found = strings.CutPrefix(clientFirst, "y,,")
	}
	if !found {
		s.sendFatal(writer, "28000", "unsupported gs2 header in client-first-message")
		return false
	}
	clientAttrs := parseAttributes(bare)
	clientNonce := clientAttrs["r"]
	if clientNonce == "" {
		s.sendFatal(writer, "28000", "missing client nonce")
		return false
	}

	nonceExt := make([]byte, 18)
	salt := make([]byte, 16)
	if _, err := rand.Read(nonceExt); err != nil {
		s.sendFatal(writer, "XX000", fmt.Sprintf("generate server nonce: %v", err))
		return false
	}
	if _, err := rand.Read(salt); err != nil {
		s.sendFatal(writer, "XX000", fmt.Sprintf("generate salt: %v", err))
		return false
	}
	serverNonce := clientNonce + base64.StdEncoding.EncodeToString(nonceExt)

	serverFirst := fmt.Sprintf("r=%s,s=%s,i=%d",
		serverNonce, base64.StdEncoding.EncodeToString(salt), scramIterations)
	if err := s.challenge(writer, pgwire.AuthSASLContinue, []byte(serverFirst)); err != nil {
		return false
	}

	clientFinal, ok := s.readSASLResponse(reader)
	if !ok {
		return false
	}
	finalAttrs := parseAttributes(clientFinal)
	if finalAttrs["r"] != serverNonce {
		s.sendFatal(writer, "28000", "nonce mismatch in client-final-message")
		return false
	}

	proof, err := base64.StdEncoding.DecodeString(finalAttrs["p"])
	if err != nil || len(proof) != sha256.Size {
		s.sendFatal(writer, "28000", "malformed client proof")
		return false
	}

	withoutProof := clientFinal[:strings.LastIndex(clientFinal, ",p=")]
	authMessage := bare + "," + serverFirst + "," + withoutProof

	saltedPassword := pbkdf2.Key([]byte(s.opts.Password), salt, scramIterations, sha256.Size, sha256.New)
	clientKey := hmacSum(saltedPassword, "Client Key")
	storedKey := sha256.Sum256(clientKey)
	clientSignature := hmacSum(storedKey[:], authMessage)

	// ClientKey' = proof XOR signature; auth succeeds when H(ClientKey')
	// matches the stored key.
	recovered := make([]byte, len(proof))
	for i := range proof {
		recovered[i] = proof[i] ^ clientSignature[i]
	}
	recoveredStored := sha256.Sum256(recovered)
	if !hmac.Equal(recoveredStored[:], storedKey[:]) {
		s.sendFatal(writer, "28P01",
			fmt.Sprintf("password authentication failed for user %q", user))
		return false
	}

	serverKey := hmacSum(saltedPassword, "Server Key")
	serverSignature := hmacSum(serverKey, authMessage)
	final := "v=" + base64.StdEncoding.EncodeToString(serverSignature)
	if err := s.challenge(writer, pgwire.AuthSASLFinal, []byte(final)); err != nil {
		return false
	}
	return s.finishAuth(writer)
}

func (s *Server) readSASLInitial(reader *pgwire.Reader) (mechanism, payload string, ok bool) {
	msgType, body, err := reader.ReadMessage()
	if err != nil || msgType != pgwire.MsgPasswordMessage {
		return "", "", false
	}
	nul := strings.IndexByte(string(body), 0)
	if nul < 0 || len(body) < nul+5 {
		return "", "", false
	}
	mechanism = string(body[:nul])
	length := int32(binary.BigEndian.Uint32(body[nul+1 : nul+5]))
	data := body[nul+5:]
	if length >= 0 && int(length) <= len(data) {
		data = data[:length]
	}
	return mechanism, string(data), true
}

func (s *Server) readSASLResponse(reader *pgwire.Reader) (string, bool) {
	msgType, body, err := reader.ReadMessage()
	if err != nil || msgType != pgwire.MsgPasswordMessage {
		return "", false
	}
	return string(body), true
}

func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		if k, v, ok := strings.Cut(part, "="); ok && len(k) == 1 {
			attrs[k] = v
		}
	}
	return attrs
}

func hmacSum(key []byte, message string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}

// md5Digest computes the expected md5 PasswordMessage value:
// "md5" + hex(md5(hex(md5(password + user)) + salt)).
func md5Digest(user, password string, salt []byte) string {
	inner := md5.Sum([]byte(password + user))
	outer := md5.New()
	outer.Write([]byte(hex.EncodeToString(inner[:])))
	outer.Write(salt)
	return "md5" + hex.EncodeToString(outer.Sum(nil))
}
