package client

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/secure/precis"
)

// SCRAM-SHA-256 client per RFC 5802/7677, covering the subset PostgreSQL
// speaks. Channel binding is not used: the gs2 header is always "n,," and
// the mechanism negotiated is plain SCRAM-SHA-256, never the -PLUS
// variant.

const (
	scramMechanism     = "SCRAM-SHA-256"
	scramKeyLen        = 32
	clientNonceEntropy = 18 // raw bytes before base64
)

type scramClient struct {
	password    string // normalized
	clientNonce string

	clientFirstBare string
	serverFirst     string
	saltedPassword  []byte
	authMessage     string
}

// newScramClient normalizes the password (SASLprep via the precis
// OpaqueString profile) and generates the client nonce. Passwords that
// fail normalization are used as-is, matching libpq and pgx.
func newScramClient(password string) (*scramClient, error) {
	if normalized, err := precis.OpaqueString.String(password); err == nil {
		password = normalized
	}

	raw := make([]byte, clientNonceEntropy)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate client nonce: %w", err)
	}

	return &scramClient{
		password:    password,
		clientNonce: base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// clientFirstMessage builds the initial SASL payload. The username field
// is left empty: PostgreSQL takes the role name from the startup message.
func (s *scramClient) clientFirstMessage() []byte {
	s.clientFirstBare = "n=,r=" + s.clientNonce
	return []byte("n,," + s.clientFirstBare)
}

// handleServerFirst consumes the server-first-message and produces the
// client-final-message with the proof.
func (s *scramClient) handleServerFirst(data []byte) ([]byte, error) {
	s.serverFirst = string(data)
	attrs, err := parseScramAttributes(s.serverFirst)
	if err != nil {
		return nil, err
	}

	serverNonce := attrs["r"]
	if !strings.HasPrefix(serverNonce, s.clientNonce) || serverNonce == s.clientNonce {
		return nil, fmt.Errorf("server nonce does not extend client nonce")
	}

	salt, err := base64.StdEncoding.DecodeString(attrs["s"])
	if err != nil {
		return nil, fmt.Errorf("invalid salt: %w", err)
	}
	iterations, err := strconv.Atoi(attrs["i"])
	if err != nil || iterations < 1 {
		return nil, fmt.Errorf("invalid iteration count %q", attrs["i"])
	}

	s.saltedPassword = pbkdf2.Key([]byte(s.password), salt, iterations, scramKeyLen, sha256.New)

	// gs2 header "n,," base64-encoded, as sent in the channel-binding field.
	withoutProof := "c=biws,r=" + serverNonce
	s.authMessage = s.clientFirstBare + "," + s.serverFirst + "," + withoutProof

	clientKey := hmacSHA256(s.saltedPassword, "Client Key")
	storedKey := sha256.Sum256(clientKey)
	clientSignature := hmacSHA256(storedKey[:], s.authMessage)

	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}

	final := withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)
	return []byte(final), nil
}

// verifyServerFinal checks the server signature from the
// server-final-message, proving the server also knows the salted password.
func (s *scramClient) verifyServerFinal(data []byte) error {
	attrs, err := parseScramAttributes(string(data))
	if err != nil {
		return err
	}
	if e, ok := attrs["e"]; ok {
		return fmt.Errorf("server reported SASL error: %s", e)
	}

	sent, err := base64.StdEncoding.DecodeString(attrs["v"])
	if err != nil {
		return fmt.Errorf("invalid server signature: %w", err)
	}

	serverKey := hmacSHA256(s.saltedPassword, "Server Key")
	expected := hmacSHA256(serverKey, s.authMessage)
	if !hmac.Equal(sent, expected) {
		return fmt.Errorf("server signature mismatch")
	}
	return nil
}

// chooseSASLMechanism picks SCRAM-SHA-256 from the server's advertised
// mechanism list (a sequence of null-terminated strings from the
// AuthenticationSASL message).
func chooseSASLMechanism(data []byte) (string, error) {
	var advertised []string
	for _, mech := range strings.Split(string(data), "\x00") {
		if mech == "" {
			continue
		}
		advertised = append(advertised, mech)
		if mech == scramMechanism {
			return scramMechanism, nil
		}
	}
	return "", fmt.Errorf("no supported SASL mechanism in %v", advertised)
}

// parseScramAttributes splits "k1=v1,k2=v2,..." into a map. Values may
// themselves contain '=' (base64), so only the first '=' splits.
func parseScramAttributes(s string) (map[string]string, error) {
	attrs := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok || len(k) != 1 {
			return nil, fmt.Errorf("malformed SCRAM attribute %q", part)
		}
		attrs[k] = v
	}
	return attrs, nil
}

func hmacSHA256(key []byte, message string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}
