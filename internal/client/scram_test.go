package client

import (
	"strings"
	"testing"
)

// Known exchange for password "pencil" with the client nonce pinned to the
// RFC 7677 example value.
const (
	scramTestClientNonce = "rOprNGfwEbeRWgbNEkqO"
	scramTestServerFirst = "r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0," +
		"s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"
	scramTestClientFinal = "c=biws,r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0," +
		"p=qvT2SWdEH5Q06albL+hjSYuUhCG7VndFyzIb7CK4n9k="
	scramTestServerFinal = "v=3HO6Qt1M4MKJrmlKaoOqLAI0/0TV0HZe7J9H3MBtSOg="
)

func pinnedScramClient() *scramClient {
	s := &scramClient{password: "pencil", clientNonce: scramTestClientNonce}
	s.clientFirstMessage()
	return s
}

func TestScramClientFirstMessage(t *testing.T) {
	s := pinnedScramClient()
	got := string(s.clientFirstMessage())
	want := "n,,n=,r=" + scramTestClientNonce
	if got != want {
		t.Errorf("client-first = %q, want %q", got, want)
	}
}

func TestScramKnownExchange(t *testing.T) {
	s := pinnedScramClient()

	final, err := s.handleServerFirst([]byte(scramTestServerFirst))
	if err != nil {
		t.Fatalf("handleServerFirst: %v", err)
	}
	if string(final) != scramTestClientFinal {
		t.Errorf("client-final = %q\nwant %q", final, scramTestClientFinal)
	}

	if err := s.verifyServerFinal([]byte(scramTestServerFinal)); err != nil {
		t.Errorf("verifyServerFinal: %v", err)
	}
}

func TestScramRejectsTamperedServerSignature(t *testing.T) {
	s := pinnedScramClient()
	if _, err := s.handleServerFirst([]byte(scramTestServerFirst)); err != nil {
		t.Fatalf("handleServerFirst: %v", err)
	}

	tampered := "v=" + strings.Repeat("A", 43) + "="
	if err := s.verifyServerFinal([]byte(tampered)); err == nil {
		t.Error("expected signature mismatch error")
	}
}

func TestScramReportsServerError(t *testing.T) {
	s := pinnedScramClient()
	err := s.verifyServerFinal([]byte("e=other-error"))
	if err == nil || !strings.Contains(err.Error(), "other-error") {
		t.Errorf("err = %v, want SASL error carrying e value", err)
	}
}

func TestScramRejectsNonExtendingNonce(t *testing.T) {
	s := pinnedScramClient()

	cases := map[string]string{
		"unrelated nonce": "r=somethingelse,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096",
		"unextended":      "r=" + scramTestClientNonce + ",s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096",
	}
	for name, serverFirst := range cases {
		if _, err := s.handleServerFirst([]byte(serverFirst)); err == nil {
			t.Errorf("%s: expected nonce error", name)
		}
	}
}

func TestScramRejectsBadServerFirst(t *testing.T) {
	s := pinnedScramClient()

	cases := map[string]string{
		"bad salt":       "r=" + scramTestClientNonce + "XX,s=!!!,i=4096",
		"bad iterations": "r=" + scramTestClientNonce + "XX,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=zero",
		"zero iteration": "r=" + scramTestClientNonce + "XX,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=0",
		"malformed":      "not-an-attribute-list",
	}
	for name, serverFirst := range cases {
		if _, err := s.handleServerFirst([]byte(serverFirst)); err == nil {
			t.Errorf("%s: expected parse error", name)
		}
	}
}

func TestNewScramClientNonceIsUnique(t *testing.T) {
	a, err := newScramClient("secret")
	if err != nil {
		t.Fatalf("newScramClient: %v", err)
	}
	b, err := newScramClient("secret")
	if err != nil {
		t.Fatalf("newScramClient: %v", err)
	}
	if a.clientNonce == b.clientNonce {
		t.Error("client nonces collided")
	}
	if len(a.clientNonce) < 20 {
		t.Errorf("nonce %q too short", a.clientNonce)
	}
}

func TestChooseSASLMechanism(t *testing.T) {
	mech, err := chooseSASLMechanism([]byte("SCRAM-SHA-256-PLUS\x00SCRAM-SHA-256\x00\x00"))
	if err != nil {
		t.Fatalf("chooseSASLMechanism: %v", err)
	}
	if mech != "SCRAM-SHA-256" {
		t.Errorf("mechanism = %q", mech)
	}

	if _, err := chooseSASLMechanism([]byte("SCRAM-SHA-256-PLUS\x00\x00")); err == nil {
		t.Error("expected error when only -PLUS is advertised")
	}
}

func TestMD5Response(t *testing.T) {
	got, err := md5Response("postgres", "supersecret", []byte{0x13, 0x37, 0xbe, 0xef})
	if err != nil {
		t.Fatalf("md5Response: %v", err)
	}
	want := "md575b8dc7e9b73746bcb163096b596793b"
	if got != want {
		t.Errorf("md5 response = %q, want %q", got, want)
	}

	if _, err := md5Response("postgres", "supersecret", []byte{1, 2}); err == nil {
		t.Error("expected error for short salt")
	}
}

func TestCleartextResponse(t *testing.T) {
	if got := cleartextResponse("hunter2"); got != "hunter2" {
		t.Errorf("cleartext response = %q", got)
	}
}
