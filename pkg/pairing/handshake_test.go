package pairing

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/backkem/keyturner/pkg/command"
	"github.com/backkem/keyturner/pkg/crypto"
	"github.com/backkem/keyturner/pkg/message"
)

// Curve25519 keys from RFC 7748 section 6.1.
const (
	clientPrivateHex = "77076d0a7318a57d3c16c17251b26645df4c2f87ebc0992ab177fba51db92c2a"
	clientPublicHex  = "8520f0098930a754748b7ddcb43ef75a0dbf3a0d26381af4eba4a98eaa9b4e6a"
	lockPrivateHex   = "5dab087e624a8a4b79e17f8b83800ee66f3bb1292618b6fd1c2f8b27ff88e0eb"
	lockPublicHex    = "de9edb7d7b7dc1b4d35b61c2ece435373f8343c85b78674dadfc7e146f882b4f"

	// Reference values for the scripted exchange below.
	sharedKeyHex        = "1b27556473e985d462cd51197a9a46c76009549eac6474f206c4ee0844f68389"
	authenticatorHex    = "eb62bd8f4f57f57d960b2536e6ef3808833be0a13a9ce958c8552b72bbac7c56"
	authDataHMACHex     = "bf97cb273511c03725b2ef5d9ed8684b1b3f9cdb6526daaba733b00fdad040d8"
	confirmationHMACHex = "a084daf163a5b50005339332b824c647e03e6fcb1039d844e7c823ec7cfdc111"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func fixedKeyPair(t *testing.T, privHex string) *crypto.KeyPair {
	t.Helper()
	var priv [32]byte
	copy(priv[:], mustHex(t, privHex))
	kp, err := crypto.KeyPairFromPrivate(priv)
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func fill(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func deterministicHandshake(t *testing.T) *Handshake {
	t.Helper()
	h, err := NewHandshake(Config{
		Name:    "keyturner-test",
		IDType:  IDTypeApp,
		AppID:   0x01020304,
		KeyPair: fixedKeyPair(t, clientPrivateHex),
		Rand:    bytes.NewReader(fill(0x22)),
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func expectFrame(t *testing.T, got *message.Frame, cmd command.Command) {
	t.Helper()
	if got == nil {
		t.Fatalf("expected %s, got nothing", cmd)
	}
	if got.Command != cmd {
		t.Fatalf("expected %s, got %s", cmd, got.Command)
	}
}

func TestHandshake_ReferenceVectors(t *testing.T) {
	h := deterministicHandshake(t)
	now := time.Unix(1000, 0)

	out, err := h.Start(now)
	if err != nil {
		t.Fatal(err)
	}
	expectFrame(t, out, command.RequestData)
	if !bytes.Equal(out.Payload, []byte{0x03, 0x00}) {
		t.Fatalf("RequestData payload = % x", out.Payload)
	}
	if h.State() != StateAwaitRemotePublicKey {
		t.Fatalf("state = %s", h.State())
	}

	// Idle polls leave the wait state alone.
	if out, err := h.Step(nil); out != nil || err != nil {
		t.Fatalf("idle Step = %v, %v", out, err)
	}

	out, err = h.Step(&message.Frame{Command: command.PublicKey, Payload: mustHex(t, lockPublicHex)})
	if err != nil {
		t.Fatal(err)
	}
	expectFrame(t, out, command.PublicKey)
	if hex.EncodeToString(out.Payload) != clientPublicHex {
		t.Fatalf("local public key = %x", out.Payload)
	}
	if h.State() != StateAwaitChallenge {
		t.Fatalf("state = %s", h.State())
	}
	if hex.EncodeToString(h.key[:]) != sharedKeyHex {
		t.Fatalf("shared key = %x, want %s", h.key, sharedKeyHex)
	}

	out, err = h.Step(&message.Frame{Command: command.Challenge, Payload: fill(0x11)})
	if err != nil {
		t.Fatal(err)
	}
	expectFrame(t, out, command.AuthorizationAuthenticator)
	if hex.EncodeToString(out.Payload) != authenticatorHex {
		t.Fatalf("authenticator = %x", out.Payload)
	}

	out, err = h.Step(&message.Frame{Command: command.Challenge, Payload: fill(0x33)})
	if err != nil {
		t.Fatal(err)
	}
	expectFrame(t, out, command.AuthorizationData)
	data, err := DecodeAuthorizationData(out.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(data.Authenticator[:]) != authDataHMACHex {
		t.Fatalf("authorization data authenticator = %x", data.Authenticator)
	}
	if data.Name != "keyturner-test" || data.AppID != 0x01020304 || data.IDType != IDTypeApp {
		t.Fatalf("authorization data = %+v", data)
	}
	if !bytes.Equal(data.Nonce[:], fill(0x22)) {
		t.Fatalf("client nonce = %x", data.Nonce)
	}

	deviceUUID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	rec := AuthorizationID{AuthID: 0x0A0B0C0D, DeviceUUID: deviceUUID}
	copy(rec.Nonce[:], fill(0x44))
	payload, err := rec.Encode()
	if err != nil {
		t.Fatal(err)
	}
	out, err = h.Step(&message.Frame{Command: command.AuthorizationID, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	expectFrame(t, out, command.AuthorizationIDConfirmation)
	conf, err := DecodeAuthorizationIDConfirmation(out.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(conf.Authenticator[:]) != confirmationHMACHex || conf.AuthID != 0x0A0B0C0D {
		t.Fatalf("confirmation = %x / %x", conf.Authenticator, conf.AuthID)
	}
	if !bytes.Equal(out.Payload[32:], []byte{0x0D, 0x0C, 0x0B, 0x0A}) {
		t.Fatalf("auth id not little-endian: % x", out.Payload[32:])
	}

	if _, err := h.Result(); !errors.Is(err, ErrNotComplete) {
		t.Fatalf("Result before Success: %v", err)
	}

	out, err = h.Step(message.NewStatus(command.StatusComplete))
	if err != nil || out != nil {
		t.Fatalf("final Step = %v, %v", out, err)
	}
	if h.State() != StateSuccess {
		t.Fatalf("state = %s", h.State())
	}

	res, err := h.Result()
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(res.Key[:]) != sharedKeyHex || res.AuthID != 0x0A0B0C0D || res.DeviceUUID != deviceUUID {
		t.Fatalf("result = %x %x %s", res.Key, res.AuthID, res.DeviceUUID)
	}

	if h.keys.Private != [32]byte{} {
		t.Error("ephemeral private key not zeroized on success")
	}
	h.Zeroize()
	if h.key != [32]byte{} {
		t.Error("Zeroize left the key")
	}
}

func TestHandshake_IgnoresUnexpectedFrames(t *testing.T) {
	h := deterministicHandshake(t)
	if _, err := h.Start(time.Now()); err != nil {
		t.Fatal(err)
	}

	for _, f := range []*message.Frame{
		{Command: command.Challenge, Payload: fill(0x11)},
		message.NewStatus(command.StatusComplete),
		{Command: command.KeyturnerStates},
	} {
		out, err := h.Step(f)
		if out != nil || err != nil {
			t.Fatalf("Step(%s) = %v, %v", f.Command, out, err)
		}
		if h.State() != StateAwaitRemotePublicKey {
			t.Fatalf("Step(%s) moved to %s", f.Command, h.State())
		}
	}
}

func TestHandshake_MalformedKeepsState(t *testing.T) {
	h := deterministicHandshake(t)
	if _, err := h.Start(time.Now()); err != nil {
		t.Fatal(err)
	}

	_, err := h.Step(&message.Frame{Command: command.PublicKey, Payload: []byte{1, 2, 3}})
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("err = %v, want ErrInvalidMessage", err)
	}
	if h.State() != StateAwaitRemotePublicKey {
		t.Fatalf("state = %s", h.State())
	}

	// The well-formed key is still accepted afterwards.
	out, err := h.Step(&message.Frame{Command: command.PublicKey, Payload: mustHex(t, lockPublicHex)})
	if err != nil {
		t.Fatal(err)
	}
	expectFrame(t, out, command.PublicKey)
}

func TestHandshake_LowOrderPeerKeyFails(t *testing.T) {
	h := deterministicHandshake(t)
	if _, err := h.Start(time.Now()); err != nil {
		t.Fatal(err)
	}
	_, err := h.Step(&message.Frame{Command: command.PublicKey, Payload: make([]byte, 32)})
	if err == nil {
		t.Fatal("expected error for all-zero public key")
	}
	if h.State() != StateFailed {
		t.Fatalf("state = %s, want Failed", h.State())
	}
}

func TestHandshake_PeerError(t *testing.T) {
	h := deterministicHandshake(t)
	if _, err := h.Start(time.Now()); err != nil {
		t.Fatal(err)
	}

	_, err := h.Step(message.NewErrorReport(command.ErrorNotPairing, command.RequestData))
	if !errors.Is(err, ErrPeerError) {
		t.Fatalf("err = %v, want ErrPeerError", err)
	}
	if h.State() != StateFailed {
		t.Fatalf("state = %s", h.State())
	}
	code, ok := h.PeerError()
	if !ok || code != command.ErrorNotPairing {
		t.Fatalf("PeerError() = %v, %v", code, ok)
	}

	// Terminal states ignore further input.
	if out, err := h.Step(&message.Frame{Command: command.PublicKey, Payload: mustHex(t, lockPublicHex)}); out != nil || err != nil {
		t.Fatalf("Step after Failed = %v, %v", out, err)
	}
}

func TestHandshake_Expire(t *testing.T) {
	h, err := NewHandshake(Config{Name: "t", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Unix(0, 0)
	if h.Expire(start.Add(time.Hour)) {
		t.Fatal("Expire before Start")
	}
	if _, err := h.Start(start); err != nil {
		t.Fatal(err)
	}
	if h.Expire(start.Add(4 * time.Second)) {
		t.Fatal("expired early")
	}
	if !h.Expire(start.Add(5 * time.Second)) {
		t.Fatal("did not expire at budget")
	}
	if h.State() != StateTimeout {
		t.Fatalf("state = %s", h.State())
	}
	if h.keys.Private != [32]byte{} {
		t.Error("key material not zeroized on timeout")
	}
	if h.Expire(start.Add(time.Hour)) {
		t.Error("Expire reported twice")
	}
}

func TestHandshake_StartOnce(t *testing.T) {
	h, err := NewHandshake(Config{Name: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Step(nil); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Step before Start: %v", err)
	}
	if _, err := h.Start(time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Start(time.Now()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second Start: %v", err)
	}
}

func TestHandshake_AgainstResponder(t *testing.T) {
	deviceUUID := uuid.New()
	lock, err := NewResponder(ResponderConfig{DeviceUUID: deviceUUID})
	if err != nil {
		t.Fatal(err)
	}
	h, err := NewHandshake(Config{Name: "integration", IDType: IDTypeBridge, AppID: 42})
	if err != nil {
		t.Fatal(err)
	}

	out, err := h.Start(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; out != nil && i < 10; i++ {
		// Send through the plain codec to exercise the CRC path.
		wire, err := message.EncodePlain(out.Command, out.Payload)
		if err != nil {
			t.Fatal(err)
		}
		in, err := message.DecodePlain(wire)
		if err != nil {
			t.Fatal(err)
		}
		reply, err := lock.Handle(in)
		if err != nil {
			t.Fatalf("responder rejected %s: %v", in.Command, err)
		}
		out, err = h.Step(reply)
		if err != nil {
			t.Fatal(err)
		}
	}

	if h.State() != StateSuccess || !lock.Complete() {
		t.Fatalf("client %s, lock complete %v", h.State(), lock.Complete())
	}
	a, _ := h.Result()
	b, _ := lock.Result()
	if a.Key != b.Key || a.AuthID != b.AuthID || a.DeviceUUID != deviceUUID {
		t.Fatal("client and lock disagree on credentials")
	}
	if lock.Client().Name != "integration" || lock.Client().IDType != IDTypeBridge || lock.Client().AppID != 42 {
		t.Fatalf("lock saw client %+v", lock.Client())
	}
}

func TestResponder_RejectsBadAuthenticator(t *testing.T) {
	lock, err := NewResponder(ResponderConfig{KeyPair: fixedKeyPair(t, lockPrivateHex), AuthID: 7})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lock.Handle(&message.Frame{Command: command.RequestData, Payload: []byte{0x03, 0x00}}); err != nil {
		t.Fatal(err)
	}
	if _, err := lock.Handle(&message.Frame{Command: command.PublicKey, Payload: mustHex(t, clientPublicHex)}); err != nil {
		t.Fatal(err)
	}

	reply, err := lock.Handle(&message.Frame{Command: command.AuthorizationAuthenticator, Payload: fill(0)})
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
	code, ok := reply.ErrorCode()
	if !ok || code != command.ErrorBadAuthenticator {
		t.Fatalf("reply = %v", reply)
	}

	// Out-of-order messages are rejected as bad parameters.
	reply, err = lock.Handle(message.NewStatus(command.StatusComplete))
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("err = %v", err)
	}
	if code, _ := reply.ErrorCode(); code != command.ErrorBadParameterP {
		t.Fatalf("code = %s", code)
	}
}

func TestRecords_RejectBadLengths(t *testing.T) {
	if _, err := DecodeAuthorizationData(make([]byte, 100)); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("AuthorizationData: %v", err)
	}
	if _, err := DecodeAuthorizationID(make([]byte, 83)); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("AuthorizationID: %v", err)
	}
	if _, err := DecodeAuthorizationIDConfirmation(make([]byte, 37)); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("AuthorizationIDConfirmation: %v", err)
	}

	d := AuthorizationData{Name: "a name that is much longer than thirty-two bytes"}
	raw, err := d.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 101 {
		t.Fatalf("len = %d, want 101", len(raw))
	}
	back, err := DecodeAuthorizationData(raw)
	if err != nil {
		t.Fatal(err)
	}
	if back.Name != d.Name[:NameSize] {
		t.Errorf("name = %q", back.Name)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateInitPairing:                     "InitPairing",
		StateSendAuthorizationIDConfirmation: "SendAuthorizationIDConfirmation",
		StateSuccess:                         "Success",
		StateFailed:                          "Failed",
		State(99):                            "Unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
	if !StateTimeout.IsTerminal() || StateAwaitFinalStatus.IsTerminal() {
		t.Error("IsTerminal mismatch")
	}
	if IDTypeFob.String() != "Fob" {
		t.Error("IDType name")
	}
}
