package net

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HaseebHub0/Decentralised-End-to-End-Encrypted-Collaboration-Platform/common"
)

const frameWait = 2 * time.Second

func newTestRelay(t *testing.T, pingInterval time.Duration) string {
	t.Helper()
	return newTestRelayCfg(t, Config{PingInterval: pingInterval})
}

func newTestRelayCfg(t *testing.T, cfg Config) string {
	t.Helper()
	cfg.Logger = zap.NewNop()
	s := NewServer(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func sendRaw(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func register(t *testing.T, ws *websocket.Conn, username string) {
	t.Helper()
	sendRaw(t, ws, fmt.Sprintf(`{"type":"register","username":%q}`, username))
}

// nextFrame reads one frame or fails the test after frameWait.
func nextFrame(t *testing.T, ws *websocket.Conn) common.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(frameWait)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var f common.Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

// nextOfType skips frames until one of the wanted type arrives.
func nextOfType(t *testing.T, ws *websocket.Conn, typ string) common.Frame {
	t.Helper()
	deadline := time.Now().Add(frameWait)
	for time.Now().Before(deadline) {
		f := nextFrame(t, ws)
		if f.Type == typ {
			return f
		}
	}
	t.Fatalf("no %q frame before deadline", typ)
	return common.Frame{}
}

func expectSilence(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err, "expected no frame")
}

func TestSingleRegisterPresence(t *testing.T) {
	url := newTestRelay(t, time.Minute)
	a := dialWS(t, url)

	register(t, a, "alice")
	f := nextOfType(t, a, common.TypeStatus)
	assert.Equal(t, []string{"alice"}, f.Users)
}

func TestUpgradeOnAnyPath(t *testing.T) {
	url := newTestRelay(t, time.Minute)

	// Browser-style clients dial the bare origin rather than /ws.
	root := strings.TrimSuffix(url, "/ws")
	a := dialWS(t, root)
	register(t, a, "alice")
	f := nextOfType(t, a, common.TypeStatus)
	assert.Equal(t, []string{"alice"}, f.Users)
}

func TestTwoWayPresence(t *testing.T) {
	url := newTestRelay(t, time.Minute)
	a := dialWS(t, url)
	b := dialWS(t, url)

	register(t, a, "alice")
	nextOfType(t, a, common.TypeStatus)

	register(t, b, "bob")
	fa := nextOfType(t, a, common.TypeStatus)
	fb := nextOfType(t, b, common.TypeStatus)
	assert.ElementsMatch(t, []string{"alice", "bob"}, fa.Users)
	assert.ElementsMatch(t, []string{"alice", "bob"}, fb.Users)
}

func TestChatForwardVerbatim(t *testing.T) {
	url := newTestRelay(t, time.Minute)
	a := dialWS(t, url)
	b := dialWS(t, url)
	register(t, a, "alice")
	register(t, b, "bob")
	nextOfType(t, b, common.TypeStatus)

	payload := `{"iv":"AAAA","ciphertext":"BBBB"}`
	sendRaw(t, a, `{"type":"chat","to":"bob","encryptedContent":`+payload+`}`)

	f := nextOfType(t, b, common.TypeChat)
	assert.Equal(t, "alice", f.From)
	assert.Equal(t, payload, string(f.EncryptedContent), "ciphertext must pass through byte-for-byte")

	// The sender hears nothing on a successful forward (drain its own
	// pending status frames first).
	nextOfType(t, a, common.TypeStatus)
	nextOfType(t, a, common.TypeStatus)
	expectSilence(t, a)
}

func TestRecipientOffline(t *testing.T) {
	url := newTestRelay(t, time.Minute)
	a := dialWS(t, url)
	register(t, a, "alice")

	sendRaw(t, a, `{"type":"chat","to":"bob","encryptedContent":{"iv":"X","ciphertext":"Y"}}`)
	f := nextOfType(t, a, common.TypeError)
	assert.Equal(t, common.ErrRecipientOffline, f.Error)
}

func TestKeyExchangeForwardAndOffline(t *testing.T) {
	url := newTestRelay(t, time.Minute)
	a := dialWS(t, url)
	b := dialWS(t, url)
	register(t, a, "alice")
	register(t, b, "bob")

	sendRaw(t, a, `{"type":"keyexchange","to":"bob","publicKey":"BASE64KEY"}`)
	f := nextOfType(t, b, common.TypeKeyExchange)
	assert.Equal(t, "alice", f.From)
	assert.Equal(t, `"BASE64KEY"`, string(f.PublicKey))

	sendRaw(t, a, `{"type":"keyexchange","to":"nobody","publicKey":"BASE64KEY"}`)
	fe := nextOfType(t, a, common.TypeError)
	assert.Equal(t, common.ErrKeyExchangeOffline, fe.Error)
}

func TestNameCollisionEviction(t *testing.T) {
	url := newTestRelay(t, time.Minute)
	a1 := dialWS(t, url)
	bob := dialWS(t, url)
	register(t, a1, "alice")
	register(t, bob, "bob")
	nextOfType(t, bob, common.TypeStatus)

	a2 := dialWS(t, url)
	register(t, a2, "alice")

	// The old connection is closed by the relay.
	require.NoError(t, a1.SetReadDeadline(time.Now().Add(frameWait)))
	for {
		_, _, err := a1.ReadMessage()
		if err != nil {
			break
		}
	}

	// Exactly one status reaches the bystander, with "alice" exactly once.
	f := nextOfType(t, bob, common.TypeStatus)
	assert.ElementsMatch(t, []string{"alice", "bob"}, f.Users)
	expectSilence(t, bob)

	// The new occupant still routes.
	sendRaw(t, bob, `{"type":"chat","to":"alice","encryptedContent":{"iv":"A","ciphertext":"B"}}`)
	fc := nextOfType(t, a2, common.TypeChat)
	assert.Equal(t, "bob", fc.From)
}

func TestEvictedCloseKeepsSuccessorBound(t *testing.T) {
	url := newTestRelay(t, time.Minute)
	a1 := dialWS(t, url)
	register(t, a1, "alice")
	nextOfType(t, a1, common.TypeStatus)

	a2 := dialWS(t, url)
	register(t, a2, "alice")
	nextOfType(t, a2, common.TypeStatus)

	// Explicitly close the evicted socket as well; the compare-and-remove
	// rule must leave the successor's entry alone.
	_ = a1.Close()
	time.Sleep(100 * time.Millisecond)

	probe := dialWS(t, url)
	register(t, probe, "probe")
	sendRaw(t, probe, `{"type":"chat","to":"alice","encryptedContent":{"iv":"A","ciphertext":"B"}}`)
	f := nextOfType(t, a2, common.TypeChat)
	assert.Equal(t, "probe", f.From)
}

func TestReRegisterSameNameIdempotent(t *testing.T) {
	url := newTestRelay(t, time.Minute)
	a := dialWS(t, url)
	register(t, a, "alice")
	nextOfType(t, a, common.TypeStatus)

	register(t, a, "alice")
	f := nextOfType(t, a, common.TypeStatus)
	assert.Equal(t, []string{"alice"}, f.Users)

	// Still bound and routable: self-chat round-trips.
	sendRaw(t, a, `{"type":"chat","to":"alice","encryptedContent":{"iv":"A","ciphertext":"B"}}`)
	fc := nextOfType(t, a, common.TypeChat)
	assert.Equal(t, "alice", fc.From)
}

func TestEmptyUsernameRegisterIgnored(t *testing.T) {
	url := newTestRelay(t, time.Minute)
	a := dialWS(t, url)
	sendRaw(t, a, `{"type":"register"}`)
	sendRaw(t, a, `{"type":"register","username":""}`)

	// No directory change, no broadcast: a is not bound, so the next
	// registration's status never reaches it.
	b := dialWS(t, url)
	register(t, b, "bob")
	f := nextOfType(t, b, common.TypeStatus)
	assert.Equal(t, []string{"bob"}, f.Users)
	expectSilence(t, a)
}

func TestChatBeforeRegister(t *testing.T) {
	url := newTestRelay(t, time.Minute)
	b := dialWS(t, url)
	register(t, b, "bob")
	nextOfType(t, b, common.TypeStatus)

	anon := dialWS(t, url)
	sendRaw(t, anon, `{"type":"chat","to":"bob","encryptedContent":{"iv":"A","ciphertext":"B"}}`)
	f := nextOfType(t, b, common.TypeChat)
	assert.Empty(t, f.From)
	assert.Equal(t, `{"iv":"A","ciphertext":"B"}`, string(f.EncryptedContent))
}

func TestMalformedFramesTolerated(t *testing.T) {
	url := newTestRelay(t, time.Minute)
	a := dialWS(t, url)

	sendRaw(t, a, `this is not json`)
	sendRaw(t, a, `{"type":"chat"}`)                     // missing to/encryptedContent
	sendRaw(t, a, `{"type":"somethingelse","to":"bob"}`) // unknown type

	// The connection survives all of it.
	register(t, a, "alice")
	f := nextOfType(t, a, common.TypeStatus)
	assert.Equal(t, []string{"alice"}, f.Users)
}

func TestSenderDeclaredFromIgnored(t *testing.T) {
	url := newTestRelay(t, time.Minute)
	a := dialWS(t, url)
	b := dialWS(t, url)
	register(t, a, "alice")
	register(t, b, "bob")

	sendRaw(t, a, `{"type":"chat","to":"bob","from":"mallory","encryptedContent":{"iv":"A","ciphertext":"B"}}`)
	f := nextOfType(t, b, common.TypeChat)
	assert.Equal(t, "alice", f.From, "the relay is the source of truth for identity-of-origin")
}

func TestCongestedRecipientEvicted(t *testing.T) {
	url := newTestRelayCfg(t, Config{PingInterval: time.Minute, SendBuffer: 1})

	bob := dialWS(t, url)
	register(t, bob, "bob")
	alice := dialWS(t, url)
	register(t, alice, "alice")
	f := nextOfType(t, alice, common.TypeStatus)
	require.ElementsMatch(t, []string{"alice", "bob"}, f.Users)

	// Flood a recipient that never reads until his outbound queue
	// overflows. The payload is large enough that the flood cannot hide in
	// the socket buffers.
	payload := fmt.Sprintf(`{"iv":"AAAA","ciphertext":%q}`, strings.Repeat("B", 200000))
	const floods = 20
	for i := 0; i < floods; i++ {
		sendRaw(t, alice, `{"type":"chat","to":"bob","encryptedContent":`+payload+`}`)
	}

	// The congested connection is torn down and unbound: the sender sees a
	// presence update without it. Writes dropped during teardown are not
	// reported back, so strictly fewer error frames than sends arrive.
	errFrames := 0
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "congested recipient never evicted")
		require.NoError(t, alice.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := alice.ReadMessage()
		require.NoError(t, err)
		var f common.Frame
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == common.TypeError {
			require.Equal(t, common.ErrRecipientOffline, f.Error)
			errFrames++
			continue
		}
		if f.Type == common.TypeStatus && len(f.Users) == 1 && f.Users[0] == "alice" {
			break
		}
	}
	assert.Less(t, errFrames, floods, "dropped writes must not be echoed back as error frames")

	// The victim's socket was closed by the relay, not by the victim.
	require.NoError(t, bob.SetReadDeadline(time.Now().Add(frameWait)))
	_, _, err := bob.ReadMessage()
	require.Error(t, err)

	// Chatting to the evicted name now reports the recipient offline.
	sendRaw(t, alice, `{"type":"chat","to":"bob","encryptedContent":{"iv":"A","ciphertext":"B"}}`)
	fe := nextOfType(t, alice, common.TypeError)
	assert.Equal(t, common.ErrRecipientOffline, fe.Error)
}

func TestLivenessTimeout(t *testing.T) {
	url := newTestRelay(t, 50*time.Millisecond)

	carol := dialWS(t, url)
	// Swallow pings instead of answering them: a silent peer.
	carol.SetPingHandler(func(string) error { return nil })
	register(t, carol, "carol")

	dave := dialWS(t, url)
	register(t, dave, "dave")

	// Both connections keep reading so control frames are processed; dave's
	// default ping handler answers, carol's does not.
	carolGone := make(chan struct{})
	go func() {
		defer close(carolGone)
		_ = carol.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			if _, _, err := carol.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, dave.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := dave.ReadMessage()
		require.NoError(t, err, "dave should outlive carol")
		var f common.Frame
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == common.TypeStatus && len(f.Users) == 1 && f.Users[0] == "dave" {
			break
		}
	}

	select {
	case <-carolGone:
	case <-time.After(5 * time.Second):
		t.Fatal("carol's connection was not terminated")
	}
}
