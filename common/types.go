package common

import "encoding/json"

// Frame types accepted from clients.
const (
	TypeRegister    = "register"
	TypeChat        = "chat"
	TypeKeyExchange = "keyexchange"
)

// Frame types emitted by the relay.
const (
	TypeStatus = "status"
	TypeError  = "error"
)

// Error messages sent back to a sender when a forward cannot be delivered.
const (
	ErrRecipientOffline   = "Recipient offline or unavailable"
	ErrKeyExchangeOffline = "Key exchange failed: recipient unavailable"
)

// Frame is a single JSON message on the wire, discriminated by Type.
// EncryptedContent and PublicKey are ciphertext the relay carries verbatim;
// they are kept as raw JSON so forwarding never re-encodes them.
type Frame struct {
	Type             string          `json:"type"`
	Username         string          `json:"username,omitempty"`
	From             string          `json:"from,omitempty"`
	To               string          `json:"to,omitempty"`
	EncryptedContent json.RawMessage `json:"encryptedContent,omitempty"`
	PublicKey        json.RawMessage `json:"publicKey,omitempty"`
	Users            []string        `json:"users,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// EncryptedContent is the typed form of the chat payload. Only clients use
// it; the relay never looks inside.
type EncryptedContent struct {
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
}
