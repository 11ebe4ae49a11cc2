// Package cli implements the interactive terminal client for the relay.
package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/HaseebHub0/Decentralised-End-to-End-Encrypted-Collaboration-Platform/common"
	"github.com/HaseebHub0/Decentralised-End-to-End-Encrypted-Collaboration-Platform/net"
	"github.com/HaseebHub0/Decentralised-End-to-End-Encrypted-Collaboration-Platform/pkg/e2ee"
)

// App is one interactive chat session: a relay connection, an ephemeral key
// pair, and the derived session keys per peer.
type App struct {
	client   *net.Client
	self     string
	keys     *e2ee.KeyPair
	sessions *e2ee.SessionManager

	mu        sync.Mutex
	users     []string
	offered   map[string]bool // peers we already sent our key to
	currentTo string

	rl *readline.Instance
}

// NewApp registers username on the relay and prepares the session state.
func NewApp(client *net.Client, username string) (*App, error) {
	keys, err := e2ee.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := client.Register(username); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &App{
		client:   client,
		self:     username,
		keys:     keys,
		sessions: e2ee.NewSessionManager(0),
		offered:  make(map[string]bool),
	}, nil
}

// Run drives the read goroutine and the input loop until /exit or the
// relay connection drops.
func (a *App) Run() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          a.prompt(),
		HistoryFile:     "/tmp/chat_history.log",
		AutoComplete:    a.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "/exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	a.rl = rl
	defer rl.Close()

	done := make(chan error, 1)
	go func() { done <- a.readFrames() }()

	printHelp()
	for {
		select {
		case err := <-done:
			return err
		default:
		}
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		if !a.dispatch(strings.TrimSpace(line)) {
			return nil
		}
		rl.SetPrompt(a.prompt())
	}
}

func (a *App) dispatch(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	switch parts[0] {
	case "/help":
		printHelp()
	case "/exit":
		return false
	case "/list":
		a.mu.Lock()
		users := append([]string(nil), a.users...)
		a.mu.Unlock()
		color.Cyan("Online users:")
		for _, u := range users {
			fmt.Println(" -", u)
		}
	case "/to":
		if len(parts) != 2 {
			color.Red("Usage: /to <user>")
		} else {
			a.currentTo = parts[1]
			color.Green("Recipient: %s", a.currentTo)
		}
	case "/key":
		if len(parts) != 2 {
			color.Red("Usage: /key <user>")
		} else if err := a.offerKey(parts[1]); err != nil {
			color.Red("Key exchange with %s failed: %v", parts[1], err)
		}
	default:
		if strings.HasPrefix(parts[0], "@") && len(parts) > 1 {
			to := strings.TrimPrefix(parts[0], "@")
			a.sendChat(to, strings.Join(parts[1:], " "))
		} else if a.currentTo != "" {
			a.sendChat(a.currentTo, line)
		} else {
			color.Red("Pick a recipient first: /to <user> or @user <msg>")
		}
	}
	return true
}

func (a *App) sendChat(to, text string) {
	key, ok := a.sessions.Get(to)
	if !ok {
		color.Yellow("No session with %s yet, sending key exchange. Retry once it completes.", to)
		if err := a.offerKey(to); err != nil {
			color.Red("Key exchange with %s failed: %v", to, err)
		}
		return
	}
	content, err := e2ee.Encrypt(key, []byte(text))
	if err != nil {
		color.Red("Encrypt failed: %v", err)
		return
	}
	if err := a.client.SendChat(to, content); err != nil {
		color.Red("Send failed: %v", err)
	}
}

func (a *App) offerKey(to string) error {
	a.mu.Lock()
	a.offered[to] = true
	a.mu.Unlock()
	return a.client.SendPublicKey(to, a.keys.PublicKey())
}

// readFrames handles everything the relay pushes at us.
func (a *App) readFrames() error {
	for {
		f, err := a.client.Next()
		if err != nil {
			color.Red("Connection to relay lost: %v", err)
			return err
		}
		switch f.Type {
		case common.TypeStatus:
			a.mu.Lock()
			a.users = f.Users
			a.mu.Unlock()
		case common.TypeKeyExchange:
			a.handleKeyExchange(f)
		case common.TypeChat:
			a.handleChat(f)
		case common.TypeError:
			color.Red("Relay: %s", f.Error)
		}
	}
}

func (a *App) handleKeyExchange(f common.Frame) {
	var peerKey string
	if err := json.Unmarshal(f.PublicKey, &peerKey); err != nil {
		color.Red("Bad key exchange from %s: %v", f.From, err)
		return
	}
	key, err := a.keys.DeriveSharedKey(peerKey)
	if err != nil {
		color.Red("Key exchange with %s failed: %v", f.From, err)
		return
	}
	a.sessions.Set(f.From, key)
	a.mu.Lock()
	answered := a.offered[f.From]
	a.offered[f.From] = true
	a.mu.Unlock()
	if !answered {
		// Reply with our key exactly once so both sides hold the session.
		if err := a.client.SendPublicKey(f.From, a.keys.PublicKey()); err != nil {
			color.Red("Key reply to %s failed: %v", f.From, err)
			return
		}
	}
	color.Green(">> Secure session established with %s", f.From)
}

func (a *App) handleChat(f common.Frame) {
	key, ok := a.sessions.Get(f.From)
	if !ok {
		color.Yellow("Message from %s but no session key; ask them to /key you again.", f.From)
		return
	}
	var content common.EncryptedContent
	if err := json.Unmarshal(f.EncryptedContent, &content); err != nil {
		color.Red("Bad message from %s: %v", f.From, err)
		return
	}
	plaintext, err := e2ee.Decrypt(key, content)
	if err != nil {
		color.Red("Could not decrypt message from %s: %v", f.From, err)
		return
	}
	fmt.Printf("%s %s\n", color.CyanString("["+f.From+"]>"), string(plaintext))
}

func (a *App) prompt() string {
	if a.currentTo == "" {
		return color.GreenString("%s> ", a.self)
	}
	return color.GreenString("%s@%s> ", a.self, a.currentTo)
}

func (a *App) completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("/help"),
		readline.PcItem("/list"),
		readline.PcItem("/to", readline.PcItemDynamic(a.userNames)),
		readline.PcItem("/key", readline.PcItemDynamic(a.userNames)),
		readline.PcItem("/exit"),
		readline.PcItem("@", readline.PcItemDynamic(a.userNames)),
	)
}

func (a *App) userNames(string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.users...)
}

func printHelp() {
	color.Magenta("Commands:")
	fmt.Println("  /help         - Show this help")
	fmt.Println("  /list         - List online users")
	fmt.Println("  /to <user>    - Pick the default recipient")
	fmt.Println("  /key <user>   - Run a key exchange with a user")
	fmt.Println("  @user <msg>   - Send an encrypted message to a user")
	fmt.Println("  /exit         - Quit")
}
