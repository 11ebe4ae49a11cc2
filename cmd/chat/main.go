package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/HaseebHub0/Decentralised-End-to-End-Encrypted-Collaboration-Platform/cli"
	"github.com/HaseebHub0/Decentralised-End-to-End-Encrypted-Collaboration-Platform/net"
)

func main() {
	color.NoColor = !term.IsTerminal(int(os.Stdout.Fd()))

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Relay server [localhost:3001]: ")
	addr, _ := reader.ReadString('\n')
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = "localhost:3001"
	}

	fmt.Print("Username: ")
	username, _ := reader.ReadString('\n')
	username = strings.TrimSpace(username)
	if username == "" {
		color.Red("A username is required.")
		os.Exit(1)
	}

	client, err := net.Dial(addr)
	if err != nil {
		color.Red("Could not connect to relay: %v", err)
		os.Exit(1)
	}
	defer client.Close()

	app, err := cli.NewApp(client, username)
	if err != nil {
		color.Red("Session setup failed: %v", err)
		os.Exit(1)
	}
	color.Green("Connected as %s. Messages are end-to-end encrypted.", username)
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
