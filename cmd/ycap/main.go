// Command ycap is a terminal client for the mail server: sign up,
// send, list, fetch and delete mail over the wire protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.io/infrasutra/ycap/internal/client"
	"github.io/infrasutra/ycap/internal/config"
	"github.io/infrasutra/ycap/internal/crypt"
	"github.io/infrasutra/ycap/internal/protocol"
)

const usage = `usage: ycap <command> [args]

commands:
  signup                     create a mailbox
  send <to> <type> <body>    send a message
  list [sent]                list inbox (or sent) message ids
  fetch <id>                 print one message
  delete <id>                delete a message for both parties
  noop                       keepalive round trip

environment: YCAP_HOST, YCAP_PORT, YCAP_MASTER_KEY, YCAP_ADDRESS,
YCAP_PASSWORD (prompted when unset).`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ycap:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	masterKey, err := crypt.ParseMasterKey(cfg.MasterKey)
	if err != nil {
		return err
	}

	address := os.Getenv("YCAP_ADDRESS")
	if address == "" {
		return errors.New("YCAP_ADDRESS is not set")
	}
	address = protocol.QualifyAddress(address, cfg.Domain)

	password, err := getPassword()
	if err != nil {
		return err
	}

	ctx := context.Background()
	serverAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	if args[0] == "signup" {
		if err := client.SignUp(ctx, serverAddr, address, password, masterKey); err != nil {
			return err
		}
		fmt.Println("mailbox created:", address)
		return nil
	}

	c, err := client.Dial(ctx, serverAddr, address, password, masterKey)
	if err != nil {
		return err
	}
	defer c.Quit()

	switch args[0] {
	case "send":
		if len(args) != 4 {
			return errors.New("send expects <to> <type> <body>")
		}
		to := protocol.QualifyAddress(args[1], cfg.Domain)
		id, err := c.Send(to, args[2], args[3])
		if err != nil {
			return err
		}
		fmt.Println("sent:", id)
		return nil

	case "list":
		sent := len(args) > 1 && args[1] == "sent"
		ids, err := c.List(sent)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("no mail")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil

	case "fetch":
		if len(args) != 2 {
			return errors.New("fetch expects <id>")
		}
		mail, err := c.Fetch(args[1])
		if err != nil {
			return err
		}
		fmt.Printf("id:   %s\nfrom: %s\nto:   %s\ntype: %s\n\n%s\n",
			mail.ID, mail.From, mail.To, mail.Type, mail.Body)
		return nil

	case "delete":
		if len(args) != 2 {
			return errors.New("delete expects <id>")
		}
		if err := c.Delete(args[1]); err != nil {
			return err
		}
		fmt.Println("deleted:", args[1])
		return nil

	case "noop":
		if err := c.Noop(); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil

	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
		return nil
	}
}

func getPassword() (string, error) {
	if password := os.Getenv("YCAP_PASSWORD"); password != "" {
		return password, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}
