// Command channel-client dials a channel-server, completes the initiator
// side of the XX handshake, optionally presents a signed identity
// certificate, then echoes stdin lines over the secure channel.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/noiselink/noiselink-core/channel"
	"github.com/noiselink/noiselink-core/handshake"
	"github.com/noiselink/noiselink-core/internal/identity"
	"github.com/noiselink/noiselink-core/vault"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:4433", "channel-server address")
	issuer := flag.String("identity-issuer", "", "identity authority issuer name")
	secret := flag.String("identity-secret", "", "identity authority shared secret")
	subject := flag.String("identity-subject", "channel-client", "subject name to certify this client's static key under")
	flag.Parse()

	log.Printf("🚀 Connecting to %s...", *addr)

	v := vault.NewSoftwareVault()
	ctx := context.Background()

	staticPriv, staticPub, err := v.GenerateX25519Key(ctx)
	if err != nil {
		log.Fatalf("Failed to generate static identity key: %v", err)
	}
	log.Printf("Static identity public key: %s", hex.EncodeToString(staticPub[:]))

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	ch, err := channel.New(conn, v, handshake.Initiator, staticPriv, staticPub, nil)
	if err != nil {
		log.Fatalf("Failed to init channel: %v", err)
	}

	if err := ch.Connect(ctx); err != nil {
		log.Fatalf("Handshake failed: %v", err)
	}
	defer ch.Close()
	log.Println("✅ Secure channel established")

	if *secret != "" {
		authority := identity.NewAuthority(*issuer, *secret, time.Hour)
		cert, err := authority.IssueCertificate(*subject, staticPub)
		if err != nil {
			log.Fatalf("Failed to issue identity certificate: %v", err)
		}
		if err := ch.Send(ctx, []byte(cert)); err != nil {
			log.Fatalf("Failed to send identity certificate: %v", err)
		}
	}

	fmt.Println("Type a line and press enter to send it over the secure channel; Ctrl-D to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if err := ch.Send(ctx, []byte(line)); err != nil {
			log.Fatalf("Send failed: %v", err)
		}
		reply, err := ch.Receive(ctx)
		if err != nil {
			log.Fatalf("Receive failed: %v", err)
		}
		fmt.Printf("echo: %s\n", string(reply))
	}
}
